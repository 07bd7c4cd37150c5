// Package stress scores free text for emotional stress. It blends a keyword lexicon with
// optional judgments from external language models and maps the result to a severity band.
package stress

import "math"

// Signal is one scoring opinion from a single source. A nil *Signal means the source could not
// produce an opinion.
type Signal struct {
	Score      int      `json:"score"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
	Source     string   `json:"source,omitempty"`
	// Emotions holds the raw label probabilities behind an emotion signal.
	Emotions []LabelScore `json:"emotions,omitempty"`
}

// Sources recorded on signals produced by this package.
const (
	SourceStructured = "structured"
	SourceIntensity  = "intensity"
	SourceEmotion    = "emotion"
)

func clampScore(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
