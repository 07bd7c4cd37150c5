package stress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// LabelScore is one class probability from an emotion classifier.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score" jsonschema:"minimum=0,maximum=1"`
}

// StressEmotions are the labels whose probabilities count towards stress. Other labels such as
// joy or neutral are reported but add nothing.
var StressEmotions = []string{"anger", "fear", "sadness", "stress"}

// EmotionReply is the reply shape requested by RequestEmotionSignal.
type EmotionReply struct {
	Emotions []LabelScore `json:"emotions"`
}

var errNoEmotions = errors.New("no emotion probabilities in reply")

// EmotionScore sums the stress-label probabilities, clamps the total to [0,1] and scales it to
// [0,100]. Labels are matched case-insensitively; a repeated label keeps its last value.
func EmotionScore(probs []LabelScore) int {
	byLabel := make(map[string]float64, len(probs))
	for _, p := range probs {
		if math.IsNaN(p.Score) || math.IsInf(p.Score, 0) {
			continue
		}
		byLabel[normalizeLabel(p.Label)] = p.Score
	}
	total := 0.0
	for _, label := range StressEmotions {
		total += byLabel[label]
	}
	return clampScore(math.Max(0, math.Min(1, total)) * 100)
}

// EmotionSignal turns a probability distribution into a Signal for the model slot. Its
// confidence is the top probability, so a flat distribution counts for less. Evidence lists the
// stress labels present, strongest first. It returns nil when probs holds no usable label.
func EmotionSignal(probs []LabelScore) *Signal {
	cleaned := make([]LabelScore, 0, len(probs))
	for _, p := range probs {
		label := normalizeLabel(p.Label)
		if label == "" || math.IsNaN(p.Score) || math.IsInf(p.Score, 0) {
			continue
		}
		cleaned = append(cleaned, LabelScore{Label: label, Score: clampConfidence(p.Score)})
	}
	if len(cleaned) == 0 {
		return nil
	}
	sort.SliceStable(cleaned, func(i, j int) bool { return cleaned[i].Score > cleaned[j].Score })

	evidence := []string{}
	for _, p := range cleaned {
		if isStressEmotion(p.Label) && p.Score > 0 {
			evidence = append(evidence, p.Label+" "+strconv.FormatFloat(p.Score, 'f', 2, 64))
		}
	}
	return &Signal{
		Score:      EmotionScore(cleaned),
		Confidence: cleaned[0].Score,
		Evidence:   evidence,
		Source:     SourceEmotion,
		Emotions:   cleaned,
	}
}

// RequestEmotionSignal asks c for emotion label probabilities and scores them with
// EmotionSignal. It returns nil when the classifier fails or its reply cannot be used.
func RequestEmotionSignal(ctx context.Context, text string, c Classifier) *Signal {
	sig, _ := requestEmotionSignal(ctx, text, c)
	return sig
}

func requestEmotionSignal(ctx context.Context, text string, c Classifier) (*Signal, error) {
	raw, err := classify(ctx, c, ClassifyRequest{
		Name:         "EmotionProbabilities",
		Instructions: emotionInstructions,
		Input:        buildSignalInput(text),
		Shape:        EmotionReply{},
	})
	if err != nil {
		return nil, err
	}
	return parseEmotionSignal(raw)
}

func parseEmotionSignal(raw string) (*Signal, error) {
	m, err := decodeModelObject(raw)
	if err != nil {
		return nil, err
	}
	items, ok := m["emotions"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: emotions", errMissingField)
	}
	var probs []LabelScore
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label, _ := obj["label"].(string)
		score, ok := numberField(obj, "score")
		if !ok {
			continue
		}
		probs = append(probs, LabelScore{Label: label, Score: score})
	}
	sig := EmotionSignal(probs)
	if sig == nil {
		return nil, errNoEmotions
	}
	return sig, nil
}

// FormatEmotions renders probabilities one per line, strongest first.
func FormatEmotions(probs []LabelScore) string {
	if len(probs) == 0 {
		return "No emotion probabilities.\n"
	}
	sorted := append([]LabelScore(nil), probs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	var b strings.Builder
	for _, p := range sorted {
		fmt.Fprintf(&b, "- %-10s %.3f\n", p.Label, p.Score)
	}
	return b.String()
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func isStressEmotion(label string) bool {
	for _, l := range StressEmotions {
		if l == label {
			return true
		}
	}
	return false
}
