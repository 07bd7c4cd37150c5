package stress

// Base weights and fallback constants for Aggregate.
const (
	BaseModelWeight     = 0.45
	BaseLexiconWeight   = 0.30
	BaseReasoningWeight = 0.25

	// MinLexiconWeight keeps the lexicon contributing when the other signals are confident.
	MinLexiconWeight = 0.1

	// NeutralScore stands in for a missing model signal.
	NeutralScore = 50

	modelAbsentLexiconWeight   = 0.75
	modelAbsentReasoningWeight = 0.25
	reasoningShareToModel      = 0.6
	reasoningShareToLexicon    = 0.4
)

// Weights are the blend weights for the model, lexicon and reasoning signals.
type Weights struct {
	Model     float64 `json:"model"`
	Lexicon   float64 `json:"lex"`
	Reasoning float64 `json:"reason"`
}

// DefaultWeights returns the base weights used by Aggregate.
func DefaultWeights() Weights {
	return Weights{Model: BaseModelWeight, Lexicon: BaseLexiconWeight, Reasoning: BaseReasoningWeight}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 { return w.Model + w.Lexicon + w.Reasoning }

// Meta records how a final score was reached.
type Meta struct {
	ModelScore          *int     `json:"model_score"`
	ModelConfidence     *float64 `json:"model_confidence"`
	ReasoningScore      *int     `json:"reasoning_score"`
	ReasoningConfidence *float64 `json:"reasoning_confidence"`
	LexiconScore        int      `json:"lex_score"`
	// Keywords are the lexicon phrases found in the text.
	Keywords []string `json:"keywords,omitempty"`

	// ModelValue and ReasoningValue are the values actually blended, after defaults.
	ModelValue     int     `json:"model_value"`
	ReasoningValue int     `json:"reasoning_value"`
	Weights        Weights `json:"weights"`

	FloorApplied bool `json:"floor_applied"`
	// LexiconOnly is set when no external signal was available.
	LexiconOnly bool `json:"lexicon_only"`
}

// Aggregate blends the default lexicon score for text with the optional model and reasoning
// signals. It always returns a score in [0,100].
func Aggregate(text string, model, reasoning *Signal) (int, Meta) {
	return AggregateWith(DefaultWeights(), defaultLexicon, text, model, reasoning)
}

// AggregateWith is Aggregate with explicit base weights and lexicon. A nil lexicon uses the
// default one.
func AggregateWith(base Weights, lex *Lexicon, text string, model, reasoning *Signal) (int, Meta) {
	if lex == nil {
		lex = defaultLexicon
	}
	lexScore := lex.Score(text)
	w, floored := ResolveWeights(base, model, reasoning)

	modelValue := NeutralScore
	if model != nil {
		modelValue = model.Score
	}
	reasoningValue := modelValue
	if reasoning != nil {
		reasoningValue = reasoning.Score
	}

	blended := float64(modelValue)*w.Model + float64(lexScore)*w.Lexicon + float64(reasoningValue)*w.Reasoning
	final := clampScore(blended)

	meta := Meta{
		LexiconScore:   lexScore,
		Keywords:       lex.Matches(text),
		ModelValue:     modelValue,
		ReasoningValue: reasoningValue,
		Weights:        w,
		FloorApplied:   floored,
		LexiconOnly:    model == nil && reasoning == nil,
	}
	if model != nil {
		s, c := model.Score, model.Confidence
		meta.ModelScore, meta.ModelConfidence = &s, &c
	}
	if reasoning != nil {
		s, c := reasoning.Score, reasoning.Confidence
		meta.ReasoningScore, meta.ReasoningConfidence = &s, &c
	}
	return final, meta
}

// ResolveWeights applies confidence scaling, the lexicon floor and the missing-signal
// overrides to base. The overrides run after the floor and in a fixed order: model first, then
// reasoning. The second return value reports whether the floor fired.
func ResolveWeights(base Weights, model, reasoning *Signal) (Weights, bool) {
	w := Weights{
		Model:     base.Model * confidenceFactor(model),
		Reasoning: base.Reasoning * confidenceFactor(reasoning),
	}
	w.Lexicon = 1.0 - (w.Model + w.Reasoning)

	floored := false
	if w.Lexicon < MinLexiconWeight {
		floored = true
		w.Lexicon = MinLexiconWeight
		if others := w.Model + w.Reasoning; others > 0 {
			scale := (1.0 - MinLexiconWeight) / others
			w.Model *= scale
			w.Reasoning *= scale
		}
	}

	if model == nil {
		w = Weights{Model: 0, Lexicon: modelAbsentLexiconWeight, Reasoning: modelAbsentReasoningWeight}
	}
	if reasoning == nil {
		if model == nil {
			w = Weights{Model: 0, Lexicon: 1.0, Reasoning: 0}
		} else {
			w.Model += w.Reasoning * reasoningShareToModel
			w.Lexicon += w.Reasoning * reasoningShareToLexicon
			w.Reasoning = 0
		}
	}
	return w, floored
}

func confidenceFactor(s *Signal) float64 {
	conf := 0.0
	if s != nil {
		conf = clampConfidence(s.Confidence)
	}
	return 0.5 + 0.5*conf
}
