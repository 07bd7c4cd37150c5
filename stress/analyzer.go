package stress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultSignalTimeout bounds each external signal request.
const DefaultSignalTimeout = 30 * time.Second

// ErrEmptyInput is returned by Analyze for empty or whitespace-only text.
var ErrEmptyInput = errors.New("stress: input text is empty")

// Input types recorded on results.
const (
	InputText  = "text"
	InputAudio = "audio"
)

// Result is one complete analysis.
type Result struct {
	Text       string    `json:"text"`
	InputType  string    `json:"input_type"`
	Score      int       `json:"score"`
	Severity   Severity  `json:"severity"`
	Meta       Meta      `json:"meta"`
	Model      *Signal   `json:"model_signal,omitempty"`
	Reasoning  *Signal   `json:"reasoning_signal,omitempty"`
	Guidance   Guidance  `json:"guidance"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// ModelReply selects what the Model classifier is asked for.
type ModelReply int

const (
	// ReplyStructured asks for a stress score with evidence and confidence.
	ReplyStructured ModelReply = iota
	// ReplyEmotion asks for emotion label probabilities, scored with EmotionScore.
	ReplyEmotion
)

// Analyzer runs the scoring pipeline. The zero value scores with the lexicon only.
type Analyzer struct {
	// Model supplies the structured stress judgment, or emotion probabilities when ModelReply
	// is ReplyEmotion. Nil disables it.
	Model      Classifier
	ModelReply ModelReply
	// Reasoning supplies the intensity judgment. Nil disables it.
	Reasoning Classifier

	Lexicon *Lexicon
	// Weights overrides DefaultWeights when non-zero.
	Weights Weights
	// Timeout bounds each external request. Zero means DefaultSignalTimeout.
	Timeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Analyze scores text. External requests run concurrently; any that fail or time out are
// treated as missing. The only error is ErrEmptyInput or a cancelled ctx.
func (a *Analyzer) Analyze(ctx context.Context, text string) (Result, error) {
	return a.analyze(ctx, text, InputText)
}

// AnalyzeTranscript scores text that was transcribed from audio.
func (a *Analyzer) AnalyzeTranscript(ctx context.Context, transcript string) (Result, error) {
	return a.analyze(ctx, transcript, InputAudio)
}

func (a *Analyzer) analyze(ctx context.Context, text string, inputType string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	log := a.logger()

	var model, reasoning *Signal
	g, gctx := errgroup.WithContext(ctx)
	if a.Model != nil {
		source, request := SourceStructured, requestStructuredSignal
		if a.ModelReply == ReplyEmotion {
			source, request = SourceEmotion, requestEmotionSignal
		}
		g.Go(func() error {
			model = a.fetch(gctx, log, source, func(ctx context.Context) (*Signal, error) {
				return request(ctx, text, a.Model)
			})
			return nil
		})
	}
	if a.Reasoning != nil {
		g.Go(func() error {
			reasoning = a.fetch(gctx, log, SourceIntensity, func(ctx context.Context) (*Signal, error) {
				return requestIntensitySignal(ctx, text, a.Reasoning)
			})
			return nil
		})
	}
	_ = g.Wait()
	// Per-request timeouts degrade to missing signals; cancelling the caller's ctx does not.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	base := a.Weights
	if base == (Weights{}) {
		base = DefaultWeights()
	}
	score, meta := AggregateWith(base, a.Lexicon, text, model, reasoning)
	if meta.LexiconOnly && (a.Model != nil || a.Reasoning != nil) {
		log.Warn("no external signals available; using lexicon score only", "lex_score", meta.LexiconScore)
	}
	log.Debug("stress score",
		"score", score,
		"lex_score", meta.LexiconScore,
		"w_model", meta.Weights.Model,
		"w_lex", meta.Weights.Lexicon,
		"w_reason", meta.Weights.Reasoning,
	)

	return Result{
		Text:       text,
		InputType:  inputType,
		Score:      score,
		Severity:   Describe(score),
		Meta:       meta,
		Model:      model,
		Reasoning:  reasoning,
		Guidance:   BuildGuidance(text, score),
		AnalyzedAt: a.now(),
	}, nil
}

func (a *Analyzer) fetch(ctx context.Context, log *slog.Logger, source string, req func(context.Context) (*Signal, error)) *Signal {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultSignalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		sig *Signal
		err error
	}
	// Buffered: the sender may outlive the select below.
	done := make(chan outcome, 1)
	go func() {
		sig, err := req(ctx)
		done <- outcome{sig: sig, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			log.Warn("signal unavailable", "source", source, "err", o.err)
			return nil
		}
		return o.sig
	case <-ctx.Done():
		log.Warn("signal unavailable", "source", source, "err", ctx.Err())
		return nil
	}
}

func (a *Analyzer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (a *Analyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
