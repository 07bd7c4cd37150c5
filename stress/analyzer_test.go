package stress

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestAnalyzer_ZeroValueIsLexiconOnly(t *testing.T) {
	t.Parallel()

	var a Analyzer
	res, err := a.Analyze(context.Background(), "I am so tired and sad")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Score != 35 || res.Severity.Band != BandMild {
		t.Fatalf("score=%d band=%v", res.Score, res.Severity.Band)
	}
	if !res.Meta.LexiconOnly || res.Model != nil || res.Reasoning != nil {
		t.Fatalf("meta=%+v", res.Meta)
	}
	if res.InputType != InputText {
		t.Fatalf("InputType=%q", res.InputType)
	}
	if res.Guidance.Helpline != Helpline || len(res.Guidance.Tips) == 0 {
		t.Fatalf("guidance=%+v", res.Guidance)
	}
}

func TestAnalyzer_BlendsBothSignals(t *testing.T) {
	t.Parallel()

	a := Analyzer{
		Model:     reply(`{"score": 70, "evidence": ["tired"], "confidence": 0.8}`),
		Reasoning: reply(`{"intensity": 60, "confidence": 0.6}`),
		Now:       fixedNow,
	}
	res, err := a.AnalyzeTranscript(context.Background(), "I am so tired and sad")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Score != 54 {
		t.Fatalf("score=%d", res.Score)
	}
	if res.Severity.Label != "Moderate" {
		t.Fatalf("band=%q", res.Severity.Label)
	}
	if res.Model == nil || res.Model.Source != SourceStructured || len(res.Model.Evidence) != 1 {
		t.Fatalf("model=%+v", res.Model)
	}
	if res.Reasoning == nil || res.Reasoning.Source != SourceIntensity {
		t.Fatalf("reasoning=%+v", res.Reasoning)
	}
	if res.InputType != InputAudio || !res.AnalyzedAt.Equal(fixedNow()) {
		t.Fatalf("InputType=%q AnalyzedAt=%v", res.InputType, res.AnalyzedAt)
	}
}

func TestAnalyzer_RejectsEmptyInput(t *testing.T) {
	t.Parallel()

	var a Analyzer
	if _, err := a.Analyze(context.Background(), " \n "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err=%v", err)
	}
}

func TestAnalyzer_TimeoutDowngradesToMissingSignal(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// Ignores ctx entirely.
	stuck := ClassifierFunc(func(context.Context, ClassifyRequest) (string, error) {
		<-release
		return `{"score": 99, "confidence": 1}`, nil
	})
	// Honours ctx.
	slow := ClassifierFunc(func(ctx context.Context, _ ClassifyRequest) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Second):
			return `{"intensity": 99, "confidence": 1}`, nil
		}
	})

	var logs bytes.Buffer
	a := Analyzer{
		Model:     stuck,
		Reasoning: slow,
		Timeout:   20 * time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	start := time.Now()
	res, err := a.Analyze(context.Background(), "I am so tired and sad")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("analyze took %v", elapsed)
	}
	if res.Score != 35 || !res.Meta.LexiconOnly {
		t.Fatalf("score=%d meta=%+v", res.Score, res.Meta)
	}
	out := logs.String()
	if !strings.Contains(out, "signal unavailable") || !strings.Contains(out, "lexicon score only") {
		t.Fatalf("logs=%s", out)
	}
}

func TestAnalyzer_CallerCancelIsAnError(t *testing.T) {
	t.Parallel()

	blocking := ClassifierFunc(func(ctx context.Context, _ ClassifyRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	a := Analyzer{Model: blocking, Reasoning: blocking, Timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res, err := a.Analyze(ctx, "I am so tired and sad")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v res=%+v", err, res)
	}
	if res.Score != 0 || res.Meta.LexiconOnly {
		t.Fatalf("expected zero Result, got score=%d meta=%+v", res.Score, res.Meta)
	}
}

func TestAnalyzer_OneSignalFails(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := Analyzer{
		Model: ClassifierFunc(func(context.Context, ClassifyRequest) (string, error) {
			calls.Add(1)
			return "", errors.New("quota exceeded")
		}),
		Reasoning: ClassifierFunc(func(context.Context, ClassifyRequest) (string, error) {
			calls.Add(1)
			return `{"intensity": 60, "confidence": 0.6}`, nil
		}),
	}
	res, err := a.Analyze(context.Background(), "I am so tired and sad")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls=%d", calls.Load())
	}
	// Model absent: 35*0.75 + 60*0.25 = 41.25
	if res.Score != 41 || res.Model != nil || res.Reasoning == nil {
		t.Fatalf("score=%d model=%v reasoning=%v", res.Score, res.Model, res.Reasoning)
	}
}

func TestAnalyzer_CustomLexiconAndWeights(t *testing.T) {
	t.Parallel()

	lex, err := ParseLexicon([]byte("normalizer: 1\nterms: {blue: 1}\n"))
	if err != nil {
		t.Fatalf("lexicon: %v", err)
	}
	a := Analyzer{Lexicon: lex, Weights: Weights{Model: 0.5, Reasoning: 0.5}}
	res, err := a.Analyze(context.Background(), "feeling blue")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Score != 100 {
		t.Fatalf("score=%d", res.Score)
	}
}
