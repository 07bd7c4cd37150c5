package stress

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func reply(raw string) Classifier {
	return ClassifierFunc(func(context.Context, ClassifyRequest) (string, error) { return raw, nil })
}

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"score": 1}`, `{"score": 1}`, true},
		{"Sure! Here you go:\n{\"score\": 72}\nHope this helps {really}.", `{"score": 72}`, true},
		{`pre {"a": {"b": 1}, "c": "x } y"} post`, `{"a": {"b": 1}, "c": "x } y"}`, true},
		{`{"a": "quote \" and }"} tail`, `{"a": "quote \" and }"}`, true},
		{`no json here`, "", false},
		{`} backwards {`, "", false},
		{`{"unterminated": 1 } extra { "x"`, `{"unterminated": 1 }`, true},
		{`{"open": {"inner": 1} `, `{"open": {"inner": 1}`, true},
	}
	for _, tc := range cases {
		got, ok := ExtractJSONObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%q: got=(%q,%v) want=(%q,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRepairBareKeys(t *testing.T) {
	t.Parallel()

	got := RepairBareKeys(`{score: 70, evidence: ["tired"], confidence: 0.7}`)
	want := `{"score": 70, "evidence": ["tired"], "confidence": 0.7}`
	if got != want {
		t.Fatalf("got=%q", got)
	}
	already := `{"score": 70}`
	if got := RepairBareKeys(already); got != already {
		t.Fatalf("quoted keys changed: %q", got)
	}
}

func TestParseStructuredSignal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want *Signal
	}{
		{
			name: "plain",
			raw:  `{"score": 72, "evidence": ["can't sleep", "  ", 3], "confidence": 0.9}`,
			want: &Signal{Score: 72, Confidence: 0.9, Evidence: []string{"can't sleep"}, Source: SourceStructured},
		},
		{
			name: "prose around object",
			raw:  "Here is my assessment:\n```json\n{\"score\": 55, \"evidence\": [], \"confidence\": 0.4}\n```\nTake care.",
			want: &Signal{Score: 55, Confidence: 0.4, Evidence: []string{}, Source: SourceStructured},
		},
		{
			name: "bare keys repaired",
			raw:  `{score: 70, evidence: ["work"], confidence: 0.7}`,
			want: &Signal{Score: 70, Confidence: 0.7, Evidence: []string{"work"}, Source: SourceStructured},
		},
		{
			name: "clamped high",
			raw:  `{"score": 140, "confidence": 1.7}`,
			want: &Signal{Score: 100, Confidence: 1, Source: SourceStructured},
		},
		{
			name: "clamped low",
			raw:  `{"score": -5, "confidence": -0.2}`,
			want: &Signal{Score: 0, Confidence: 0, Source: SourceStructured},
		},
		{
			name: "fractional score rounds",
			raw:  `{"score": 64.6, "confidence": 0.5}`,
			want: &Signal{Score: 65, Confidence: 0.5, Source: SourceStructured},
		},
		{
			name: "numeric string",
			raw:  `{"score": "65", "confidence": "0.3"}`,
			want: &Signal{Score: 65, Confidence: 0.3, Source: SourceStructured},
		},
		{
			name: "missing confidence defaults",
			raw:  `{"score": 20}`,
			want: &Signal{Score: 20, Confidence: 0.5, Source: SourceStructured},
		},
		{name: "missing score", raw: `{"confidence": 0.9}`},
		{name: "non-numeric score", raw: `{"score": "high", "confidence": 0.9}`},
		{name: "NaN score", raw: `{"score": "NaN", "confidence": 0.9}`},
		{name: "infinite score", raw: `{"score": "Inf", "confidence": 0.9}`},
		{name: "negative infinite score", raw: `{"score": "-Inf"}`},
		{
			name: "NaN confidence defaults",
			raw:  `{"score": 30, "confidence": "NaN"}`,
			want: &Signal{Score: 30, Confidence: 0.5, Source: SourceStructured},
		},
		{name: "single-quoted keys", raw: `{'score': 70}`},
		{name: "no object", raw: `I cannot help with that.`},
		{name: "empty", raw: "  "},
		{name: "broken beyond repair", raw: `{score: 70,, }`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := parseStructuredSignal(tc.raw)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIntensitySignal(t *testing.T) {
	t.Parallel()

	got, err := parseIntensitySignal(`Intensity: {intensity: 81, confidence: 0.66}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Signal{Score: 81, Confidence: 0.66, Source: SourceIntensity}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	if got, err := parseIntensitySignal(`{"score": 81}`); got != nil || !errors.Is(err, errMissingField) {
		t.Fatalf("got=%v err=%v", got, err)
	}
}

func TestRequestStructuredSignal_SendsRequest(t *testing.T) {
	t.Parallel()

	var seen ClassifyRequest
	c := ClassifierFunc(func(_ context.Context, req ClassifyRequest) (string, error) {
		seen = req
		return `{"score": 40, "evidence": ["exams"], "confidence": 0.6}`, nil
	})
	got := RequestStructuredSignal(context.Background(), "  anxious about exams  ", c)
	if got == nil || got.Score != 40 {
		t.Fatalf("got=%+v", got)
	}
	if seen.Name != "StressJudgment" {
		t.Fatalf("Name=%q", seen.Name)
	}
	if _, ok := seen.Shape.(StructuredReply); !ok {
		t.Fatalf("Shape=%T", seen.Shape)
	}
	if !strings.Contains(seen.Input, "anxious about exams\n") || seen.Instructions == "" {
		t.Fatalf("Input=%q", seen.Input)
	}
}

func TestRequestIntensitySignal_SendsRequest(t *testing.T) {
	t.Parallel()

	var seen ClassifyRequest
	c := ClassifierFunc(func(_ context.Context, req ClassifyRequest) (string, error) {
		seen = req
		return `{"intensity": 30, "confidence": 0.2}`, nil
	})
	got := RequestIntensitySignal(context.Background(), "meh", c)
	if got == nil || got.Score != 30 || got.Source != SourceIntensity {
		t.Fatalf("got=%+v", got)
	}
	if _, ok := seen.Shape.(IntensityReply); !ok || seen.Name != "IntensityJudgment" {
		t.Fatalf("Name=%q Shape=%T", seen.Name, seen.Shape)
	}
}

func TestRequestSignal_FailuresAreNil(t *testing.T) {
	t.Parallel()

	failing := ClassifierFunc(func(context.Context, ClassifyRequest) (string, error) {
		return "", errors.New("503 service unavailable")
	})
	if got := RequestStructuredSignal(context.Background(), "x", failing); got != nil {
		t.Fatalf("got=%+v", got)
	}
	if got := RequestIntensitySignal(context.Background(), "x", failing); got != nil {
		t.Fatalf("got=%+v", got)
	}
	if got := RequestStructuredSignal(context.Background(), "x", nil); got != nil {
		t.Fatalf("nil classifier: got=%+v", got)
	}
	if got := RequestStructuredSignal(context.Background(), "x", reply("not json at all")); got != nil {
		t.Fatalf("malformed: got=%+v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	c := ClassifierFunc(func(context.Context, ClassifyRequest) (string, error) {
		called = true
		return `{"score": 1}`, nil
	})
	if got := RequestStructuredSignal(ctx, "x", c); got != nil || called {
		t.Fatalf("cancelled ctx: got=%+v called=%v", got, called)
	}
}
