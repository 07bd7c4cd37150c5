package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"

	"github.com/theimaginaryfoundation/stress-check/stress"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
	// block, when set, holds every write until it is closed.
	block chan struct{}
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type failingSink struct{ closed bool }

func (f *failingSink) Record(stress.Result) error { return errors.New("sink down") }
func (f *failingSink) Close() error               { f.closed = true; return nil }

func TestKafkaPublisher_PublishesEventWithoutText(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p, err := newKafkaPublisherWithWriter(w, 0, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	model := 70
	res := stress.Result{
		Text:       "I am so tired and sad",
		InputType:  stress.InputText,
		Score:      54,
		Severity:   stress.Describe(54),
		AnalyzedAt: time.Date(2026, 4, 5, 6, 7, 8, 0, time.UTC),
	}
	res.Meta.LexiconScore = 35
	res.Meta.ModelScore = &model
	if err := p.Record(res); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: err=%v closed=%v", err, w.closed)
	}

	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "Moderate" {
		t.Fatalf("msgs=%+v", w.msgs)
	}
	var got AnalysisEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := AnalysisEvent{
		Type:       EventTypeAnalysis,
		AnalyzedAt: res.AnalyzedAt,
		InputType:  "text",
		Score:      54,
		Band:       "Moderate",
		LexScore:   35,
		ModelScore: &model,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	var raw map[string]any
	_ = json.Unmarshal(w.msgs[0].Value, &raw)
	if _, ok := raw["text"]; ok {
		t.Fatalf("event leaked input text: %s", w.msgs[0].Value)
	}
	if p.delivered.Load() != 1 {
		t.Fatalf("delivered=%d", p.delivered.Load())
	}
}

func TestKafkaPublisher_RecordDoesNotWaitForBroker(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{block: make(chan struct{})}
	p, err := newKafkaPublisherWithWriter(w, time.Minute, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Record(stress.Result{Score: 10, Severity: stress.Describe(10)}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Record blocked for %v", elapsed)
	}

	close(w.block)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(w.msgs) != 3 || p.delivered.Load() != 3 {
		t.Fatalf("msgs=%d delivered=%d", len(w.msgs), p.delivered.Load())
	}
	if err := p.Record(stress.Result{}); !errors.Is(err, errPublisherClosed) {
		t.Fatalf("after close: err=%v", err)
	}
}

func TestKafkaPublisher_WriteErrorIsCounted(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{err: errors.New("broker down")}
	p, err := newKafkaPublisherWithWriter(w, time.Second, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Record(stress.Result{Score: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if p.failed.Load() != 1 || p.delivered.Load() != 0 {
		t.Fatalf("failed=%d delivered=%d", p.failed.Load(), p.delivered.Load())
	}
}

func TestKafkaPublisher_QueueFull(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{block: make(chan struct{})}
	p, err := newKafkaPublisherWithWriter(w, time.Minute, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var full error
	// The loop holds one message in a blocked write; the rest fill the queue.
	for i := 0; i < kafkaQueueSize+2; i++ {
		if err := p.Record(stress.Result{}); err != nil {
			full = err
			break
		}
	}
	if !errors.Is(full, errPublisherQueueFull) {
		t.Fatalf("err=%v", full)
	}
	close(w.block)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewKafkaPublisher_FlushesPromptly(t *testing.T) {
	t.Parallel()

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "stress"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer=%T", p.writer)
	}
	if w.BatchTimeout <= 0 || w.BatchTimeout > 10*time.Millisecond {
		t.Fatalf("BatchTimeout=%v", w.BatchTimeout)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewKafkaPublisher_Validates(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "stress"}, nil); err == nil {
		t.Fatalf("expected error for no brokers")
	}
	if _, err := newKafkaPublisherWithWriter(nil, 0, nil); !errors.Is(err, errPublisherNilWriter) {
		t.Fatalf("err=%v", err)
	}
}

func TestTee(t *testing.T) {
	t.Parallel()

	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "h.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	w := &fakeWriter{}
	pub, _ := newKafkaPublisherWithWriter(w, 0, nil)
	r := Tee(rec, pub)

	if err := r.Record(stress.Result{Text: "sad", InputType: stress.InputText, Score: 20, Severity: stress.Describe(20)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := r.Recent(0)
	if err != nil || len(got) != 1 || got[0].Band != "Minimal" {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	if err := r.Close(); err != nil || !w.closed {
		t.Fatalf("close: err=%v closed=%v", err, w.closed)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("published=%d", len(w.msgs))
	}
}

func TestTee_JoinsSinkErrors(t *testing.T) {
	t.Parallel()

	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "h.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sink := &failingSink{}
	r := Tee(rec, sink)

	if err := r.Record(stress.Result{Score: 1}); err == nil {
		t.Fatalf("expected joined error")
	}
	if got, _ := r.Recent(0); len(got) != 1 {
		t.Fatalf("primary should still record: %d", len(got))
	}
	if err := r.Close(); err != nil || !sink.closed {
		t.Fatalf("close: err=%v closed=%v", err, sink.closed)
	}
}
