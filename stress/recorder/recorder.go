// Package recorder persists past analyses so history survives restarts.
package recorder

import (
	"errors"

	"github.com/theimaginaryfoundation/stress-check/stress"
)

// Sink receives analysis results.
type Sink interface {
	Record(r stress.Result) error
	Close() error
}

// Recorder is a Sink that can also list what it stored.
type Recorder interface {
	Sink
	// Recent returns up to limit entries, newest first. limit <= 0 returns all.
	Recent(limit int) ([]stress.HistoryEntry, error)
}

// Tee returns a Recorder that records to primary and every sink. Recent reads from primary.
func Tee(primary Recorder, sinks ...Sink) Recorder {
	return &tee{primary: primary, sinks: sinks}
}

type tee struct {
	primary Recorder
	sinks   []Sink
}

func (t *tee) Record(r stress.Result) error {
	errs := []error{t.primary.Record(r)}
	for _, s := range t.sinks {
		errs = append(errs, s.Record(r))
	}
	return errors.Join(errs...)
}

func (t *tee) Recent(limit int) ([]stress.HistoryEntry, error) { return t.primary.Recent(limit) }

func (t *tee) Close() error {
	errs := []error{t.primary.Close()}
	for _, s := range t.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// NoopRecorder is used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Record(_ stress.Result) error                { return nil }
func (n *NoopRecorder) Recent(_ int) ([]stress.HistoryEntry, error) { return nil, nil }
func (n *NoopRecorder) Close() error                                { return nil }
