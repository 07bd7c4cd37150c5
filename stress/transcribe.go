package stress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoTranscript is returned when transcription produced no text.
var ErrNoTranscript = errors.New("stress: transcription produced no text")

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// Transcribe runs t and trims the transcript. An empty transcript is ErrNoTranscript.
func Transcribe(ctx context.Context, t Transcriber, filename string, audio io.Reader) (string, error) {
	if t == nil {
		return "", errors.New("stress: transcriber is nil")
	}
	text, err := t.Transcribe(ctx, filename, audio)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filename, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoTranscript
	}
	return text, nil
}
