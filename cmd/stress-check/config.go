package main

import (
	"errors"
	"strings"
	"time"
)

type Config struct {
	Text            string
	InPath          string
	AudioPath       string
	Model           string
	FallbackModels  string
	ReasoningModel  string
	TranscribeModel string
	LexiconPath     string
	Timeout         time.Duration
	MaxOutputTokens int64
	Emotion         bool
	HistoryDB       string
	ReportPath      string
	JSON            bool
	ShowRaw         bool
	NoRemote        bool
	Examples        bool
	APIKey          string
	Verbose         bool
}

func (c Config) Validate() error {
	if c.Examples {
		return nil
	}
	inputs := 0
	for _, s := range []string{c.Text, c.InPath, c.AudioPath} {
		if s != "" {
			inputs++
		}
	}
	if inputs == 0 {
		return errors.New("missing input: pass one of -text, -in or -audio")
	}
	if inputs > 1 {
		return errors.New("-text, -in and -audio are mutually exclusive")
	}
	if c.AudioPath != "" && c.NoRemote {
		return errors.New("-audio needs transcription; it cannot be combined with -no-remote")
	}
	if !c.NoRemote && c.Model == "" {
		return errors.New("missing -model")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.MaxOutputTokens <= 0 {
		return errors.New("max-output-tokens must be > 0")
	}
	return nil
}

// modelChain returns primary followed by the comma-separated fallbacks, skipping blanks and repeats.
func modelChain(primary, fallbacks string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range append([]string{primary}, strings.Split(fallbacks, ",")...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Model:           "gpt-5-mini",
		FallbackModels:  "gpt-4.1-mini",
		TranscribeModel: "whisper-1",
		Timeout:         30 * time.Second,
		MaxOutputTokens: 400,
	}
}
