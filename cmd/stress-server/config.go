package main

import (
	"errors"
	"strings"
	"time"
)

type Config struct {
	Addr            string
	Model           string
	FallbackModels  string
	ReasoningModel  string
	TranscribeModel string
	LexiconPath     string
	Timeout         time.Duration
	MaxOutputTokens int64
	Emotion         bool
	HistoryDB       string
	HistoryMax      int
	MaxAudioBytes   int64
	KafkaBrokers    string
	KafkaTopic      string
	NoRemote        bool
	APIKey          string
	Verbose         bool
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("missing -addr")
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
	if c.HistoryMax < 0 {
		return errors.New("history-max must be >= 0")
	}
	if c.MaxAudioBytes <= 0 {
		return errors.New("max-audio-bytes must be > 0")
	}
	if len(splitList(c.KafkaBrokers)) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return errors.New("missing -kafka-topic")
	}
	return nil
}

func modelChain(primary, fallbacks string) []string {
	return splitList(primary + "," + fallbacks)
}

// splitList splits a comma-separated flag value, dropping blanks and repeats.
func splitList(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Addr:            ":8090",
		Model:           "gpt-5-mini",
		FallbackModels:  "gpt-4.1-mini",
		TranscribeModel: "whisper-1",
		Timeout:         30 * time.Second,
		MaxOutputTokens: 400,
		HistoryMax:      200,
		MaxAudioBytes:   25 << 20,
		KafkaTopic:      "stress-analyses",
	}
}
