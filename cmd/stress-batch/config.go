package main

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	InPath               string
	OutDir               string
	IndexPath            string
	Model                string
	FallbackModels       string
	ReasoningModel       string
	LexiconPath          string
	Timeout              time.Duration
	MaxOutputTokens      int64
	Emotion              bool
	Pretty               bool
	Resume               bool
	Reindex              bool
	Concurrency          int
	IndexExcerptMaxChars int
	NoRemote             bool
	APIKey               string
	Verbose              bool
}

func (c Config) Validate() error {
	if c.InPath == "" {
		return errors.New("missing -in")
	}
	if c.OutDir == "" {
		return errors.New("missing -out")
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
	if c.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	if c.IndexExcerptMaxChars < 0 {
		return errors.New("index-excerpt-max-chars must be >= 0")
	}
	return nil
}

func modelChain(primary, fallbacks string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range strings.Split(primary+","+fallbacks, ",") {
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
		OutDir:               filepath.FromSlash("out/stress"),
		Model:                "gpt-5-mini",
		FallbackModels:       "gpt-4.1-mini",
		Timeout:              30 * time.Second,
		MaxOutputTokens:      400,
		Resume:               true,
		Reindex:              true,
		Concurrency:          4,
		IndexExcerptMaxChars: 120,
	}
}
