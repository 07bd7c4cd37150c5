package stress

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var lexiconYAML []byte

var defaultLexicon = mustParseLexicon(lexiconYAML)

// LexiconConfig is the on-disk YAML shape of a lexicon.
type LexiconConfig struct {
	Normalizer    float64            `yaml:"normalizer"`
	CrisisFloor   float64            `yaml:"crisis_floor"`
	CrisisPhrases []string           `yaml:"crisis_phrases"`
	Terms         map[string]float64 `yaml:"terms"`
}

type lexiconTerm struct {
	phrase string
	weight float64
}

// Lexicon is an immutable keyword to weight mapping used for local, deterministic scoring.
type Lexicon struct {
	terms       []lexiconTerm
	crisis      []string
	crisisFloor float64
	normalizer  float64
}

// DefaultLexicon returns the lexicon embedded in the binary.
func DefaultLexicon() *Lexicon { return defaultLexicon }

// LexiconScore scores text with the default lexicon.
func LexiconScore(text string) int { return defaultLexicon.Score(text) }

// LoadLexicon reads a lexicon from a YAML file.
func LoadLexicon(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lexicon path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	lex, err := ParseLexicon(b)
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return lex, nil
}

// ParseLexicon decodes and validates a YAML lexicon.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var cfg LexiconConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	return NewLexicon(cfg)
}

// NewLexicon validates cfg and builds a Lexicon. Phrases are lowercased and trimmed.
func NewLexicon(cfg LexiconConfig) (*Lexicon, error) {
	if cfg.Normalizer <= 0 {
		return nil, errors.New("normalizer must be > 0")
	}
	if cfg.CrisisFloor < 0 {
		return nil, errors.New("crisis_floor must be >= 0")
	}
	if len(cfg.Terms) == 0 {
		return nil, errors.New("terms must not be empty")
	}

	lex := &Lexicon{crisisFloor: cfg.CrisisFloor, normalizer: cfg.Normalizer}
	seen := make(map[string]bool, len(cfg.Terms))
	for phrase, w := range cfg.Terms {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			return nil, errors.New("term must not be empty")
		}
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("term %q: weight must be > 0", phrase)
		}
		if seen[p] {
			return nil, fmt.Errorf("term %q: duplicate after normalisation", phrase)
		}
		seen[p] = true
		lex.terms = append(lex.terms, lexiconTerm{phrase: p, weight: w})
	}
	// Fixed order keeps the float sum identical across runs.
	sort.Slice(lex.terms, func(i, j int) bool { return lex.terms[i].phrase < lex.terms[j].phrase })

	for _, phrase := range cfg.CrisisPhrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		lex.crisis = append(lex.crisis, p)
	}
	sort.Strings(lex.crisis)
	return lex, nil
}

func mustParseLexicon(data []byte) *Lexicon {
	lex, err := ParseLexicon(data)
	if err != nil {
		panic(fmt.Sprintf("load embedded lexicon.yaml: %v", err))
	}
	return lex
}

// Raw returns the unnormalised keyword total for text, after the crisis floor.
func (l *Lexicon) Raw(text string) float64 {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return 0
	}

	total := 0.0
	for _, t := range l.terms {
		if strings.Contains(lower, t.phrase) {
			total += t.weight
		}
	}
	if l.HasCrisisPhrase(text) && total < l.crisisFloor {
		total = l.crisisFloor
	}
	return total
}

// Score returns the lexicon stress score for text in [0,100].
func (l *Lexicon) Score(text string) int {
	normalized := math.Min(1.0, l.Raw(text)/l.normalizer)
	return clampScore(normalized * 100)
}

// HasCrisisPhrase reports whether text contains any crisis phrase.
func (l *Lexicon) HasCrisisPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range l.crisis {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Matches returns the lexicon phrases found in text, in lexicon order.
func (l *Lexicon) Matches(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, t := range l.terms {
		if strings.Contains(lower, t.phrase) {
			out = append(out, t.phrase)
		}
	}
	return out
}
