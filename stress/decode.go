package stress

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/stress-check/stress/fileutils"
)

// Evidence quotes longer than this are cut.
const maxEvidenceRunes = 200

var (
	errNoJSONObject = errors.New("no JSON object found in model output")
	bareKeyPattern  = regexp.MustCompile(`([{,]\s*)([A-Za-z_]\w*)(\s*:)`)
)

// ExtractJSONObject returns the first brace-delimited object in s. Models often wrap the object
// in commentary, so leading and trailing prose is skipped. Braces inside double-quoted strings
// do not count towards nesting. When the object never closes, the span up to the last '}' is
// returned.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	end := strings.LastIndexByte(s, '}')
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// RepairBareKeys quotes identifier-style object keys, turning {score: 70} into {"score": 70}.
// It is the only repair applied to model output.
func RepairBareKeys(s string) string {
	return bareKeyPattern.ReplaceAllString(s, `$1"$2"$3`)
}

// decodeModelObject extracts the first JSON object from raw model output and decodes it, with a
// single bare-key repair pass when the first parse fails.
func decodeModelObject(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errNoJSONObject
	}
	sub, ok := ExtractJSONObject(s)
	if !ok {
		return nil, fmt.Errorf("%w (len=%d)", errNoJSONObject, len(s))
	}

	var out map[string]any
	err := json.Unmarshal([]byte(sub), &out)
	if err == nil {
		return out, nil
	}
	repaired := RepairBareKeys(sub)
	if repaired == sub {
		return nil, fmt.Errorf("unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	out = nil
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("unmarshal repaired JSON (len=%d): %w", len(repaired), err)
	}
	return out, nil
}

// numberField reads a finite numeric field. Numeric strings are accepted because models
// sometimes quote numbers.
func numberField(m map[string]any, key string) (float64, bool) {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%")), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringsField(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, fileutils.Truncate(s, maxEvidenceRunes))
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{fileutils.Truncate(s, maxEvidenceRunes)}
		}
	}
	return nil
}
