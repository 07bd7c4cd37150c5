package stress

import "fmt"

// Band is a discrete severity level derived from a final score.
type Band int

const (
	BandMinimal Band = iota
	BandMild
	BandModerate
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandMinimal:
		return "Minimal"
	case BandMild:
		return "Mild"
	case BandModerate:
		return "Moderate"
	case BandHigh:
		return "High"
	default:
		return "Unknown"
	}
}

func (b Band) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Band) UnmarshalText(text []byte) error {
	for c := BandMinimal; c <= BandHigh; c++ {
		if c.String() == string(text) {
			*b = c
			return nil
		}
	}
	return fmt.Errorf("unknown severity band %q", text)
}

// Severity is the presentation form of a score.
type Severity struct {
	Band        Band   `json:"band"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Describe maps a score to its severity band. Lower bounds are inclusive: 25, 50 and 75 start
// the Mild, Moderate and High bands.
func Describe(score int) Severity {
	var b Band
	switch {
	case score < 25:
		b = BandMinimal
	case score < 50:
		b = BandMild
	case score < 75:
		b = BandModerate
	default:
		b = BandHigh
	}
	return Severity{Band: b, Label: b.String(), Description: bandDescriptions[b]}
}

var bandDescriptions = map[Band]string{
	BandMinimal:  "Little sign of stress in what you wrote.",
	BandMild:     "Some signs of stress or worry.",
	BandModerate: "Clear signs of stress or emotional strain.",
	BandHigh:     "Strong signs of distress. Please consider reaching out for support now.",
}
