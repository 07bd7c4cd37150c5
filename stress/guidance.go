package stress

import (
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/stress-check/stress/fileutils"
)

const (
	// Helpline is the 24/7 crisis helpline included with every result.
	Helpline = "1800-599-0019"

	Disclaimer = "I am not a medical professional. For proper support, please consider seeking help from a qualified mental health expert."

	CrisisNote = "If you feel overwhelmed or unsafe, please reach out to the 24/7 helpline: " + Helpline + "."

	SupportNote = "Talking to someone you trust, such as a family member, friend, or loved one, can make a big difference."

	excerptWidth = 150
)

// Guidance is the supportive text shown alongside a score.
type Guidance struct {
	Explanation string   `json:"explanation"`
	Tips        []string `json:"tips"`
	Support     string   `json:"support"`
	Disclaimer  string   `json:"disclaimer"`
	Crisis      string   `json:"crisis"`
	Helpline    string   `json:"helpline"`
}

// ExamplePrompts are sample inputs shown to people who are unsure what to write.
var ExamplePrompts = []string{
	"I haven't been sleeping for days, I feel hopeless and tired.",
	"Work has been overwhelming, I'm snapping at everyone and can't focus.",
	"I'm okay but a bit anxious about upcoming exams.",
}

// Tips returns coping suggestions for score.
func Tips(score int) []string {
	switch {
	case score < 40:
		return []string{
			"Try slow deep breathing (4 seconds in, 4 seconds out).",
			"Take a short walk or step outside for fresh air.",
			"Write down what you're feeling; journaling helps organize thoughts.",
		}
	case score < 70:
		return []string{
			"Grounding: name 5 things you can see, 4 you can touch, 3 you can hear.",
			"Reach out and talk to a trusted friend or family member.",
			"Try a 10-15 minute guided relaxation or breathing exercise.",
		}
	default:
		return []string{
			"Pause and focus on breathing; try 6 slow breaths.",
			"Avoid isolating yourself; stay connected to someone you trust.",
			"Consider contacting a mental health professional for support.",
		}
	}
}

// Explain returns a short explanation of score that quotes an excerpt of text.
func Explain(text string, score int) string {
	var tone string
	switch {
	case score < 40:
		tone = "Your message shows low-to-moderate signs of stress. You may be experiencing transient worry or fatigue."
	case score < 70:
		tone = "Your message shows moderate signs of stress or emotional burden. Consider reaching out and trying coping techniques."
	default:
		tone = "Your message shows strong signs of stress, anxiety, or emotional distress. Please consider immediate support and professional help."
	}
	excerpt := fileutils.Shorten(text, excerptWidth, "...")
	if excerpt == "" {
		return tone
	}
	return fmt.Sprintf("%s Example from your message: %q", tone, excerpt)
}

// BuildGuidance assembles the guidance block for text and score.
func BuildGuidance(text string, score int) Guidance {
	return Guidance{
		Explanation: Explain(text, score),
		Tips:        Tips(score),
		Support:     SupportNote,
		Disclaimer:  Disclaimer,
		Crisis:      CrisisNote,
		Helpline:    Helpline,
	}
}

// FormatResult renders r for a terminal.
func FormatResult(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Estimated stress level: %d%% (%s)\n", r.Score, r.Severity.Label)
	fmt.Fprintf(&b, "%s\n", r.Severity.Description)
	if r.Meta.LexiconOnly {
		b.WriteString("(Keyword analysis only; no model opinion was available.)\n")
	}
	if len(r.Meta.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords noticed: %s\n", strings.Join(r.Meta.Keywords, ", "))
	}
	b.WriteString("\nWhat this means\n")
	fmt.Fprintf(&b, "%s\n", r.Guidance.Explanation)
	b.WriteString("\nTips to help you right now\n")
	for _, t := range r.Guidance.Tips {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	b.WriteString("\nYou're not alone\n")
	fmt.Fprintf(&b, "%s\n", r.Guidance.Support)
	b.WriteString("\nImportant\n")
	fmt.Fprintf(&b, "%s\n%s\n", r.Guidance.Disclaimer, r.Guidance.Crisis)
	return b.String()
}

// FormatRaw renders the signals behind r as the models returned them, including emotion
// probabilities when the model slot holds an emotion signal.
func FormatRaw(r Result) string {
	var b strings.Builder
	b.WriteString("Raw model output\n")
	for _, s := range []struct {
		slot string
		sig  *Signal
	}{{"model", r.Model}, {"reasoning", r.Reasoning}} {
		if s.sig == nil {
			fmt.Fprintf(&b, "%s: none\n", s.slot)
			continue
		}
		fmt.Fprintf(&b, "%s (%s): score %d, confidence %.2f\n", s.slot, s.sig.Source, s.sig.Score, s.sig.Confidence)
		if len(s.sig.Emotions) > 0 {
			b.WriteString(FormatEmotions(s.sig.Emotions))
			continue
		}
		for _, e := range s.sig.Evidence {
			fmt.Fprintf(&b, "  evidence: %s\n", e)
		}
	}
	return b.String()
}

// FormatReport renders the downloadable plain-text report for r.
func FormatReport(r Result) string {
	inputType := r.InputType
	if inputType == "" {
		inputType = "unknown"
	}
	var b strings.Builder
	b.WriteString("Stress Analysis Report\n\n")
	fmt.Fprintf(&b, "Input type: %s\n", inputType)
	if !r.AnalyzedAt.IsZero() {
		fmt.Fprintf(&b, "Analyzed at: %s\n", r.AnalyzedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	fmt.Fprintf(&b, "Stress score: %d%%\n", r.Score)
	fmt.Fprintf(&b, "Severity: %s\n\n", r.Severity.Label)
	fmt.Fprintf(&b, "Explanation:\n%s\n\n", r.Guidance.Explanation)
	b.WriteString("Tips:\n")
	for _, t := range r.Guidance.Tips {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	fmt.Fprintf(&b, "\nHelpline: %s\n\n", Helpline)
	b.WriteString("(Automated analysis, not a medical diagnosis.)\n")
	return b.String()
}
