package stress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/theimaginaryfoundation/stress-check/stress/fileutils"
)

// HistoryEntry is a compact record of one past analysis.
type HistoryEntry struct {
	AnalyzedAt time.Time `json:"analyzed_at"`
	InputType  string    `json:"input_type"`
	Excerpt    string    `json:"excerpt"`
	Score      int       `json:"score"`
	Band       string    `json:"band"`
}

// EntryFromResult summarises r for a history log.
func EntryFromResult(r Result) HistoryEntry {
	return HistoryEntry{
		AnalyzedAt: r.AnalyzedAt,
		InputType:  r.InputType,
		Excerpt:    fileutils.Shorten(r.Text, 80, "..."),
		Score:      r.Score,
		Band:       r.Severity.Label,
	}
}

// History is an append-only log of analyses owned by the calling application. It is safe for
// concurrent use. When Max is positive only the newest Max entries are kept.
type History struct {
	Max int

	mu      sync.Mutex
	entries []HistoryEntry
}

// Append adds e to the log.
func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if h.Max > 0 && len(h.entries) > h.Max {
		h.entries = append([]HistoryEntry(nil), h.entries[len(h.entries)-h.Max:]...)
	}
}

// Entries returns a copy of the log, oldest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.entries...)
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []HistoryEntry {
	all := h.Entries()
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]HistoryEntry, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// FormatHistory renders entries as one line each.
func FormatHistory(entries []HistoryEntry) string {
	if len(entries) == 0 {
		return "No analyses yet.\n"
	}
	var b strings.Builder
	for _, e := range entries {
		ts := "-"
		if !e.AnalyzedAt.IsZero() {
			ts = e.AnalyzedAt.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "%s  %3d%%  %-8s  [%s] %s\n", ts, e.Score, e.Band, e.InputType, e.Excerpt)
	}
	return b.String()
}
