package store

import (
	"time"

	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/model"
)

// timeLayout is fixed width so stored timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// prepareAntiPattern canonicalizes p for insertion: the id is derived from
// the fingerprint, text fields are bounded and timestamps defaulted.
func prepareAntiPattern(p model.AntiPattern, now time.Time) model.AntiPattern {
	p.Fingerprint = p.Fingerprint.Canonical()
	p.ID = fingerprint.PatternID(p.Fingerprint)
	if p.Kind == "" {
		p.Kind = fingerprint.KindFor(p.ExceptionClass, 0)
	}
	p.ErrorMessagePattern = fingerprint.Truncate(p.ErrorMessagePattern, fingerprint.MaxPatternRunes)
	p.BadCodeSnippet = fingerprint.Truncate(p.BadCodeSnippet, fingerprint.MaxPatternRunes)
	p.CorrectCodeSnippet = fingerprint.Truncate(p.CorrectCodeSnippet, fingerprint.MaxPatternRunes)
	p.SeverityScore = clamp01(p.SeverityScore)
	if p.LastSeen.IsZero() {
		p.LastSeen = now
	}
	p.LastSeen = p.LastSeen.UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.LastSeen
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.OccurrenceCount = 1
	return p
}

func prepareRepair(r model.RepairPattern, now time.Time) model.RepairPattern {
	r.RepairKey = r.RepairKey.Canonical()
	r.ID = fingerprint.RepairID(r.RepairKey)
	r.FixDescription = fingerprint.Truncate(r.FixDescription, fingerprint.MaxPatternRunes)
	r.CodeSnippet = fingerprint.Truncate(r.CodeSnippet, fingerprint.MaxPatternRunes)
	if r.LastApplied.IsZero() {
		r.LastApplied = now
	}
	r.LastApplied = r.LastApplied.UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.LastApplied
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.SuccessCount = 1
	return r
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// matchesScope reports whether a stored pattern value satisfies a filter
// value: an empty filter matches anything, and a wildcard record matches
// every filter.
func matchesScope(stored, filter string) bool {
	return filter == "" || stored == filter || stored == model.Wildcard
}
