// Package classify turns a failure event plus the generation context it came
// from into a storable classification.
package classify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/model"
)

// ErrEmptyEvent is returned for events that carry no message, exception,
// status or code at all.
var ErrEmptyEvent = errors.New("failure event carries no signal")

// Classification is a normalized failure ready for storage.
type Classification struct {
	ID             string
	Fingerprint    model.Fingerprint
	Kind           model.ErrorKind
	MessagePattern string
	BadCode        string
	CorrectCode    string
	Severity       float64
	FixDescription string
	TargetFile     string
}

// AntiPattern builds the record to upsert for a sighting at now.
func (c Classification) AntiPattern(now time.Time) model.AntiPattern {
	return model.AntiPattern{
		ID:                  c.ID,
		Fingerprint:         c.Fingerprint,
		Kind:                c.Kind,
		ErrorMessagePattern: c.MessagePattern,
		BadCodeSnippet:      c.BadCode,
		CorrectCodeSnippet:  c.CorrectCode,
		OccurrenceCount:     1,
		SeverityScore:       c.Severity,
		CreatedAt:           now,
		LastSeen:            now,
	}
}

// HasRepair reports whether the event carried a fix worth remembering.
func (c Classification) HasRepair() bool {
	return c.CorrectCode != ""
}

// RepairType names the class of fix. It is the error kind when one is known
// and the error type otherwise.
func (c Classification) RepairType() string {
	if c.Kind != "" && c.Kind != model.KindUnknown {
		return string(c.Kind)
	}
	return c.Fingerprint.ErrorType
}

// Repair builds the repair record for a fix applied at now.
func (c Classification) Repair(now time.Time) model.RepairPattern {
	key := model.RepairKey{
		RepairType:      c.RepairType(),
		EntityPattern:   c.Fingerprint.EntityPattern,
		EndpointPattern: c.Fingerprint.EndpointPattern,
		FieldPattern:    c.Fingerprint.FieldPattern,
	}.Canonical()

	desc := c.FixDescription
	if desc == "" {
		desc = defaultFixDescription(c)
	}
	return model.RepairPattern{
		ID:             fingerprint.RepairID(key),
		RepairKey:      key,
		FixDescription: fingerprint.Truncate(desc, fingerprint.MaxPatternRunes),
		CodeSnippet:    c.CorrectCode,
		TargetFileHint: c.TargetFile,
		SuccessCount:   1,
		CreatedAt:      now,
		LastApplied:    now,
	}
}

func defaultFixDescription(c Classification) string {
	target := c.Fingerprint.EntityPattern
	if f := c.Fingerprint.FieldPattern; f != "" && f != model.Wildcard {
		target += "." + f
	}
	line := fingerprint.FirstLine(c.CorrectCode)
	return fmt.Sprintf("Fix for %s on %s: %s", c.Fingerprint.ExceptionClass, target, line)
}

// Classifier maps failure events onto classifications. It holds only the
// severity table and is safe for concurrent use.
type Classifier struct {
	priors Priors
}

// New returns a Classifier using priors layered over DefaultPriors.
func New(priors Priors) *Classifier {
	return &Classifier{priors: DefaultPriors().Merge(priors)}
}

// Priors returns the effective severity table.
func (c *Classifier) Priors() Priors {
	return c.priors
}

// Classify normalizes ev observed while generating gc. Event fields win over
// the generation context, and an explicit entity wins over one inferred from
// the path. Missing pieces fall back to wildcards.
func (c *Classifier) Classify(gc model.GenContext, ev model.FailureEvent) (Classification, error) {
	if strings.TrimSpace(ev.ErrorMessage) == "" && strings.TrimSpace(ev.ExceptionClass) == "" &&
		ev.StatusCode == 0 && strings.TrimSpace(ev.FailedCode) == "" {
		return Classification{}, ErrEmptyEvent
	}

	res := fingerprint.Normalize(fingerprint.Input{
		Path:           firstNonEmpty(ev.Endpoint, gc.Endpoint),
		StatusCode:     ev.StatusCode,
		ExceptionClass: ev.ExceptionClass,
		Message:        ev.ErrorMessage,
		Entity:         firstNonEmpty(ev.Entity, gc.Entity),
	})
	fp := res.Fingerprint.Canonical()

	return Classification{
		ID:             fingerprint.PatternID(fp),
		Fingerprint:    fp,
		Kind:           res.Kind,
		MessagePattern: res.MessagePattern,
		BadCode:        fingerprint.Truncate(strings.TrimSpace(ev.FailedCode), fingerprint.MaxPatternRunes),
		CorrectCode:    fingerprint.Truncate(strings.TrimSpace(ev.FixedCode), fingerprint.MaxPatternRunes),
		Severity:       c.priors.Severity(res.Kind),
		FixDescription: strings.TrimSpace(ev.FixDescription),
		TargetFile:     ev.TargetFile,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
