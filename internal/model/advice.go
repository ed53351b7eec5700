package model

import (
	"fmt"
	"strings"
	"time"
)

// Advice is ranked guidance for one entity/endpoint, built on demand from a
// store query. It is never persisted.
type Advice struct {
	Entity     string        `json:"entity"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Avoid      []string      `json:"avoid"`
	Use        []string      `json:"use"`
	Matched    []AntiPattern `json:"matched_records"`
	HighRisk   int           `json:"high_risk_count"`
	MediumRisk int           `json:"medium_risk_count"`
	// Degraded is set when the store could not be consulted; only
	// route-shape guidance is present in that case.
	Degraded bool `json:"degraded,omitempty"`
}

// HasAdvice reports whether there is anything to tell the generator.
func (a Advice) HasAdvice() bool {
	return len(a.Avoid) > 0 || len(a.Use) > 0
}

// SessionStats summarizes one feedback cycle. It is discarded when the
// cycle ends.
type SessionStats struct {
	Total         int           `json:"total"`
	Created       int           `json:"created"`
	Existing      int           `json:"existing"`
	Failed        int           `json:"failed"`
	RepairsStored int           `json:"repairs_stored"`
	Entities      []string      `json:"entities,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Stored is the number of events that reached the store.
func (s SessionStats) Stored() int {
	return s.Created + s.Existing
}

// Summary renders a one-line human summary of the cycle.
func (s SessionStats) Summary() string {
	if s.Total == 0 {
		return "no failures collected"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d failure(s): %d new pattern(s), %d recurring", s.Total, s.Created, s.Existing)
	if s.RepairsStored > 0 {
		fmt.Fprintf(&b, ", %d repair(s)", s.RepairsStored)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	return b.String()
}

// BatchResult aggregates one bridge batch.
type BatchResult struct {
	Bridged          int      `json:"bridged"`
	NewPatterns      int      `json:"new_patterns"`
	ExistingPatterns int      `json:"existing_patterns"`
	Failed           int      `json:"failed"`
	Errors           []string `json:"errors,omitempty"`
}

// Adjustment types understood by templated generators.
const (
	AdjustNullable   = "nullable"
	AdjustDefault    = "default"
	AdjustTypeCoerce = "type_coerce"
	AdjustLazyLoad   = "lazy_load"
	AdjustOptional   = "optional"
)

// FieldOverride is a deterministic change a templated generator applies to
// one field. Unset keys are omitted from JSON.
type FieldOverride struct {
	Nullable   *bool  `json:"nullable,omitempty"`
	Default    any    `json:"default,omitempty"`
	Lazy       string `json:"lazy,omitempty"`
	Optional   *bool  `json:"optional,omitempty"`
	TypeCoerce *bool  `json:"type_coerce,omitempty"`
	Rationale  string `json:"-"`
}

// IsZero reports whether no override key is set.
func (o FieldOverride) IsZero() bool {
	return o.Nullable == nil && o.Default == nil && o.Lazy == "" && o.Optional == nil && o.TypeCoerce == nil
}

// RelationshipOverride changes how a relationship is declared.
type RelationshipOverride struct {
	Nullable bool   `json:"nullable"`
	OnDelete string `json:"on_delete,omitempty"`
}

// Adjustments are the structural overrides for one entity.
type Adjustments struct {
	Entity        string                          `json:"entity"`
	Fields        map[string]FieldOverride        `json:"fields"`
	Relationships map[string]RelationshipOverride `json:"relationships,omitempty"`
	// Rationale maps a field name to why it was overridden.
	Rationale map[string]string `json:"rationale,omitempty"`
}

// Empty reports whether there are no overrides at all.
func (a Adjustments) Empty() bool {
	return len(a.Fields) == 0 && len(a.Relationships) == 0
}
