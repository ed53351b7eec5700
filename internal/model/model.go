// Package model defines core types for genfeedback: fingerprints (the identity
// of a class of failure), anti-patterns and repair patterns (the persisted
// knowledge), and the derived advice and overrides fed back into generation.
package model

import (
	"strings"
	"time"
)

// Wildcard marks an unscoped fingerprint field.
const Wildcard = "*"

// Error types produced by the normalizer.
const (
	ErrorTypeNotFound      = "not_found"
	ErrorTypeValidation    = "validation_error"
	ErrorTypeBusinessLogic = "business_logic"
	ErrorTypeServer        = "server_error"
	ErrorTypeBadRequest    = "bad_request"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeForbidden     = "forbidden"
)

// Fingerprint is the normalized identity of a class of failure. Two failures
// are the same pattern iff all five fields are equal.
type Fingerprint struct {
	ErrorType       string `json:"error_type"`
	ExceptionClass  string `json:"exception_class"`
	EntityPattern   string `json:"entity_pattern"`
	EndpointPattern string `json:"endpoint_pattern"`
	FieldPattern    string `json:"field_pattern"`
}

// Key returns the canonical dedup key. Empty fields are treated as wildcards
// so a zero-valued field and "*" never produce two keys.
func (f Fingerprint) Key() string {
	return strings.Join([]string{
		orWildcard(f.ErrorType),
		orWildcard(f.ExceptionClass),
		orWildcard(f.EntityPattern),
		orWildcard(f.EndpointPattern),
		orWildcard(f.FieldPattern),
	}, "|")
}

// Canonical returns f with empty fields replaced by Wildcard.
func (f Fingerprint) Canonical() Fingerprint {
	return Fingerprint{
		ErrorType:       orWildcard(f.ErrorType),
		ExceptionClass:  orWildcard(f.ExceptionClass),
		EntityPattern:   orWildcard(f.EntityPattern),
		EndpointPattern: orWildcard(f.EndpointPattern),
		FieldPattern:    orWildcard(f.FieldPattern),
	}
}

// AntiPattern is a recurring failure class with occurrence statistics and
// sample code. ID is derived from the fingerprint and never changes.
type AntiPattern struct {
	ID string `json:"pattern_id"`
	Fingerprint
	Kind                ErrorKind `json:"error_kind"`
	ErrorMessagePattern string    `json:"error_message_pattern"`
	BadCodeSnippet      string    `json:"bad_code_snippet,omitempty"`
	CorrectCodeSnippet  string    `json:"correct_code_snippet,omitempty"`
	OccurrenceCount     int       `json:"occurrence_count"`
	SeverityScore       float64   `json:"severity_score"`
	CreatedAt           time.Time `json:"created_at"`
	LastSeen            time.Time `json:"last_seen"`
}

// HighRisk reports whether the pattern should be surfaced as high risk.
func (p AntiPattern) HighRisk() bool {
	return p.SeverityScore >= 0.7 || p.OccurrenceCount >= 3
}

// Field returns the affected field, or "" when the pattern is unscoped.
func (p AntiPattern) Field() string {
	if p.FieldPattern == "" || p.FieldPattern == Wildcard {
		return ""
	}
	return p.FieldPattern
}

// RepairKey identifies a class of successful fix.
type RepairKey struct {
	RepairType      string `json:"repair_type"`
	EntityPattern   string `json:"entity_pattern"`
	EndpointPattern string `json:"endpoint_pattern"`
	FieldPattern    string `json:"field_pattern"`
}

// Key returns the canonical dedup key for the repair namespace.
func (k RepairKey) Key() string {
	return strings.Join([]string{
		orWildcard(k.RepairType),
		orWildcard(k.EntityPattern),
		orWildcard(k.EndpointPattern),
		orWildcard(k.FieldPattern),
	}, "|")
}

// Canonical returns k with empty fields replaced by Wildcard.
func (k RepairKey) Canonical() RepairKey {
	return RepairKey{
		RepairType:      orWildcard(k.RepairType),
		EntityPattern:   orWildcard(k.EntityPattern),
		EndpointPattern: orWildcard(k.EndpointPattern),
		FieldPattern:    orWildcard(k.FieldPattern),
	}
}

// RepairPattern is a fix that made a failing generation pass.
type RepairPattern struct {
	ID string `json:"repair_id"`
	RepairKey
	FixDescription string    `json:"fix_description"`
	CodeSnippet    string    `json:"code_snippet,omitempty"`
	TargetFileHint string    `json:"target_file_hint,omitempty"`
	SuccessCount   int       `json:"success_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastApplied    time.Time `json:"last_applied"`
}

func orWildcard(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Wildcard
	}
	return s
}
