// Package store defines the persistence interface for anti-patterns and
// repair patterns, and the backends that implement it.
package store

import (
	"context"
	"time"

	"github.com/scbrown/genfeedback/internal/model"
)

// DefaultMinOccurrences is the query threshold used when QueryOpts leaves
// MinOccurrences unset. It keeps one-off noise out of generation.
const DefaultMinOccurrences = 2

// Store is the persistence interface for learned failure knowledge. Every
// backend gives the same guarantees: one record per id, occurrence and
// success counters that never lose an increment, and descriptive fields that
// are kept from the first write.
type Store interface {
	// Get returns the anti-pattern with the given id, or nil if absent.
	Get(ctx context.Context, id string) (*model.AntiPattern, error)

	// Upsert creates p with OccurrenceCount 1 or, if a record with p.ID
	// exists, increments its count and advances LastSeen. The stored record
	// is returned along with whether this call created it.
	Upsert(ctx context.Context, p model.AntiPattern) (model.AntiPattern, bool, error)

	// Query returns anti-patterns matching opts, ordered by severity then
	// occurrence count, both descending.
	Query(ctx context.Context, opts QueryOpts) ([]model.AntiPattern, error)

	// GetRepair returns the repair pattern with the given id, or nil if absent.
	GetRepair(ctx context.Context, id string) (*model.RepairPattern, error)

	// UpsertRepair is Upsert for the repair namespace; SuccessCount and
	// LastApplied are the moving fields.
	UpsertRepair(ctx context.Context, r model.RepairPattern) (model.RepairPattern, bool, error)

	// QueryRepairs returns repair patterns matching opts, most successful first.
	QueryRepairs(ctx context.Context, opts RepairQueryOpts) ([]model.RepairPattern, error)

	// Stats returns summary statistics about stored knowledge.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

// QueryOpts controls filtering for Query.
type QueryOpts struct {
	Entity         string          // Exact entity; wildcard records also match. Empty means any.
	Endpoint       string          // Normalized endpoint; wildcard records also match. Empty means any.
	ErrorType      string          // Filter by error type.
	Kind           model.ErrorKind // Filter by error kind.
	MinOccurrences int             // Minimum occurrence count; 0 means DefaultMinOccurrences.
	Limit          int             // Maximum results; 0 means no limit.
}

// Threshold returns the effective minimum occurrence count.
func (o QueryOpts) Threshold() int {
	if o.MinOccurrences <= 0 {
		return DefaultMinOccurrences
	}
	return o.MinOccurrences
}

// RepairQueryOpts controls filtering for QueryRepairs.
type RepairQueryOpts struct {
	Entity     string // Exact entity; wildcard records also match. Empty means any.
	Endpoint   string // Normalized endpoint; wildcard records also match. Empty means any.
	RepairType string // Filter by repair type.
	Limit      int    // Maximum results; 0 means no limit.
}

// NameCount pairs a name with its count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats holds summary statistics about stored knowledge.
type Stats struct {
	AntiPatterns int            `json:"anti_patterns"`
	Repairs      int            `json:"repairs"`
	Occurrences  int            `json:"occurrences"`
	ByErrorType  map[string]int `json:"by_error_type"`
	ByKind       map[string]int `json:"by_kind"`
	TopEntities  []NameCount    `json:"top_entities"`
	Earliest     time.Time      `json:"earliest"`
	Latest       time.Time      `json:"latest"`
}
