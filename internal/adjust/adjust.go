// Package adjust derives deterministic structural overrides for templated
// generators from the anti-patterns recorded for an entity.
package adjust

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/store"
)

// DefaultMinOccurrences is the sightings a pattern needs before it changes
// the generated structure.
const DefaultMinOccurrences = 1

// Rule turns a pattern affecting field into an override and the reason
// for it.
type Rule func(field string, p model.AntiPattern) (model.FieldOverride, string)

// Rules maps each error kind to the override it produces. Kinds without a
// rule produce nothing.
type Rules map[model.ErrorKind]Rule

// DefaultRules returns the built-in kind table.
func DefaultRules() Rules {
	yes := true
	return Rules{
		model.KindIntegrity: func(string, model.AntiPattern) (model.FieldOverride, string) {
			return model.FieldOverride{Nullable: &yes}, "FK constraint error"
		},
		model.KindValidation: func(field string, _ model.AntiPattern) (model.FieldOverride, string) {
			return model.FieldOverride{Default: DefaultFor(field)}, "validation error"
		},
		model.KindType: func(string, model.AntiPattern) (model.FieldOverride, string) {
			return model.FieldOverride{TypeCoerce: &yes}, "type mismatch"
		},
		model.KindAttribute: func(string, model.AntiPattern) (model.FieldOverride, string) {
			return model.FieldOverride{Lazy: "select"}, "lazy-load access error"
		},
		model.KindFieldRequired: func(string, model.AntiPattern) (model.FieldOverride, string) {
			return model.FieldOverride{Optional: &yes}, "required field missing"
		},
	}
}

// DefaultFor picks a default value from the shape of a field name.
func DefaultFor(field string) any {
	f := strings.ToLower(field)
	switch {
	case strings.HasPrefix(f, "is_"), strings.HasPrefix(f, "has_"), strings.HasPrefix(f, "can_"),
		f == "active", f == "enabled", f == "deleted":
		return false
	case strings.HasSuffix(f, "_count"), strings.HasSuffix(f, "quantity"), strings.HasSuffix(f, "qty"),
		f == "count", f == "position", f == "sort_order":
		return 0
	case strings.Contains(f, "price"), strings.Contains(f, "amount"), strings.Contains(f, "total"),
		strings.Contains(f, "balance"), strings.HasSuffix(f, "_rate"):
		return 0.0
	case strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") && !strings.HasSuffix(f, "status"):
		return []any{}
	}
	return ""
}

// Adjuster reads patterns from a store and maps them to overrides. It holds
// no state between calls.
type Adjuster struct {
	store  store.Store
	rules  Rules
	minOcc int
	logger *slog.Logger
}

// Option configures an Adjuster.
type Option func(*Adjuster)

// WithRules replaces entries of the default kind table.
func WithRules(r Rules) Option {
	return func(a *Adjuster) {
		for k, rule := range r {
			a.rules[k] = rule
		}
	}
}

// WithMinOccurrences sets the sighting threshold. Values below 1 are ignored.
func WithMinOccurrences(n int) Option {
	return func(a *Adjuster) {
		if n > 0 {
			a.minOcc = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adjuster) {
		if l != nil {
			a.logger = l
		}
	}
}

// New returns an Adjuster reading from s.
func New(s store.Store, opts ...Option) *Adjuster {
	a := &Adjuster{
		store:  s,
		rules:  DefaultRules(),
		minOcc: DefaultMinOccurrences,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AdjustmentsFor returns the overrides for entity. Only patterns recorded
// against the entity itself count; wildcard patterns never change
// structure. When the store is unavailable the result is empty.
func (a *Adjuster) AdjustmentsFor(ctx context.Context, entity string) model.Adjustments {
	entity = fingerprint.NormalizeEntity(entity)
	adj := model.Adjustments{
		Entity:        entity,
		Fields:        map[string]model.FieldOverride{},
		Relationships: map[string]model.RelationshipOverride{},
		Rationale:     map[string]string{},
	}
	if entity == model.Wildcard {
		return adj
	}

	patterns, err := a.store.Query(ctx, store.QueryOpts{Entity: entity, MinOccurrences: a.minOcc})
	if err != nil {
		a.logger.Debug("adjustments unavailable", "entity", entity, "error", err)
		return adj
	}

	for _, p := range patterns {
		if p.EntityPattern != entity {
			continue
		}
		field := p.Field()
		if field == "" {
			field = fingerprint.ExtractField(p.ErrorMessagePattern)
		}
		if field == "" {
			continue
		}
		kind := p.Kind
		rule, ok := a.rules[kind]
		if !ok {
			continue
		}
		ov, why := rule(field, p)
		if ov.IsZero() {
			continue
		}

		merged, changed := merge(adj.Fields[field], ov)
		adj.Fields[field] = merged
		if changed {
			reason := fmt.Sprintf("%s (%s, seen %dx)", why, p.ExceptionClass, p.OccurrenceCount)
			if prev, ok := adj.Rationale[field]; ok {
				reason = prev + "; " + reason
			}
			adj.Rationale[field] = reason
		}

		if kind == model.KindIntegrity && strings.HasSuffix(field, "_id") {
			rel := strings.TrimSuffix(field, "_id")
			if _, ok := adj.Relationships[rel]; !ok {
				adj.Relationships[rel] = model.RelationshipOverride{Nullable: true, OnDelete: "SET NULL"}
			}
		}
	}
	return adj
}

// merge fills the keys of dst that are unset from src. Patterns arrive
// ranked, so the higher-ranked pattern's value for a key wins.
func merge(dst, src model.FieldOverride) (model.FieldOverride, bool) {
	changed := false
	if dst.Nullable == nil && src.Nullable != nil {
		dst.Nullable, changed = src.Nullable, true
	}
	if dst.Default == nil && src.Default != nil {
		dst.Default, changed = src.Default, true
	}
	if dst.Lazy == "" && src.Lazy != "" {
		dst.Lazy, changed = src.Lazy, true
	}
	if dst.Optional == nil && src.Optional != nil {
		dst.Optional, changed = src.Optional, true
	}
	if dst.TypeCoerce == nil && src.TypeCoerce != nil {
		dst.TypeCoerce, changed = src.TypeCoerce, true
	}
	return dst, changed
}
