// Package advisor turns stored anti-patterns and repairs into ranked,
// bounded guidance for one entity and route.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/notify"
	"github.com/scbrown/genfeedback/internal/store"
)

const (
	// DefaultMinOccurrences is used when Advise is called with 0. Advice
	// surfaces a pattern from its first sighting.
	DefaultMinOccurrences = 1
	// DefaultCap bounds each of the avoid and use lists.
	DefaultCap = 10
	// maxMessageRunes bounds the message part of an avoid line.
	maxMessageRunes = 120
	// repairLimit bounds the repairs consulted per request.
	repairLimit = 20
)

type cacheKey struct {
	entity   string
	endpoint string
	minOcc   int
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.entity, k.endpoint, k.minOcc)
}

// Advisor answers advice requests from a store. Results are cached per
// (entity, endpoint, min occurrences) until invalidated; the cache never
// expires on a timer.
type Advisor struct {
	store   store.Store
	cap     int
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	cache map[cacheKey]model.Advice
	// gen is bumped by every invalidation. A build that started under an
	// older generation is returned but not cached.
	gen   uint64
	group singleflight.Group
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Advisor) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Advisor) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithCap sets the per-list item bound. Values below 1 are ignored.
func WithCap(n int) Option {
	return func(a *Advisor) {
		if n > 0 {
			a.cap = n
		}
	}
}

// New returns an Advisor reading from s.
func New(s store.Store, opts ...Option) *Advisor {
	a := &Advisor{
		store:   s,
		cap:     DefaultCap,
		logger:  slog.New(slog.DiscardHandler),
		metrics: metrics.New(nil),
		cache:   make(map[cacheKey]model.Advice),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Advise returns guidance for entity on endpoint ("METHOD /path", may be
// empty). When the entity is empty it is inferred from the path. A store
// failure yields degraded advice: nothing learned is included, only the
// route heuristics, which need no stored knowledge and are what generation
// would get without a feedback loop at all.
func (a *Advisor) Advise(ctx context.Context, entity, endpoint string, minOccurrences int) model.Advice {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}
	method, path := fingerprint.SplitEndpoint(endpoint)
	if path != "" {
		path = fingerprint.NormalizePath(path)
	}
	if strings.TrimSpace(entity) == "" {
		entity = fingerprint.InferEntity(path)
	} else {
		entity = fingerprint.NormalizeEntity(entity)
	}
	key := cacheKey{entity: entity, endpoint: strings.TrimSpace(method + " " + path), minOcc: minOccurrences}

	a.mu.Lock()
	if adv, ok := a.cache[key]; ok {
		a.mu.Unlock()
		a.metrics.AdviceRequests.WithLabelValues(metrics.ResultHit).Inc()
		return cloneAdvice(adv)
	}
	gen := a.gen
	a.mu.Unlock()

	v, _, _ := a.group.Do(key.String(), func() (any, error) {
		adv := a.build(ctx, key, method, path)
		if !adv.Degraded {
			a.mu.Lock()
			if a.gen == gen {
				a.cache[key] = adv
			}
			a.mu.Unlock()
		}
		return adv, nil
	})
	adv := v.(model.Advice)
	if adv.Degraded {
		a.metrics.AdviceRequests.WithLabelValues(metrics.ResultDegraded).Inc()
	} else {
		a.metrics.AdviceRequests.WithLabelValues(metrics.ResultMiss).Inc()
	}
	return cloneAdvice(adv)
}

func (a *Advisor) build(ctx context.Context, key cacheKey, method, path string) model.Advice {
	adv := model.Advice{Entity: key.entity, Endpoint: key.endpoint}

	var avoid, use []string
	patterns, err := a.store.Query(ctx, store.QueryOpts{Entity: key.entity, MinOccurrences: key.minOcc})
	if err != nil {
		adv.Degraded = true
		a.logger.Debug("advice degraded", "entity", key.entity, "error", err)
	}
	for _, p := range patterns {
		if p.HighRisk() {
			adv.HighRisk++
		} else {
			adv.MediumRisk++
		}
		avoid = append(avoid, avoidLine(p))
		if line := fingerprint.FirstLine(p.CorrectCodeSnippet); line != "" {
			use = append(use, line)
		}
	}
	adv.Matched = patterns

	if !adv.Degraded {
		repairs, err := a.store.QueryRepairs(ctx, store.RepairQueryOpts{Entity: key.entity, Limit: repairLimit})
		if err != nil {
			a.logger.Debug("repairs unavailable", "entity", key.entity, "error", err)
		}
		for _, r := range repairs {
			if d := strings.TrimSpace(r.FixDescription); d != "" {
				use = append(use, d)
			}
		}
	}

	name := key.entity
	if name == model.Wildcard {
		name = "resource"
	}
	if needsExistenceCheck(method, path) {
		use = slices.Insert(use, 0, existenceCheckAdvice(name))
	}
	if action := actionKeyword(path); action != "" {
		use = append(use, statePreconditionAdvice(name, action))
	}

	adv.Avoid = capped(dedupe(avoid), a.cap)
	adv.Use = capped(dedupe(use), a.cap)
	return adv
}

// avoidLine renders one pattern as an avoid item: exception class, field,
// message and the first line of the failing code.
func avoidLine(p model.AntiPattern) string {
	var b strings.Builder
	b.WriteString(p.ExceptionClass)
	if f := p.Field(); f != "" {
		fmt.Fprintf(&b, " on field '%s'", f)
	}
	if p.EndpointPattern != "" && p.EndpointPattern != model.Wildcard {
		fmt.Fprintf(&b, " at %s", p.EndpointPattern)
	}
	if msg := fingerprint.Truncate(p.ErrorMessagePattern, maxMessageRunes); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	}
	if line := fingerprint.FirstLine(p.BadCodeSnippet); line != "" {
		fmt.Fprintf(&b, " (failing code: %s)", line)
	}
	return b.String()
}

func capped(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func cloneAdvice(a model.Advice) model.Advice {
	a.Avoid = slices.Clone(a.Avoid)
	a.Use = slices.Clone(a.Use)
	a.Matched = slices.Clone(a.Matched)
	return a
}

// Invalidate drops every cached answer for entity. The wildcard entity
// drops everything, since wildcard patterns match every entity.
func (a *Advisor) Invalidate(entity string) {
	a.invalidate(entity, notify.OriginManual)
}

// InvalidateAll empties the cache.
func (a *Advisor) InvalidateAll() {
	a.invalidate(model.Wildcard, notify.OriginManual)
}

func (a *Advisor) invalidate(entity, origin string) {
	all := entity == "" || entity == model.Wildcard
	if !all {
		entity = fingerprint.NormalizeEntity(entity)
	}
	a.mu.Lock()
	a.gen++
	if all {
		clear(a.cache)
	} else {
		for k := range a.cache {
			if k.entity == entity || k.entity == model.Wildcard {
				delete(a.cache, k)
			}
		}
	}
	a.mu.Unlock()
	a.metrics.Invalidations.WithLabelValues(origin).Inc()
}

// Listen subscribes the advisor's cache to bus. The returned function
// stops listening.
func (a *Advisor) Listen(bus notify.Bus) (func(), error) {
	return bus.Subscribe(func(inv notify.Invalidation) {
		origin := inv.Origin
		if origin == "" {
			origin = notify.OriginManual
		}
		a.logger.Debug("advice invalidated", "entity", inv.Entity, "origin", origin)
		a.invalidate(inv.Entity, origin)
	})
}

// CacheLen returns the number of cached answers.
func (a *Advisor) CacheLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cache)
}
