// Package feedback runs one learning cycle: the failures of a generation
// attempt are collected, classified, stored and summarized.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/scbrown/genfeedback/internal/classify"
	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/notify"
	"github.com/scbrown/genfeedback/internal/store"
)

var tracer = otel.Tracer("genfeedback.feedback")

// DefaultWorkers bounds how many events of one cycle are stored at once.
const DefaultWorkers = 4

// Phase is a step of the cycle.
type Phase string

const (
	PhaseCollect   Phase = "collect"
	PhaseClassify  Phase = "classify"
	PhaseStore     Phase = "store"
	PhaseSummarize Phase = "summarize"
)

// Orchestrator runs feedback cycles against one store.
type Orchestrator struct {
	store      store.Store
	classifier *classify.Classifier
	bus        notify.Bus
	workers    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithBus publishes an invalidation for each entity a cycle touched.
func WithBus(bus notify.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithWorkers sets the worker bound. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator storing into s.
func New(s store.Store, c *classify.Classifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      s,
		classifier: c,
		workers:    DefaultWorkers,
		logger:     slog.New(slog.DiscardHandler),
		metrics:    metrics.New(nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// outcome is the per-event result, discarded after SUMMARIZE.
type outcome struct {
	created bool
	repair  bool
	entity  string
	err     error
}

// Cycle processes the failures observed while generating gc. It never
// fails as a whole: each event that cannot be classified or stored is
// counted as failed and the others proceed.
func (o *Orchestrator) Cycle(ctx context.Context, gc model.GenContext, events []model.FailureEvent) model.SessionStats {
	start := o.now()
	ctx, span := tracer.Start(ctx, "Orchestrator.Cycle",
		trace.WithAttributes(
			attribute.String("cycle.entity", gc.Entity),
			attribute.Int("cycle.events", len(events)),
		),
	)
	defer span.End()

	// COLLECT
	o.logger.Debug("cycle phase", "phase", PhaseCollect, "events", len(events), "entity", gc.Entity)
	o.metrics.CyclesTotal.Inc()
	o.metrics.FailuresCollected.Add(float64(len(events)))

	// CLASSIFY and STORE, one worker per event up to the bound.
	outcomes := make([]outcome, len(events))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, ev := range events {
		g.Go(func() error {
			outcomes[i] = o.process(ctx, gc, ev)
			return nil
		})
	}
	_ = g.Wait()

	// SUMMARIZE
	stats := model.SessionStats{Total: len(events)}
	var touched []string
	for i, out := range outcomes {
		switch {
		case out.err != nil:
			stats.Failed++
			o.metrics.PatternsStored.WithLabelValues(metrics.OutcomeFailed).Inc()
			o.logger.Warn("failure event not stored", "index", i, "error", out.err)
			continue
		case out.created:
			stats.Created++
			o.metrics.PatternsStored.WithLabelValues(metrics.OutcomeCreated).Inc()
		default:
			stats.Existing++
			o.metrics.PatternsStored.WithLabelValues(metrics.OutcomeExisting).Inc()
		}
		if out.repair {
			stats.RepairsStored++
		}
		touched = append(touched, out.entity)
		if out.entity != model.Wildcard && !slices.Contains(stats.Entities, out.entity) {
			stats.Entities = append(stats.Entities, out.entity)
		}
	}
	slices.Sort(stats.Entities)
	stats.Duration = o.now().Sub(start)
	o.metrics.CycleDuration.Observe(stats.Duration.Seconds())

	if err := notify.PublishEntities(ctx, o.bus, notify.OriginCycle, touched); err != nil {
		o.logger.Warn("publish invalidation", "error", err)
	}

	span.SetAttributes(
		attribute.Int("cycle.created", stats.Created),
		attribute.Int("cycle.existing", stats.Existing),
		attribute.Int("cycle.failed", stats.Failed),
		attribute.Int("cycle.repairs", stats.RepairsStored),
	)
	o.logger.Info("feedback cycle", "phase", PhaseSummarize, "summary", stats.Summary(), "duration", stats.Duration)
	return stats
}

func (o *Orchestrator) process(ctx context.Context, gc model.GenContext, ev model.FailureEvent) outcome {
	cl, err := o.classifier.Classify(gc, ev)
	if err != nil {
		return outcome{err: fmt.Errorf("classify: %w", err)}
	}
	o.logger.Debug("cycle phase", "phase", PhaseClassify, "pattern_id", cl.ID, "kind", cl.Kind)

	now := o.now()
	rec, created, err := o.store.Upsert(ctx, cl.AntiPattern(now))
	if err != nil {
		return outcome{err: fmt.Errorf("store pattern: %w", err)}
	}
	out := outcome{created: created, entity: rec.EntityPattern}
	o.logger.Debug("cycle phase", "phase", PhaseStore, "pattern_id", rec.ID, "created", created, "occurrences", rec.OccurrenceCount)

	if cl.HasRepair() {
		if _, _, err := o.store.UpsertRepair(ctx, cl.Repair(now)); err != nil {
			o.logger.Warn("repair not stored", "pattern_id", rec.ID, "error", err)
		} else {
			out.repair = true
			o.metrics.RepairsStored.Inc()
		}
	}
	return out
}
