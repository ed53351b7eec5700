// Package loop wires the feedback loop together. A Loop owns one store
// handle and builds every component from it; nothing in the loop is held in
// package-level state.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/scbrown/genfeedback/internal/adjust"
	"github.com/scbrown/genfeedback/internal/advisor"
	"github.com/scbrown/genfeedback/internal/bridge"
	"github.com/scbrown/genfeedback/internal/classify"
	"github.com/scbrown/genfeedback/internal/feedback"
	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/notify"
	"github.com/scbrown/genfeedback/internal/prompt"
	"github.com/scbrown/genfeedback/internal/store"
)

// Options configures New. Only Store is required.
type Options struct {
	Store store.Store
	// Priors override the default severity table.
	Priors classify.Priors
	// Bus carries advice invalidations. Nil means an in-process bus.
	Bus            notify.Bus
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	StoreTimeout   time.Duration
	Workers        int
	AdviceCap      int
	MinOccurrences int
}

// Loop is the feedback loop context.
type Loop struct {
	store      *store.FailSoft
	classifier *classify.Classifier
	cycle      *feedback.Orchestrator
	bridge     *bridge.Bridge
	advisor    *advisor.Advisor
	adjuster   *adjust.Adjuster
	bus        notify.Bus
	logger     *slog.Logger
	metrics    *metrics.Metrics
	minOcc     int
	adviceCap  int

	mu     sync.Mutex
	unsubs []func()
}

// New builds a Loop around opts.Store. The store is wrapped in a
// store.FailSoft guard so no component sees a raw backend error.
func New(opts Options) (*Loop, error) {
	if opts.Store == nil {
		return nil, errors.New("loop: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	bus := opts.Bus
	if bus == nil {
		bus = notify.NewLocal()
	}

	l := &Loop{
		store:      store.NewFailSoft(opts.Store, opts.StoreTimeout, logger.With("component", "store"), m),
		classifier: classify.New(opts.Priors),
		bus:        bus,
		logger:     logger,
		metrics:    m,
		minOcc:     opts.MinOccurrences,
		adviceCap:  opts.AdviceCap,
	}
	l.cycle = feedback.New(l.store, l.classifier,
		feedback.WithLogger(logger.With("component", "feedback")),
		feedback.WithMetrics(m),
		feedback.WithBus(bus),
		feedback.WithWorkers(opts.Workers),
	)
	l.bridge = bridge.New(l.store, l.classifier,
		bridge.WithLogger(logger.With("component", "bridge")),
		bridge.WithMetrics(m),
		bridge.WithBus(bus),
	)
	l.adjuster = adjust.New(l.store,
		adjust.WithLogger(logger.With("component", "adjust")),
		adjust.WithMinOccurrences(opts.MinOccurrences),
	)
	adv, err := l.NewAdvisor()
	if err != nil {
		return nil, err
	}
	l.advisor = adv
	return l, nil
}

// NewAdvisor returns an advisor with its own cache over the loop's store,
// subscribed to the loop's invalidation bus. Generation sessions that want
// an isolated cache use this; the subscription ends when the Loop closes.
func (l *Loop) NewAdvisor() (*advisor.Advisor, error) {
	a := advisor.New(l.store,
		advisor.WithLogger(l.logger.With("component", "advisor")),
		advisor.WithMetrics(l.metrics),
		advisor.WithCap(l.adviceCap),
	)
	unsub, err := a.Listen(l.bus)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.unsubs = append(l.unsubs, unsub)
	l.mu.Unlock()
	return a, nil
}

// FeedbackCycle runs one learning cycle over events.
func (l *Loop) FeedbackCycle(ctx context.Context, events []model.FailureEvent) model.SessionStats {
	return l.cycle.Cycle(ctx, model.GenContext{}, events)
}

// FeedbackCycleFor runs one learning cycle over events observed while
// generating gc.
func (l *Loop) FeedbackCycleFor(ctx context.Context, gc model.GenContext, events []model.FailureEvent) model.SessionStats {
	return l.cycle.Cycle(ctx, gc, events)
}

// Advise returns the loop advisor's guidance. A minOccurrences of 0 uses
// the configured default.
func (l *Loop) Advise(ctx context.Context, entity, endpoint string, minOccurrences int) model.Advice {
	if minOccurrences <= 0 {
		minOccurrences = l.minOcc
	}
	return l.advisor.Advise(ctx, entity, endpoint, minOccurrences)
}

// PromptFor renders the guidance for entity and endpoint as prompt text.
func (l *Loop) PromptFor(ctx context.Context, entity, endpoint string) string {
	return prompt.Render(l.Advise(ctx, entity, endpoint, 0))
}

// AdjustmentsFor returns the structural overrides for entity.
func (l *Loop) AdjustmentsFor(ctx context.Context, entity string) model.Adjustments {
	return l.adjuster.AdjustmentsFor(ctx, entity)
}

// Bridge returns the loop's violation bridge.
func (l *Loop) Bridge() *bridge.Bridge { return l.bridge }

// Advisor returns the loop's shared advisor.
func (l *Loop) Advisor() *advisor.Advisor { return l.advisor }

// Store returns the guarded store every component uses.
func (l *Loop) Store() store.Store { return l.store }

// Bus returns the invalidation bus.
func (l *Loop) Bus() notify.Bus { return l.bus }

// Close ends advisor subscriptions and closes the bus and the store.
func (l *Loop) Close() error {
	l.mu.Lock()
	unsubs := l.unsubs
	l.unsubs = nil
	l.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	return errors.Join(l.bus.Close(), l.store.Close())
}
