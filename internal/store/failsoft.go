package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/model"
)

// DefaultTimeout bounds a single guarded store operation.
const DefaultTimeout = 2 * time.Second

// ErrUnavailable matches every error returned by FailSoft.
var ErrUnavailable = errors.New("store unavailable")

// UnavailableError is the typed outcome of a store operation that failed or
// timed out. Callers treat it as "no match" or "not stored".
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUnavailable.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// IsUnavailable reports whether err came from a failed guarded operation.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// FailSoft wraps a Store so that every operation has a bounded duration and
// every failure surfaces as an *UnavailableError. The failure is logged and
// counted here, once, so callers only need to degrade.
type FailSoft struct {
	inner   Store
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFailSoft guards inner. A zero timeout means DefaultTimeout; nil logger
// and metrics are replaced with no-op equivalents.
func NewFailSoft(inner Store, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *FailSoft {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &FailSoft{inner: inner, timeout: timeout, logger: logger, metrics: m}
}

// Inner returns the wrapped store.
func (f *FailSoft) Inner() Store { return f.inner }

type result[T any] struct {
	val T
	err error
}

// guard runs fn with a deadline. If the backend does not return in time the
// caller is released with a timeout error; the backend call finishes on its
// own and its result is dropped.
func guard[T any](ctx context.Context, f *FailSoft, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	start := time.Now()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- result[T]{val: v, err: err}
	}()

	var r result[T]
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	f.metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if r.err == nil {
		return r.val, nil
	}

	f.metrics.StoreErrors.WithLabelValues(op).Inc()
	f.logger.Warn("store operation failed", "op", op, "timeout", f.timeout, "err", r.err)
	var zero T
	return zero, &UnavailableError{Op: op, Err: r.err}
}

type upserted[T any] struct {
	rec     T
	created bool
}

func (f *FailSoft) Get(ctx context.Context, id string) (*model.AntiPattern, error) {
	return guard(ctx, f, "get", func(ctx context.Context) (*model.AntiPattern, error) {
		return f.inner.Get(ctx, id)
	})
}

func (f *FailSoft) Upsert(ctx context.Context, p model.AntiPattern) (model.AntiPattern, bool, error) {
	u, err := guard(ctx, f, "upsert", func(ctx context.Context) (upserted[model.AntiPattern], error) {
		rec, created, err := f.inner.Upsert(ctx, p)
		return upserted[model.AntiPattern]{rec, created}, err
	})
	return u.rec, u.created, err
}

func (f *FailSoft) Query(ctx context.Context, opts QueryOpts) ([]model.AntiPattern, error) {
	return guard(ctx, f, "query", func(ctx context.Context) ([]model.AntiPattern, error) {
		return f.inner.Query(ctx, opts)
	})
}

func (f *FailSoft) GetRepair(ctx context.Context, id string) (*model.RepairPattern, error) {
	return guard(ctx, f, "get_repair", func(ctx context.Context) (*model.RepairPattern, error) {
		return f.inner.GetRepair(ctx, id)
	})
}

func (f *FailSoft) UpsertRepair(ctx context.Context, r model.RepairPattern) (model.RepairPattern, bool, error) {
	u, err := guard(ctx, f, "upsert_repair", func(ctx context.Context) (upserted[model.RepairPattern], error) {
		rec, created, err := f.inner.UpsertRepair(ctx, r)
		return upserted[model.RepairPattern]{rec, created}, err
	})
	return u.rec, u.created, err
}

func (f *FailSoft) QueryRepairs(ctx context.Context, opts RepairQueryOpts) ([]model.RepairPattern, error) {
	return guard(ctx, f, "query_repairs", func(ctx context.Context) ([]model.RepairPattern, error) {
		return f.inner.QueryRepairs(ctx, opts)
	})
}

func (f *FailSoft) Stats(ctx context.Context) (Stats, error) {
	return guard(ctx, f, "stats", func(ctx context.Context) (Stats, error) {
		return f.inner.Stats(ctx)
	})
}

// Close closes the wrapped store.
func (f *FailSoft) Close() error {
	return f.inner.Close()
}
