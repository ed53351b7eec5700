package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/model"
)

// brokenStore fails or blocks every operation.
type brokenStore struct {
	err   error
	block chan struct{}
}

func (b *brokenStore) wait(ctx context.Context) error {
	if b.block != nil {
		<-b.block
	}
	return b.err
}

func (b *brokenStore) Get(ctx context.Context, id string) (*model.AntiPattern, error) {
	return nil, b.wait(ctx)
}

func (b *brokenStore) Upsert(ctx context.Context, p model.AntiPattern) (model.AntiPattern, bool, error) {
	return p, true, b.wait(ctx)
}

func (b *brokenStore) Query(ctx context.Context, opts QueryOpts) ([]model.AntiPattern, error) {
	return nil, b.wait(ctx)
}

func (b *brokenStore) GetRepair(ctx context.Context, id string) (*model.RepairPattern, error) {
	return nil, b.wait(ctx)
}

func (b *brokenStore) UpsertRepair(ctx context.Context, r model.RepairPattern) (model.RepairPattern, bool, error) {
	return r, true, b.wait(ctx)
}

func (b *brokenStore) QueryRepairs(ctx context.Context, opts RepairQueryOpts) ([]model.RepairPattern, error) {
	return nil, b.wait(ctx)
}

func (b *brokenStore) Stats(ctx context.Context) (Stats, error) {
	return Stats{}, b.wait(ctx)
}

func (b *brokenStore) Close() error { return nil }

func TestFailSoftWrapsErrors(t *testing.T) {
	cause := errors.New("connection refused")
	m := metrics.New(nil)
	fs := NewFailSoft(&brokenStore{err: cause}, time.Second, nil, m)

	_, created, err := fs.Upsert(context.Background(), cartPattern())
	if err == nil {
		t.Fatal("Upsert on broken store returned nil error")
	}
	if created {
		t.Error("failed Upsert reported created")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("errors.Is(err, ErrUnavailable) = false for %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not preserved in %v", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Op != "upsert" {
		t.Errorf("errors.As = %v, op = %+v", err, ue)
	}
	if got := testutil.ToFloat64(m.StoreErrors.WithLabelValues("upsert")); got != 1 {
		t.Errorf("store error counter = %v, want 1", got)
	}

	ps, err := fs.Query(context.Background(), QueryOpts{Entity: "Cart"})
	if !IsUnavailable(err) || ps != nil {
		t.Errorf("Query = %v, %v; want nil, unavailable", ps, err)
	}
}

func TestFailSoftBoundsSlowBackend(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	fs := NewFailSoft(&brokenStore{block: block}, 50*time.Millisecond, nil, nil)

	start := time.Now()
	_, err := fs.Get(context.Background(), "x")
	if !IsUnavailable(err) {
		t.Fatalf("Get on blocked store: err = %v, want unavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Get took %v, want about the 50ms timeout", elapsed)
	}
}

func TestFailSoftPassesThrough(t *testing.T) {
	fs := NewFailSoft(newTestStore(t), 0, nil, nil)
	p, created, err := fs.Upsert(context.Background(), cartPattern())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created || p.OccurrenceCount != 1 {
		t.Errorf("Upsert = created %v count %d", created, p.OccurrenceCount)
	}
	if fs.Inner() == nil {
		t.Error("Inner() = nil")
	}
}
