// Package notify fans out advice-cache invalidations. Writers publish the
// entities whose patterns changed; every advisor subscribed to the bus drops
// its cached advice for them.
package notify

import (
	"context"
	"sync"

	"github.com/scbrown/genfeedback/internal/model"
)

// Invalidation origins.
const (
	OriginCycle  = "cycle"
	OriginBridge = "bridge"
	OriginManual = "manual"
	OriginRemote = "remote"
)

// Invalidation names an entity whose cached advice is stale. An entity of
// model.Wildcard invalidates everything.
type Invalidation struct {
	Entity string `json:"entity"`
	Origin string `json:"origin,omitempty"`
}

// All reports whether inv invalidates every entity.
func (inv Invalidation) All() bool {
	return inv.Entity == "" || inv.Entity == model.Wildcard
}

// Handler receives invalidations. Handlers must not block.
type Handler func(Invalidation)

// Bus publishes invalidations and delivers them to subscribers.
type Bus interface {
	Publish(ctx context.Context, inv Invalidation) error
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// LocalBus delivers invalidations synchronously to in-process subscribers.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

// NewLocal returns an empty in-process bus.
func NewLocal() *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler)}
}

// Publish calls every subscriber before returning.
func (b *LocalBus) Publish(ctx context.Context, inv Invalidation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(inv)
	}
	return nil
}

// Subscribe registers h.
func (b *LocalBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

// Close drops all subscribers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	clear(b.handlers)
	b.mu.Unlock()
	return nil
}

// PublishEntities publishes one invalidation per distinct entity. It keeps
// going past errors and returns the first one.
func PublishEntities(ctx context.Context, bus Bus, origin string, entities []string) error {
	if bus == nil {
		return nil
	}
	var first error
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if seen[e] {
			continue
		}
		seen[e] = true
		if err := bus.Publish(ctx, Invalidation{Entity: e, Origin: origin}); err != nil && first == nil {
			first = err
		}
	}
	return first
}
