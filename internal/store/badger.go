package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/scbrown/genfeedback/internal/model"
)

// Key prefixes for the two record namespaces.
const (
	antiPatternPrefix = "ap/"
	repairPrefix      = "rp/"
)

// maxTxnRetries bounds compare-and-retry on write conflicts.
const maxTxnRetries = 100

// BadgerConfig holds configuration for an embedded BadgerDB store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration suited to tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerStore implements Store on an embedded BadgerDB. Records are stored
// as JSON under the ap/ and rp/ key prefixes. Upserts are read-modify-write
// transactions retried on conflict, so concurrent increments are never lost.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens a BadgerDB store with the given configuration.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction committed a conflicting write first.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%d conflicting attempts: %w", maxTxnRetries, badger.ErrConflict)
}

func getJSON(txn *badger.Txn, key []byte, dst any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(v []byte) error {
		return json.Unmarshal(v, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// Get returns the anti-pattern with the given id, or nil if absent.
func (s *BadgerStore) Get(ctx context.Context, id string) (*model.AntiPattern, error) {
	var p model.AntiPattern
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, []byte(antiPatternPrefix+id), &p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get anti-pattern: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// Upsert creates or increments an anti-pattern.
func (s *BadgerStore) Upsert(ctx context.Context, p model.AntiPattern) (model.AntiPattern, bool, error) {
	p = prepareAntiPattern(p, s.now())
	key := []byte(antiPatternPrefix + p.ID)

	var stored model.AntiPattern
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		var cur model.AntiPattern
		found, err := getJSON(txn, key, &cur)
		if err != nil {
			return err
		}
		if !found {
			stored, created = p, true
		} else {
			cur.OccurrenceCount++
			if p.LastSeen.After(cur.LastSeen) {
				cur.LastSeen = p.LastSeen
			}
			stored, created = cur, false
		}
		return setJSON(txn, key, stored)
	})
	if err != nil {
		return model.AntiPattern{}, false, fmt.Errorf("upsert anti-pattern: %w", err)
	}
	return stored, created, nil
}

// Query returns anti-patterns matching opts.
func (s *BadgerStore) Query(ctx context.Context, opts QueryOpts) ([]model.AntiPattern, error) {
	threshold := opts.Threshold()
	var out []model.AntiPattern
	err := s.scan(ctx, antiPatternPrefix, func(v []byte) error {
		var p model.AntiPattern
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.OccurrenceCount < threshold ||
			!matchesScope(p.EntityPattern, opts.Entity) ||
			!matchesScope(p.EndpointPattern, opts.Endpoint) ||
			(opts.ErrorType != "" && p.ErrorType != opts.ErrorType) ||
			(opts.Kind != "" && p.Kind != opts.Kind) {
			return nil
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query anti-patterns: %w", err)
	}
	slices.SortFunc(out, compareRank)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// compareRank orders by severity desc, occurrences desc, id asc.
func compareRank(a, b model.AntiPattern) int {
	switch {
	case a.SeverityScore != b.SeverityScore:
		if a.SeverityScore > b.SeverityScore {
			return -1
		}
		return 1
	case a.OccurrenceCount != b.OccurrenceCount:
		return b.OccurrenceCount - a.OccurrenceCount
	}
	return strings.Compare(a.ID, b.ID)
}

// GetRepair returns the repair pattern with the given id, or nil if absent.
func (s *BadgerStore) GetRepair(ctx context.Context, id string) (*model.RepairPattern, error) {
	var r model.RepairPattern
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, []byte(repairPrefix+id), &r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get repair: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}

// UpsertRepair creates or increments a repair pattern.
func (s *BadgerStore) UpsertRepair(ctx context.Context, r model.RepairPattern) (model.RepairPattern, bool, error) {
	r = prepareRepair(r, s.now())
	key := []byte(repairPrefix + r.ID)

	var stored model.RepairPattern
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		var cur model.RepairPattern
		found, err := getJSON(txn, key, &cur)
		if err != nil {
			return err
		}
		if !found {
			stored, created = r, true
		} else {
			cur.SuccessCount++
			if r.LastApplied.After(cur.LastApplied) {
				cur.LastApplied = r.LastApplied
			}
			stored, created = cur, false
		}
		return setJSON(txn, key, stored)
	})
	if err != nil {
		return model.RepairPattern{}, false, fmt.Errorf("upsert repair: %w", err)
	}
	return stored, created, nil
}

// QueryRepairs returns repair patterns matching opts.
func (s *BadgerStore) QueryRepairs(ctx context.Context, opts RepairQueryOpts) ([]model.RepairPattern, error) {
	var out []model.RepairPattern
	err := s.scan(ctx, repairPrefix, func(v []byte) error {
		var r model.RepairPattern
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if !matchesScope(r.EntityPattern, opts.Entity) ||
			!matchesScope(r.EndpointPattern, opts.Endpoint) ||
			(opts.RepairType != "" && r.RepairType != opts.RepairType) {
			return nil
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query repairs: %w", err)
	}
	slices.SortFunc(out, func(a, b model.RepairPattern) int {
		if a.SuccessCount != b.SuccessCount {
			return b.SuccessCount - a.SuccessCount
		}
		return strings.Compare(a.ID, b.ID)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Stats returns summary statistics about stored knowledge.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByErrorType: make(map[string]int),
		ByKind:      make(map[string]int),
	}
	entities := make(map[string]int)
	err := s.scan(ctx, antiPatternPrefix, func(v []byte) error {
		var p model.AntiPattern
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		st.AntiPatterns++
		st.Occurrences += p.OccurrenceCount
		st.ByErrorType[p.ErrorType]++
		st.ByKind[p.Kind.String()]++
		entities[p.EntityPattern] += p.OccurrenceCount
		if st.Earliest.IsZero() || p.CreatedAt.Before(st.Earliest) {
			st.Earliest = p.CreatedAt
		}
		if p.LastSeen.After(st.Latest) {
			st.Latest = p.LastSeen
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("scan anti-patterns: %w", err)
	}
	err = s.scan(ctx, repairPrefix, func([]byte) error {
		st.Repairs++
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("scan repairs: %w", err)
	}

	for name, n := range entities {
		st.TopEntities = append(st.TopEntities, NameCount{Name: name, Count: n})
	}
	slices.SortFunc(st.TopEntities, func(a, b NameCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Name, b.Name)
	})
	if len(st.TopEntities) > 5 {
		st.TopEntities = st.TopEntities[:5]
	}
	return st, nil
}

// scan calls fn with the value of every key under prefix.
func (s *BadgerStore) scan(ctx context.Context, prefix string, fn func(v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
