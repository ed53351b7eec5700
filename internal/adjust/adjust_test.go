package adjust

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func put(t *testing.T, s store.Store, p model.AntiPattern) {
	t.Helper()
	_, _, err := s.Upsert(context.Background(), p)
	require.NoError(t, err)
}

func TestIntegrityMakesFieldNullable(t *testing.T) {
	s := newTestStore(t)
	put(t, s, model.AntiPattern{
		Fingerprint: model.Fingerprint{
			ErrorType:      model.ErrorTypeServer,
			ExceptionClass: "IntegrityError",
			EntityPattern:  "Product",
			FieldPattern:   "category_id",
		},
		ErrorMessagePattern: "null value in column 'category_id'",
	})

	adj := New(s).AdjustmentsFor(context.Background(), "Product")

	buf, err := json.Marshal(adj.Fields)
	require.NoError(t, err)
	assert.JSONEq(t, `{"category_id": {"nullable": true}}`, string(buf))
	assert.Equal(t, map[string]model.RelationshipOverride{
		"category": {Nullable: true, OnDelete: "SET NULL"},
	}, adj.Relationships)
	assert.Contains(t, adj.Rationale["category_id"], "FK constraint error")
}

func TestKindTable(t *testing.T) {
	s := newTestStore(t)
	for _, p := range []struct {
		kind  model.ErrorKind
		class string
		field string
	}{
		{model.KindValidation, "ValidationError", "is_active"},
		{model.KindType, "TypeError", "price"},
		{model.KindAttribute, "DetachedInstanceError", "items"},
		{model.KindFieldRequired, "FieldRequired", "sku"},
		{model.KindKey, "KeyError", "meta"},
	} {
		put(t, s, model.AntiPattern{
			Fingerprint: model.Fingerprint{ExceptionClass: p.class, EntityPattern: "Product", FieldPattern: p.field},
			Kind:        p.kind,
		})
	}

	adj := New(s).AdjustmentsFor(context.Background(), "product")
	assert.Equal(t, "Product", adj.Entity)

	buf, err := json.Marshal(adj.Fields)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"is_active": {"default": false},
		"price": {"type_coerce": true},
		"items": {"lazy": "select"},
		"sku": {"optional": true}
	}`, string(buf))
	assert.Empty(t, adj.Relationships)
}

func TestFieldFromMessageWhenUnscoped(t *testing.T) {
	s := newTestStore(t)
	put(t, s, model.AntiPattern{
		Fingerprint:         model.Fingerprint{ExceptionClass: "IntegrityError", EntityPattern: "Order"},
		Kind:                model.KindIntegrity,
		ErrorMessagePattern: `null value in column "customer_id" violates not-null constraint`,
	})
	adj := New(s).AdjustmentsFor(context.Background(), "Order")
	require.Contains(t, adj.Fields, "customer_id")
	assert.Contains(t, adj.Relationships, "customer")
}

func TestWildcardAndOtherEntitiesIgnored(t *testing.T) {
	s := newTestStore(t)
	put(t, s, model.AntiPattern{
		Fingerprint: model.Fingerprint{ExceptionClass: "IntegrityError", EntityPattern: "*", FieldPattern: "owner_id"},
		Kind:        model.KindIntegrity,
	})
	put(t, s, model.AntiPattern{
		Fingerprint: model.Fingerprint{ExceptionClass: "IntegrityError", EntityPattern: "User", FieldPattern: "org_id"},
		Kind:        model.KindIntegrity,
	})

	adj := New(s).AdjustmentsFor(context.Background(), "Product")
	assert.True(t, adj.Empty())
	assert.True(t, New(s).AdjustmentsFor(context.Background(), "").Empty())
}

func TestHigherRankedPatternWinsPerKey(t *testing.T) {
	s := newTestStore(t)
	put(t, s, model.AntiPattern{
		Fingerprint:   model.Fingerprint{ExceptionClass: "ValidationError", EntityPattern: "Cart", FieldPattern: "note"},
		Kind:          model.KindValidation,
		SeverityScore: 0.9,
	})
	put(t, s, model.AntiPattern{
		Fingerprint:   model.Fingerprint{ExceptionClass: "IntegrityError", EntityPattern: "Cart", FieldPattern: "note"},
		Kind:          model.KindIntegrity,
		SeverityScore: 0.5,
	})
	adj := New(s, WithRules(Rules{
		model.KindValidation: func(string, model.AntiPattern) (model.FieldOverride, string) {
			return model.FieldOverride{Default: "n/a"}, "custom"
		},
	})).AdjustmentsFor(context.Background(), "Cart")

	ov := adj.Fields["note"]
	assert.Equal(t, "n/a", ov.Default)
	require.NotNil(t, ov.Nullable)
	assert.True(t, *ov.Nullable)
	assert.Contains(t, adj.Rationale["note"], "custom")
	assert.Contains(t, adj.Rationale["note"], "FK constraint error")
}

func TestMinOccurrences(t *testing.T) {
	s := newTestStore(t)
	put(t, s, model.AntiPattern{
		Fingerprint: model.Fingerprint{ExceptionClass: "IntegrityError", EntityPattern: "Cart", FieldPattern: "user_id"},
		Kind:        model.KindIntegrity,
	})
	assert.True(t, New(s, WithMinOccurrences(2)).AdjustmentsFor(context.Background(), "Cart").Empty())
	assert.False(t, New(s).AdjustmentsFor(context.Background(), "Cart").Empty())
}

type downStore struct{ store.Store }

func (downStore) Query(context.Context, store.QueryOpts) ([]model.AntiPattern, error) {
	return nil, errors.New("connection refused")
}

func TestStoreUnavailableYieldsEmpty(t *testing.T) {
	adj := New(store.NewFailSoft(downStore{}, time.Second, nil, nil)).AdjustmentsFor(context.Background(), "Cart")
	assert.True(t, adj.Empty())
	buf, err := json.Marshal(adj.Fields)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(buf))
}

func TestDefaultFor(t *testing.T) {
	tests := map[string]any{
		"is_active":   false,
		"item_count":  0,
		"unit_price":  0.0,
		"tags":        []any{},
		"status":      "",
		"address":     "",
		"description": "",
	}
	for field, want := range tests {
		assert.Equal(t, want, DefaultFor(field), field)
	}
}
