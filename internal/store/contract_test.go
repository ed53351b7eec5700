package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/model"
)

// runContract exercises the behavior every Store backend must share.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("GetAbsent", func(t *testing.T) { testGetAbsent(t, open(t)) })
	t.Run("UpsertCreateThenIncrement", func(t *testing.T) { testUpsertCreateThenIncrement(t, open(t)) })
	t.Run("ConcurrentUpsertsDedup", func(t *testing.T) { testConcurrentUpserts(t, open(t)) })
	t.Run("QueryThresholdAndScope", func(t *testing.T) { testQuery(t, open(t)) })
	t.Run("RepairNamespace", func(t *testing.T) { testRepairs(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
}

var cartFP = model.Fingerprint{
	ErrorType:       model.ErrorTypeServer,
	ExceptionClass:  "IntegrityError",
	EntityPattern:   "Cart",
	EndpointPattern: "/carts/{id}/items",
	FieldPattern:    "category_id",
}

func testGetAbsent(t *testing.T, s Store) {
	ctx := context.Background()
	got, err := s.Get(ctx, fingerprint.PatternID(cartFP))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get on empty store = %+v, want nil", got)
	}
	r, err := s.GetRepair(ctx, "missing")
	if err != nil {
		t.Fatalf("GetRepair: %v", err)
	}
	if r != nil {
		t.Errorf("GetRepair on empty store = %+v, want nil", r)
	}
}

func testUpsertCreateThenIncrement(t *testing.T, s Store) {
	ctx := context.Background()
	t0 := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

	first := model.AntiPattern{
		Fingerprint:         cartFP,
		Kind:                model.KindIntegrity,
		ErrorMessagePattern: `null value in column 'category_id'`,
		BadCodeSnippet:      "item = CartItem(cart_id=cart.id)",
		SeverityScore:       0.9,
		LastSeen:            t0,
	}
	got, created, err := s.Upsert(ctx, first)
	if err != nil {
		t.Fatalf("Upsert first: %v", err)
	}
	if !created {
		t.Error("first Upsert: created = false, want true")
	}
	if got.OccurrenceCount != 1 {
		t.Errorf("first Upsert: count = %d, want 1", got.OccurrenceCount)
	}
	if want := fingerprint.PatternID(cartFP); got.ID != want {
		t.Errorf("ID = %q, want %q", got.ID, want)
	}

	second := first
	second.BadCodeSnippet = "something else"
	second.ErrorMessagePattern = "different text"
	second.SeverityScore = 0.1
	second.CorrectCodeSnippet = "item = CartItem(cart_id=cart.id, category_id=None)"
	second.LastSeen = t0.Add(time.Hour)
	got, created, err = s.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("Upsert second: %v", err)
	}
	if created {
		t.Error("second Upsert: created = true, want false")
	}
	if got.OccurrenceCount != 2 {
		t.Errorf("second Upsert: count = %d, want 2", got.OccurrenceCount)
	}
	if got.BadCodeSnippet != first.BadCodeSnippet || got.ErrorMessagePattern != first.ErrorMessagePattern {
		t.Errorf("descriptive fields changed: %q / %q", got.BadCodeSnippet, got.ErrorMessagePattern)
	}
	if got.SeverityScore != 0.9 {
		t.Errorf("severity = %v, want first-write 0.9", got.SeverityScore)
	}
	if got.CorrectCodeSnippet != "" {
		t.Errorf("correct snippet = %q, want first-write empty value kept", got.CorrectCodeSnippet)
	}

	// An older sighting still counts but never moves LastSeen backwards.
	third := first
	third.LastSeen = t0.Add(-time.Hour)
	got, _, err = s.Upsert(ctx, third)
	if err != nil {
		t.Fatalf("Upsert third: %v", err)
	}
	if got.OccurrenceCount != 3 {
		t.Errorf("third Upsert: count = %d, want 3", got.OccurrenceCount)
	}
	if !got.LastSeen.Equal(t0.Add(time.Hour)) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, t0.Add(time.Hour))
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
	}

	stored, err := s.Get(ctx, got.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored == nil {
		t.Fatal("Get returned nil after upserts")
	}
	if stored.OccurrenceCount != 3 || stored.Kind != model.KindIntegrity || stored.EntityPattern != "Cart" {
		t.Errorf("Get = %+v", *stored)
	}
	if stored.CorrectCodeSnippet != "" || stored.BadCodeSnippet != first.BadCodeSnippet {
		t.Errorf("stored snippets = %q / %q, want first write", stored.BadCodeSnippet, stored.CorrectCodeSnippet)
	}
}

func testConcurrentUpserts(t *testing.T, s Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := model.AntiPattern{
				Fingerprint: cartFP,
				Kind:        model.KindIntegrity,
				LastSeen:    time.Date(2026, 2, 7, 12, 0, i, 0, time.UTC),
			}
			_, created, err := s.Upsert(ctx, p)
			if err != nil {
				errs <- err
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Upsert: %v", err)
	}

	if createdCount != 1 {
		t.Errorf("created reported %d times, want 1", createdCount)
	}
	all, err := s.Query(ctx, QueryOpts{MinOccurrences: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
	if all[0].OccurrenceCount != n {
		t.Errorf("count = %d, want %d", all[0].OccurrenceCount, n)
	}
	if want := time.Date(2026, 2, 7, 12, 0, n-1, 0, time.UTC); !all[0].LastSeen.Equal(want) {
		t.Errorf("LastSeen = %v, want max %v", all[0].LastSeen, want)
	}
}

// seedQueryFixture stores four patterns:
//
//	a: Cart  count 2 severity 0.5 (integrity)
//	b: Cart  count 1 severity 0.9
//	c: *     count 3 severity 0.3
//	d: Order count 5 severity 0.9
func seedQueryFixture(t *testing.T, s Store) map[string]string {
	t.Helper()
	ctx := context.Background()
	fps := map[string]struct {
		fp    model.Fingerprint
		kind  model.ErrorKind
		sev   float64
		count int
	}{
		"a": {cartFP, model.KindIntegrity, 0.5, 2},
		"b": {model.Fingerprint{ErrorType: model.ErrorTypeNotFound, ExceptionClass: "Unknown", EntityPattern: "Cart"}, model.KindNotFound, 0.9, 1},
		"c": {model.Fingerprint{ErrorType: model.ErrorTypeServer, ExceptionClass: "TypeError"}, model.KindType, 0.3, 3},
		"d": {model.Fingerprint{ErrorType: model.ErrorTypeBusinessLogic, ExceptionClass: "Unknown", EntityPattern: "Order", EndpointPattern: "/orders/{id}/pay"}, model.KindUnknown, 0.9, 5},
	}
	ids := make(map[string]string)
	for name, f := range fps {
		for i := 0; i < f.count; i++ {
			p, _, err := s.Upsert(ctx, model.AntiPattern{Fingerprint: f.fp, Kind: f.kind, SeverityScore: f.sev})
			if err != nil {
				t.Fatalf("Upsert %s: %v", name, err)
			}
			ids[name] = p.ID
		}
	}
	return ids
}

func testQuery(t *testing.T, s Store) {
	ctx := context.Background()
	ids := seedQueryFixture(t, s)

	tests := []struct {
		name string
		opts QueryOpts
		want []string
	}{
		{"entity default threshold", QueryOpts{Entity: "Cart"}, []string{"a", "c"}},
		{"entity threshold 1", QueryOpts{Entity: "Cart", MinOccurrences: 1}, []string{"b", "a", "c"}},
		{"all default threshold", QueryOpts{}, []string{"d", "a", "c"}},
		{"threshold 4", QueryOpts{MinOccurrences: 4}, []string{"d"}},
		{"limit", QueryOpts{Entity: "Cart", MinOccurrences: 1, Limit: 1}, []string{"b"}},
		{"kind", QueryOpts{Kind: model.KindIntegrity, MinOccurrences: 1}, []string{"a"}},
		{"error type", QueryOpts{ErrorType: model.ErrorTypeServer, MinOccurrences: 1}, []string{"a", "c"}},
		{"endpoint", QueryOpts{Endpoint: "/orders/{id}/pay"}, []string{"d", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Query returned %d records, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, name := range tt.want {
				if got[i].ID != ids[name] {
					t.Errorf("result[%d] = %s (count %d), want %s", i, got[i].EntityPattern, got[i].OccurrenceCount, name)
				}
			}
			threshold := tt.opts.Threshold()
			for _, p := range got {
				if p.OccurrenceCount < threshold {
					t.Errorf("record %s has count %d below threshold %d", p.ID, p.OccurrenceCount, threshold)
				}
			}
		})
	}
}

func testRepairs(t *testing.T, s Store) {
	ctx := context.Background()
	key := model.RepairKey{
		RepairType:      "nullable",
		EntityPattern:   "Cart",
		EndpointPattern: "/carts/{id}/items",
		FieldPattern:    "category_id",
	}
	r, created, err := s.UpsertRepair(ctx, model.RepairPattern{RepairKey: key, FixDescription: "make category_id nullable"})
	if err != nil {
		t.Fatalf("UpsertRepair: %v", err)
	}
	if !created || r.SuccessCount != 1 {
		t.Errorf("first UpsertRepair: created=%v count=%d", created, r.SuccessCount)
	}
	r, created, err = s.UpsertRepair(ctx, model.RepairPattern{RepairKey: key, FixDescription: "ignored"})
	if err != nil {
		t.Fatalf("UpsertRepair: %v", err)
	}
	if created || r.SuccessCount != 2 {
		t.Errorf("second UpsertRepair: created=%v count=%d", created, r.SuccessCount)
	}
	if r.FixDescription != "make category_id nullable" {
		t.Errorf("FixDescription = %q, want first write", r.FixDescription)
	}

	// Repairs live in their own namespace.
	if p, err := s.Get(ctx, r.ID); err != nil || p != nil {
		t.Errorf("Get(repair id) = %v, %v; want nil, nil", p, err)
	}
	if got, err := s.GetRepair(ctx, r.ID); err != nil || got == nil || got.SuccessCount != 2 {
		t.Errorf("GetRepair = %+v, %v", got, err)
	}

	got, err := s.QueryRepairs(ctx, RepairQueryOpts{Entity: "Cart"})
	if err != nil {
		t.Fatalf("QueryRepairs: %v", err)
	}
	if len(got) != 1 || got[0].ID != r.ID {
		t.Errorf("QueryRepairs(Cart) = %+v", got)
	}
	got, err = s.QueryRepairs(ctx, RepairQueryOpts{Entity: "Order"})
	if err != nil {
		t.Fatalf("QueryRepairs: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("QueryRepairs(Order) = %+v, want empty", got)
	}
}

func testStats(t *testing.T, s Store) {
	ctx := context.Background()
	seedQueryFixture(t, s)
	if _, _, err := s.UpsertRepair(ctx, model.RepairPattern{RepairKey: model.RepairKey{RepairType: "nullable", EntityPattern: "Cart"}}); err != nil {
		t.Fatalf("UpsertRepair: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.AntiPatterns != 4 {
		t.Errorf("AntiPatterns = %d, want 4", st.AntiPatterns)
	}
	if st.Occurrences != 11 {
		t.Errorf("Occurrences = %d, want 11", st.Occurrences)
	}
	if st.Repairs != 1 {
		t.Errorf("Repairs = %d, want 1", st.Repairs)
	}
	if st.ByErrorType[model.ErrorTypeServer] != 2 {
		t.Errorf("ByErrorType[server_error] = %d, want 2", st.ByErrorType[model.ErrorTypeServer])
	}
	if st.ByKind["integrity"] != 1 {
		t.Errorf("ByKind[integrity] = %d, want 1", st.ByKind["integrity"])
	}
	if len(st.TopEntities) == 0 || st.TopEntities[0].Name != "Order" || st.TopEntities[0].Count != 5 {
		t.Errorf("TopEntities = %+v, want Order first", st.TopEntities)
	}
	if st.Latest.Before(st.Earliest) {
		t.Errorf("Latest %v before Earliest %v", st.Latest, st.Earliest)
	}
}

func cartPattern() model.AntiPattern {
	return model.AntiPattern{Fingerprint: cartFP, Kind: model.KindIntegrity, SeverityScore: 0.9}
}
