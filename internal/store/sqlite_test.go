package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	runContract(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestNewCreatesDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	s, err := New(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("expected directory %s to exist: %v", nested, err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s1, err := New(dbPath)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, _, err := s1.Upsert(context.Background(), model.AntiPattern{Fingerprint: cartFP}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	s1.Close()

	// Opening again should not fail and must keep the data.
	s2, err := New(dbPath)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	defer s2.Close()

	ver, err := s2.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if ver != schemaVersion {
		t.Errorf("schema version = %d, want %d", ver, schemaVersion)
	}
	var rows int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if rows != 1 {
		t.Errorf("schema_version rows = %d, want 1", rows)
	}
	p, err := s2.Get(context.Background(), fingerprint.PatternID(cartFP))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p == nil {
		t.Error("pattern lost across reopen")
	}
}

func TestUpsertBoundsSnippets(t *testing.T) {
	s := newTestStore(t)
	long := make([]rune, 2000)
	for i := range long {
		long[i] = 'é'
	}
	p, _, err := s.Upsert(context.Background(), model.AntiPattern{
		Fingerprint:    cartFP,
		BadCodeSnippet: string(long),
		SeverityScore:  3,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n := len([]rune(p.BadCodeSnippet)); n != 500 {
		t.Errorf("snippet length = %d runes, want 500", n)
	}
	if p.SeverityScore != 1 {
		t.Errorf("severity = %v, want clamped to 1", p.SeverityScore)
	}
}

func TestGetUnknownIDReturnsNil(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p != nil {
		t.Errorf("Get = %+v, want nil", p)
	}
	if err := s.db.QueryRow("SELECT 1 FROM anti_patterns").Scan(new(int)); err != sql.ErrNoRows {
		t.Errorf("expected empty table, got %v", err)
	}
}
