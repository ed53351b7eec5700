package store

import (
	"os"
	"testing"
)

// newTestPostgres connects to GF_TEST_POSTGRES_DSN and empties both tables.
// The test is skipped when the variable is unset.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("GF_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GF_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	if _, err := s.db.Exec("TRUNCATE anti_patterns, repair_patterns"); err != nil {
		s.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresContract(t *testing.T) {
	if os.Getenv("GF_TEST_POSTGRES_DSN") == "" {
		t.Skip("GF_TEST_POSTGRES_DSN not set")
	}
	runContract(t, func(t *testing.T) Store { return newTestPostgres(t) })
}

func TestRebind(t *testing.T) {
	got := rebind("SELECT * FROM t WHERE a = ? AND (b = ? OR b = '*')")
	want := "SELECT * FROM t WHERE a = $1 AND (b = $2 OR b = '*')"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
}
