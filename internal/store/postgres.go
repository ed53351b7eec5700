package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	var out strings.Builder
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// PostgresStore implements Store on a shared PostgreSQL database, for
// deployments where many generation workers on different hosts feed one
// pattern space.
type PostgresStore struct {
	sqlBackend
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{sqlBackend{db: db, rebind: rebind}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables. Timestamp columns use the C collation so
// that text comparison in the upsert is byte order.
func (s *PostgresStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS anti_patterns (
			id                    TEXT PRIMARY KEY,
			error_type            TEXT NOT NULL,
			exception_class       TEXT NOT NULL,
			entity_pattern        TEXT NOT NULL,
			endpoint_pattern      TEXT NOT NULL,
			field_pattern         TEXT NOT NULL,
			error_kind            TEXT NOT NULL DEFAULT 'unknown',
			error_message_pattern TEXT NOT NULL DEFAULT '',
			bad_code_snippet      TEXT NOT NULL DEFAULT '',
			correct_code_snippet  TEXT NOT NULL DEFAULT '',
			occurrence_count      INTEGER NOT NULL DEFAULT 1,
			severity_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at            TEXT COLLATE "C" NOT NULL,
			last_seen             TEXT COLLATE "C" NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anti_patterns_entity ON anti_patterns(entity_pattern)`,
		`CREATE INDEX IF NOT EXISTS idx_anti_patterns_error_type ON anti_patterns(error_type)`,
		`CREATE INDEX IF NOT EXISTS idx_anti_patterns_kind ON anti_patterns(error_kind)`,
		`CREATE TABLE IF NOT EXISTS repair_patterns (
			id               TEXT PRIMARY KEY,
			repair_type      TEXT NOT NULL,
			entity_pattern   TEXT NOT NULL,
			endpoint_pattern TEXT NOT NULL,
			field_pattern    TEXT NOT NULL,
			fix_description  TEXT NOT NULL DEFAULT '',
			code_snippet     TEXT NOT NULL DEFAULT '',
			target_file_hint TEXT NOT NULL DEFAULT '',
			success_count    INTEGER NOT NULL DEFAULT 1,
			created_at       TEXT COLLATE "C" NOT NULL,
			last_applied     TEXT COLLATE "C" NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_repair_patterns_entity ON repair_patterns(entity_pattern)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
