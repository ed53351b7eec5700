package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schemaVersion = 2

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	sqlBackend
}

// New opens (or creates) a SQLite database at dbPath.
// It auto-creates the parent directory (e.g. ~/.gf/) and runs
// schema migrations to ensure the database is up to date.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for WAL mode simplicity. This also serializes
	// upserts, so concurrent increments on one id never interleave.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{sqlBackend{db: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate runs schema migrations up to the current version.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	var ver int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		ver = 0
	} else if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if ver >= schemaVersion {
		return nil
	}

	if ver < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	if ver < 2 {
		if err := s.migrateV2(); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLiteStore) migrateV1() error {
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
			severity_score        REAL NOT NULL DEFAULT 0,
			created_at            TEXT NOT NULL,
			last_seen             TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anti_patterns_entity ON anti_patterns(entity_pattern)`,
		`CREATE INDEX IF NOT EXISTS idx_anti_patterns_error_type ON anti_patterns(error_type)`,
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
			created_at       TEXT NOT NULL,
			last_applied     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_repair_patterns_entity ON repair_patterns(entity_pattern)`,
		`INSERT INTO schema_version (version) VALUES (1)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrateV2() error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_anti_patterns_rank
			ON anti_patterns(severity_score DESC, occurrence_count DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_anti_patterns_kind ON anti_patterns(error_kind)`,
		`UPDATE schema_version SET version = 2`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v2: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the migration level of the open database.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var ver int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&ver); err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return ver, nil
}
