package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scbrown/genfeedback/internal/model"
)

// sqlBackend holds the statements shared by the SQLite and PostgreSQL
// stores. Queries are written with ? placeholders and passed through rebind.
type sqlBackend struct {
	db     *sql.DB
	rebind func(string) string
	now    func() time.Time
}

const antiPatternCols = `id, error_type, exception_class, entity_pattern, endpoint_pattern, field_pattern,
	error_kind, error_message_pattern, bad_code_snippet, correct_code_snippet,
	occurrence_count, severity_score, created_at, last_seen`

const repairCols = `id, repair_type, entity_pattern, endpoint_pattern, field_pattern,
	fix_description, code_snippet, target_file_hint, success_count, created_at, last_applied`

func (b *sqlBackend) q(query string) string {
	if b.rebind == nil {
		return query
	}
	return b.rebind(query)
}

func (b *sqlBackend) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAntiPattern(sc scanner) (model.AntiPattern, error) {
	var p model.AntiPattern
	var kind, createdAt, lastSeen string
	err := sc.Scan(&p.ID, &p.ErrorType, &p.ExceptionClass, &p.EntityPattern, &p.EndpointPattern, &p.FieldPattern,
		&kind, &p.ErrorMessagePattern, &p.BadCodeSnippet, &p.CorrectCodeSnippet,
		&p.OccurrenceCount, &p.SeverityScore, &createdAt, &lastSeen)
	if err != nil {
		return p, err
	}
	p.Kind = model.ParseErrorKind(kind)
	p.CreatedAt = parseTime(createdAt)
	p.LastSeen = parseTime(lastSeen)
	return p, nil
}

func scanRepair(sc scanner) (model.RepairPattern, error) {
	var r model.RepairPattern
	var createdAt, lastApplied string
	err := sc.Scan(&r.ID, &r.RepairType, &r.EntityPattern, &r.EndpointPattern, &r.FieldPattern,
		&r.FixDescription, &r.CodeSnippet, &r.TargetFileHint, &r.SuccessCount, &createdAt, &lastApplied)
	if err != nil {
		return r, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.LastApplied = parseTime(lastApplied)
	return r, nil
}

// Get returns the anti-pattern with the given id, or nil if absent.
func (b *sqlBackend) Get(ctx context.Context, id string) (*model.AntiPattern, error) {
	row := b.db.QueryRowContext(ctx, b.q(`SELECT `+antiPatternCols+` FROM anti_patterns WHERE id = ?`), id)
	p, err := scanAntiPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get anti-pattern: %w", err)
	}
	return &p, nil
}

// Upsert creates or increments an anti-pattern in a single statement. The
// conflict clause only moves the counter and LastSeen; every descriptive
// field keeps its first-write value.
func (b *sqlBackend) Upsert(ctx context.Context, p model.AntiPattern) (model.AntiPattern, bool, error) {
	p = prepareAntiPattern(p, b.clock())
	row := b.db.QueryRowContext(ctx, b.q(`INSERT INTO anti_patterns (`+antiPatternCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			occurrence_count = anti_patterns.occurrence_count + 1,
			last_seen = CASE WHEN excluded.last_seen > anti_patterns.last_seen
				THEN excluded.last_seen ELSE anti_patterns.last_seen END
		RETURNING `+antiPatternCols),
		p.ID, p.ErrorType, p.ExceptionClass, p.EntityPattern, p.EndpointPattern, p.FieldPattern,
		string(p.Kind), p.ErrorMessagePattern, p.BadCodeSnippet, p.CorrectCodeSnippet,
		p.SeverityScore, formatTime(p.CreatedAt), formatTime(p.LastSeen),
	)
	stored, err := scanAntiPattern(row)
	if err != nil {
		return model.AntiPattern{}, false, fmt.Errorf("upsert anti-pattern: %w", err)
	}
	return stored, stored.OccurrenceCount == 1, nil
}

// Query returns anti-patterns matching opts.
func (b *sqlBackend) Query(ctx context.Context, opts QueryOpts) ([]model.AntiPattern, error) {
	query := `SELECT ` + antiPatternCols + ` FROM anti_patterns WHERE occurrence_count >= ?`
	args := []any{opts.Threshold()}
	if opts.Entity != "" {
		query += " AND (entity_pattern = ? OR entity_pattern = '*')"
		args = append(args, opts.Entity)
	}
	if opts.Endpoint != "" {
		query += " AND (endpoint_pattern = ? OR endpoint_pattern = '*')"
		args = append(args, opts.Endpoint)
	}
	if opts.ErrorType != "" {
		query += " AND error_type = ?"
		args = append(args, opts.ErrorType)
	}
	if opts.Kind != "" {
		query += " AND error_kind = ?"
		args = append(args, string(opts.Kind))
	}
	query += " ORDER BY severity_score DESC, occurrence_count DESC, id ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := b.db.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query anti-patterns: %w", err)
	}
	defer rows.Close()

	var out []model.AntiPattern
	for rows.Next() {
		p, err := scanAntiPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anti-pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetRepair returns the repair pattern with the given id, or nil if absent.
func (b *sqlBackend) GetRepair(ctx context.Context, id string) (*model.RepairPattern, error) {
	row := b.db.QueryRowContext(ctx, b.q(`SELECT `+repairCols+` FROM repair_patterns WHERE id = ?`), id)
	r, err := scanRepair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repair: %w", err)
	}
	return &r, nil
}

// UpsertRepair creates or increments a repair pattern.
func (b *sqlBackend) UpsertRepair(ctx context.Context, r model.RepairPattern) (model.RepairPattern, bool, error) {
	r = prepareRepair(r, b.clock())
	row := b.db.QueryRowContext(ctx, b.q(`INSERT INTO repair_patterns (`+repairCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			success_count = repair_patterns.success_count + 1,
			last_applied = CASE WHEN excluded.last_applied > repair_patterns.last_applied
				THEN excluded.last_applied ELSE repair_patterns.last_applied END
		RETURNING `+repairCols),
		r.ID, r.RepairType, r.EntityPattern, r.EndpointPattern, r.FieldPattern,
		r.FixDescription, r.CodeSnippet, r.TargetFileHint,
		formatTime(r.CreatedAt), formatTime(r.LastApplied),
	)
	stored, err := scanRepair(row)
	if err != nil {
		return model.RepairPattern{}, false, fmt.Errorf("upsert repair: %w", err)
	}
	return stored, stored.SuccessCount == 1, nil
}

// QueryRepairs returns repair patterns matching opts.
func (b *sqlBackend) QueryRepairs(ctx context.Context, opts RepairQueryOpts) ([]model.RepairPattern, error) {
	query := `SELECT ` + repairCols + ` FROM repair_patterns WHERE 1=1`
	var args []any
	if opts.Entity != "" {
		query += " AND (entity_pattern = ? OR entity_pattern = '*')"
		args = append(args, opts.Entity)
	}
	if opts.Endpoint != "" {
		query += " AND (endpoint_pattern = ? OR endpoint_pattern = '*')"
		args = append(args, opts.Endpoint)
	}
	if opts.RepairType != "" {
		query += " AND repair_type = ?"
		args = append(args, opts.RepairType)
	}
	query += " ORDER BY success_count DESC, id ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := b.db.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query repairs: %w", err)
	}
	defer rows.Close()

	var out []model.RepairPattern
	for rows.Next() {
		r, err := scanRepair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repair: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats returns summary statistics about stored knowledge.
func (b *sqlBackend) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByErrorType: make(map[string]int),
		ByKind:      make(map[string]int),
	}

	if err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(occurrence_count), 0) FROM anti_patterns").Scan(&st.AntiPatterns, &st.Occurrences); err != nil {
		return st, fmt.Errorf("count anti-patterns: %w", err)
	}
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM repair_patterns").Scan(&st.Repairs); err != nil {
		return st, fmt.Errorf("count repairs: %w", err)
	}

	for _, g := range []struct {
		col string
		dst map[string]int
	}{
		{"error_type", st.ByErrorType},
		{"error_kind", st.ByKind},
	} {
		if err := b.groupCounts(ctx, g.col, g.dst); err != nil {
			return st, err
		}
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT entity_pattern, SUM(occurrence_count) AS cnt FROM anti_patterns
		 GROUP BY entity_pattern ORDER BY cnt DESC, entity_pattern ASC LIMIT 5`)
	if err != nil {
		return st, fmt.Errorf("top entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return st, fmt.Errorf("scan top entity: %w", err)
		}
		st.TopEntities = append(st.TopEntities, nc)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if st.AntiPatterns > 0 {
		var earliest, latest string
		if err := b.db.QueryRowContext(ctx,
			"SELECT MIN(created_at), MAX(last_seen) FROM anti_patterns").Scan(&earliest, &latest); err != nil {
			return st, fmt.Errorf("date range: %w", err)
		}
		st.Earliest = parseTime(earliest)
		st.Latest = parseTime(latest)
	}
	return st, nil
}

func (b *sqlBackend) groupCounts(ctx context.Context, col string, dst map[string]int) error {
	rows, err := b.db.QueryContext(ctx,
		"SELECT "+col+", COUNT(*) FROM anti_patterns GROUP BY "+col)
	if err != nil {
		return fmt.Errorf("count by %s: %w", col, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", col, err)
		}
		dst[name] = n
	}
	return rows.Err()
}

// Close releases the database connection.
func (b *sqlBackend) Close() error {
	return b.db.Close()
}
