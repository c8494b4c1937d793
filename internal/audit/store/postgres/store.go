package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"careadmin/internal/audit"
)

// Store persists audit entries in PostgreSQL. Entries are append-only; the
// only deletion path is the retention job's DeleteOlderThan, and that is never
// invoked automatically on write.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit table when it does not exist yet. Called at
// startup and by integration tests; production migrations can run the same DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id            UUID PRIMARY KEY,
			subject_id    TEXT,
			subject_name  TEXT NOT NULL,
			action        TEXT NOT NULL,
			resource      TEXT NOT NULL,
			resource_id   TEXT,
			method        TEXT NOT NULL,
			path          TEXT NOT NULL,
			ip            TEXT NOT NULL,
			user_agent    TEXT NOT NULL,
			status_code   INT NOT NULL,
			duration_ms   BIGINT NOT NULL,
			request_body  JSONB,
			error_message TEXT,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_created_at ON audit_entries (created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_subject ON audit_entries (subject_id);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	var body []byte
	if entry.RequestBody != nil {
		var err error
		body, err = json.Marshal(entry.RequestBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	const query = `
		INSERT INTO audit_entries (
			id, subject_id, subject_name, action, resource, resource_id,
			method, path, ip, user_agent, status_code, duration_ms,
			request_body, error_message, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		nullString(entry.SubjectID),
		entry.SubjectName,
		string(entry.Action),
		string(entry.Resource),
		nullString(entry.ResourceID),
		entry.Method,
		entry.Path,
		entry.IP,
		entry.UserAgent,
		entry.StatusCode,
		entry.Duration.Milliseconds(),
		nullBytes(body),
		nullString(entry.ErrMessage),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter audit.Filter, page audit.Page) ([]audit.Entry, int64, error) {
	where, args := buildWhere(filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_entries" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	size := page.Size
	if size <= 0 {
		size = 20
	}
	query := fmt.Sprintf(
		"SELECT %s FROM audit_entries%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		entryColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, size, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) ListBySubject(ctx context.Context, subjectID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM audit_entries WHERE subject_id = $1 ORDER BY created_at DESC LIMIT $2",
		entryColumns,
	)
	rows, err := s.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query subject audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) Stats(ctx context.Context, since time.Time, topN int) (audit.Stats, error) {
	stats := audit.Stats{
		ByAction:   make(map[audit.ActionKind]int64),
		ByResource: make(map[audit.ResourceKind]int64),
	}

	const totalsQuery = `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status_code >= 400)
		FROM audit_entries WHERE created_at >= $1
	`
	if err := s.db.QueryRowContext(ctx, totalsQuery, since).Scan(&stats.Total, &stats.Failures); err != nil {
		return stats, fmt.Errorf("audit totals: %w", err)
	}

	if err := s.groupCounts(ctx, "action", since, func(key string, n int64) {
		stats.ByAction[audit.ActionKind(key)] = n
	}); err != nil {
		return stats, err
	}
	if err := s.groupCounts(ctx, "resource", since, func(key string, n int64) {
		stats.ByResource[audit.ResourceKind(key)] = n
	}); err != nil {
		return stats, err
	}

	if topN <= 0 {
		topN = 10
	}
	const topQuery = `
		SELECT subject_id, MAX(subject_name), COUNT(*) AS n
		FROM audit_entries
		WHERE created_at >= $1 AND subject_id IS NOT NULL
		GROUP BY subject_id
		ORDER BY n DESC, subject_id
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, topQuery, since, topN)
	if err != nil {
		return stats, fmt.Errorf("top audit subjects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc audit.SubjectCount
		if err := rows.Scan(&sc.SubjectID, &sc.SubjectName, &sc.Count); err != nil {
			return stats, fmt.Errorf("scan subject count: %w", err)
		}
		stats.TopSubjects = append(stats.TopSubjects, sc)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate subject counts: %w", err)
	}
	return stats, nil
}

func (s *Store) groupCounts(ctx context.Context, column string, since time.Time, set func(string, int64)) error {
	// column is one of two fixed identifiers; never user input.
	query := fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM audit_entries WHERE created_at >= $1 GROUP BY %s",
		column, column,
	)
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return fmt.Errorf("audit %s counts: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		set(key, n)
	}
	return rows.Err()
}

func (s *Store) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_entries WHERE created_at < $1", cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count old audit entries: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE created_at < $1", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

const entryColumns = `subject_id, subject_name, action, resource, resource_id,
	method, path, ip, user_agent, status_code, duration_ms,
	request_body, error_message, created_at`

func buildWhere(filter audit.Filter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.SubjectID != "" {
		add("subject_id = $%d", filter.SubjectID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.Resource != "" {
		add("resource = $%d", string(filter.Resource))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(subject_name ILIKE $%d OR path ILIKE $%d OR ip ILIKE $%d)", n, n, n,
		))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			subjectID  sql.NullString
			resourceID sql.NullString
			body       []byte
			errMsg     sql.NullString
			durationMs int64
			action     string
			resource   string
		)
		err := rows.Scan(
			&subjectID, &e.SubjectName, &action, &resource, &resourceID,
			&e.Method, &e.Path, &e.IP, &e.UserAgent, &e.StatusCode, &durationMs,
			&body, &errMsg, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.SubjectID = subjectID.String
		e.ResourceID = resourceID.String
		e.ErrMessage = errMsg.String
		e.Action = audit.ActionKind(action)
		e.Resource = audit.ResourceKind(resource)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if len(body) > 0 {
			var v any
			if err := json.Unmarshal(body, &v); err == nil {
				e.RequestBody = v
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
