package resettoken

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"careadmin/pkg/platform/sentinel"
)

// PostgresStore persists reset tokens in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the token table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS password_reset_tokens (
			token      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reset_tokens_created_at ON password_reset_tokens (created_at);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure reset token schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, t Token) error {
	const query = `
		INSERT INTO password_reset_tokens (token, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, t.Token, t.UserID, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reset token: %w", sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, token string) (Token, error) {
	const query = `
		SELECT token, user_id, created_at, expires_at
		FROM password_reset_tokens
		WHERE token = $1
	`
	var t Token
	err := s.db.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.UserID, &t.CreatedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, fmt.Errorf("reset token: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return Token{}, fmt.Errorf("query reset token: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM password_reset_tokens WHERE created_at < $1", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old reset tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
