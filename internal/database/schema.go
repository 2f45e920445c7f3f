package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		display_name  TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL CHECK (role IN ('admin', 'staff', 'customer')),
		status        TEXT NOT NULL DEFAULT 'active',
		avatar_url    TEXT,
		last_login_at TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		refresh_token_id TEXT NOT NULL,
		provider         TEXT NOT NULL DEFAULT 'local',
		ip_address       TEXT NOT NULL DEFAULT '',
		user_agent       TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at       TIMESTAMPTZ NOT NULL,
		revoked_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS user_sessions_user_idx ON user_sessions (user_id, last_seen_at DESC)`,
	`CREATE TABLE IF NOT EXISTS oauth_credentials (
		provider            TEXT NOT NULL,
		provider_account_id TEXT NOT NULL,
		user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		access_token        TEXT NOT NULL,
		refresh_token       TEXT NOT NULL DEFAULT '',
		scope               TEXT NOT NULL DEFAULT '',
		expires_at          TIMESTAMPTZ NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (provider, provider_account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS oauth_credentials_user_idx ON oauth_credentials (provider, user_id)`,
}

// EnsureSchema creates the auth tables when they are missing. It is safe to
// run on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit(ctx)
}
