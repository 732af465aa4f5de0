package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema DDL, applied idempotently at startup. The partial unique index on
// subscriptions enforces at most one open (ended_at IS NULL) row per user; the
// unique constraint on billing_events is the webhook idempotency key.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		credits_balance BIGINT NOT NULL DEFAULT 0 CHECK (credits_balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		provider TEXT NOT NULL,
		provider_subscription_id TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL,
		status TEXT NOT NULL,
		current_period_start TIMESTAMPTZ,
		current_period_end TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_user_open
		ON subscriptions (user_id) WHERE ended_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS ix_subscriptions_provider_sub
		ON subscriptions (provider, provider_subscription_id)`,

	`CREATE TABLE IF NOT EXISTS billing_events (
		id BIGSERIAL PRIMARY KEY,
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '', -- empty for acknowledged-but-ignored events
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'received',
		reject_code TEXT NOT NULL DEFAULT '',
		reject_reason TEXT NOT NULL DEFAULT '',
		result JSONB,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		UNIQUE (provider, event_id)
	)`,

	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		delta BIGINT NOT NULL,
		reason TEXT NOT NULL,
		source_provider TEXT NOT NULL DEFAULT '',
		source_event_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_transactions_source
		ON credit_transactions (source_provider, source_event_id, reason)
		WHERE source_event_id <> ''`,
	`CREATE INDEX IF NOT EXISTS ix_credit_transactions_user
		ON credit_transactions (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		token_hash TEXT NOT NULL UNIQUE,
		token_prefix TEXT NOT NULL,
		expires_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		resource TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		detail JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_log_occurred ON audit_log (occurred_at)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_log_action ON audit_log (action, occurred_at DESC)`,
}

// InitSchema creates all tables and indexes if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}
