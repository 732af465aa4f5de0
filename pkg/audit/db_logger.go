package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger writes audit entries to the audit_log table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a PostgreSQL-backed audit logger
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// Record implements Logger
func (l *DBLogger) Record(ctx context.Context, entry Entry) error {
	detail := entry.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_log (actor, action, resource, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := l.db.ExecContext(ctx, query, entry.Actor, entry.Action, entry.Resource, entry.Outcome, detailJSON); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// List returns recent entries for an action, newest first
func (l *DBLogger) List(ctx context.Context, action string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, occurred_at, actor, action, resource, outcome, detail
		FROM audit_log
		WHERE action = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, action, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var detailJSON []byte
		if err := rows.Scan(&entry.ID, &entry.OccurredAt, &entry.Actor, &entry.Action,
			&entry.Resource, &entry.Outcome, &detailJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode audit detail: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the retention window. Returns the number
// of deleted rows.
func (l *DBLogger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}

	query := `DELETE FROM audit_log WHERE occurred_at < $1`
	result, err := l.db.ExecContext(ctx, query, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned entries: %w", err)
	}
	return rows, nil
}
