package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// SaveScheduled records a scheduled entry for durability.
func (s *Store) SaveScheduled(ctx context.Context, scheduleID string, messageData map[string]any, scheduledAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scheduled_messages (id, message_data, scheduled_at, created_at)
		VALUES (?, ?, ?, ?)`,
		scheduleID, marshalJSON(messageData),
		scheduledAt.UTC().Format(time.RFC3339Nano), s.timestamp())
	if err != nil {
		return fmt.Errorf("save scheduled: %w", err)
	}
	return nil
}

// GetDueScheduled returns pending entries whose time has come, oldest first.
func (s *Store) GetDueScheduled(ctx context.Context) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_data, scheduled_at, status, executed_at, result, created_at
		FROM scheduled_messages
		WHERE status='pending' AND scheduled_at<=?
		ORDER BY scheduled_at`, s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("get due scheduled: %w", err)
	}
	defer rows.Close()
	return scanScheduled(rows)
}

// MarkScheduledDone flags an entry as executed and stores its result.
func (s *Store) MarkScheduledDone(ctx context.Context, scheduleID, result string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages SET status='executed', executed_at=?, result=? WHERE id=?`,
		s.timestamp(), result, scheduleID)
	if err != nil {
		return fmt.Errorf("mark scheduled done: %w", err)
	}
	return nil
}

// GetScheduled lists entries, optionally filtered by status.
func (s *Store) GetScheduled(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, message_data, scheduled_at, status, executed_at, result, created_at
			FROM scheduled_messages WHERE status=? ORDER BY scheduled_at LIMIT ?`, status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, message_data, scheduled_at, status, executed_at, result, created_at
			FROM scheduled_messages ORDER BY scheduled_at LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled: %w", err)
	}
	defer rows.Close()
	return scanScheduled(rows)
}

// DeleteScheduled removes one entry; reports whether a row existed.
func (s *Store) DeleteScheduled(ctx context.Context, scheduleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scheduled_messages WHERE id=?", scheduleID)
	if err != nil {
		return false, fmt.Errorf("delete scheduled: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanScheduled(rows *sql.Rows) ([]map[string]any, error) {
	var out []map[string]any
	for rows.Next() {
		var (
			id, scheduledAt, status, createdAt string
			messageData                        string
			executedAt, result                 sql.NullString
		)
		if err := rows.Scan(&id, &messageData, &scheduledAt, &status, &executedAt, &result, &createdAt); err != nil {
			return nil, err
		}

		var data map[string]any
		_ = sonic.UnmarshalString(messageData, &data)

		row := map[string]any{
			"id":           id,
			"message_data": data,
			"scheduled_at": scheduledAt,
			"status":       status,
			"created_at":   createdAt,
		}
		if executedAt.Valid {
			row["executed_at"] = executedAt.String
		}
		if result.Valid {
			row["result"] = result.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
