package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// SaveDeadLetter parks a terminally failed message snapshot. Written in the
// same transaction scope as the terminal status update would be; callers
// treat failures as best-effort audit loss.
func (s *Store) SaveDeadLetter(ctx context.Context, messageID string, messageData map[string]any, errText string, failedAt time.Time, attempts int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (message_id, message_data, error, failed_at, attempts)
		VALUES (?, ?, ?, ?, ?)`,
		messageID, marshalJSON(messageData), errText,
		failedAt.UTC().Format(time.RFC3339Nano), attempts)
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

// LoadDeadLetters returns unreplayed dead letters, oldest first, for
// startup rehydration of the in-memory DLQ.
func (s *Store) LoadDeadLetters(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, message_data, error, failed_at, attempts
		FROM dead_letters WHERE replayed=0 ORDER BY failed_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id                        int64
			messageID, data, failedAt string
			errText                   string
			attempts                  int
		)
		if err := rows.Scan(&id, &messageID, &data, &errText, &failedAt, &attempts); err != nil {
			return nil, err
		}
		var decoded map[string]any
		_ = sonic.UnmarshalString(data, &decoded)
		out = append(out, map[string]any{
			"id":           id,
			"message_id":   messageID,
			"message_data": decoded,
			"error":        errText,
			"failed_at":    failedAt,
			"attempts":     attempts,
		})
	}
	return out, rows.Err()
}

// MarkDeadLetterReplayed flags parked rows for a message as consumed so they
// are not rehydrated again.
func (s *Store) MarkDeadLetterReplayed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE dead_letters SET replayed=1 WHERE message_id=?", messageID)
	if err != nil {
		return fmt.Errorf("mark dead letter replayed: %w", err)
	}
	return nil
}

// ClearDeadLetters flags every parked row as consumed; returns the count.
func (s *Store) ClearDeadLetters(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE dead_letters SET replayed=1 WHERE replayed=0")
	if err != nil {
		return 0, fmt.Errorf("clear dead letters: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
