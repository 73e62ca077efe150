package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	from_channel TEXT NOT NULL,
	to_channel TEXT NOT NULL,
	content TEXT,
	target TEXT NOT NULL,
	template TEXT,
	template_vars TEXT,
	metadata TEXT,
	priority INTEGER DEFAULT 5,
	status TEXT DEFAULT 'pending',
	retry_count INTEGER DEFAULT 0,
	max_retries INTEGER DEFAULT 3,
	last_error TEXT,
	created_at TEXT NOT NULL,
	sent_at TEXT,
	updated_at TEXT
);
CREATE TABLE IF NOT EXISTS delivery_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	event TEXT NOT NULL,
	channel TEXT,
	details TEXT,
	timestamp TEXT NOT NULL,
	FOREIGN KEY (message_id) REFERENCES messages(id)
);
CREATE TABLE IF NOT EXISTS scheduled_messages (
	id TEXT PRIMARY KEY,
	message_data TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	status TEXT DEFAULT 'pending',
	executed_at TEXT,
	result TEXT,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dead_letters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	message_data TEXT NOT NULL,
	error TEXT,
	failed_at TEXT NOT NULL,
	attempts INTEGER DEFAULT 0,
	replayed INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_msg_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_msg_channel ON messages(to_channel);
CREATE INDEX IF NOT EXISTS idx_msg_created ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_msg_target ON messages(target);
CREATE INDEX IF NOT EXISTS idx_events_msg ON delivery_events(message_id);
CREATE INDEX IF NOT EXISTS idx_sched_status ON scheduled_messages(status);
CREATE INDEX IF NOT EXISTS idx_sched_at ON scheduled_messages(scheduled_at);
CREATE INDEX IF NOT EXISTS idx_dl_replayed ON dead_letters(replayed);
`

// Store persists messages, delivery events, scheduled entries, and parked
// dead letters in one SQLite file. database/sql's pool makes it safe for
// concurrent use; WAL mode keeps readers off the writers' backs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates (or opens) the database file and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	out, err := sonic.MarshalString(v)
	if err != nil {
		logs.Warn("[store] marshal json blob: %v", err)
		return "{}"
	}
	return out
}

// SaveMessage upserts a message snapshot by id.
func (s *Store) SaveMessage(ctx context.Context, msg map[string]any) error {
	now := s.timestamp()

	createdAt, _ := msg["created_at"].(string)
	if createdAt == "" {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages
		(id, from_channel, to_channel, content, target, template, template_vars,
		 metadata, priority, status, retry_count, max_retries, last_error,
		 created_at, sent_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg["id"],
		msg["from_channel"],
		msg["to_channel"],
		msg["content"],
		msg["target"],
		msg["template"],
		marshalJSON(msg["template_vars"]),
		marshalJSON(msg["metadata"]),
		msg["priority"],
		msg["status"],
		msg["retry_count"],
		msg["max_retries"],
		msg["last_error"],
		createdAt,
		msg["sent_at"],
		now,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// UpdateStatus advances a message's lifecycle state. A sent status stamps
// sent_at unless it is already set.
func (s *Store) UpdateStatus(ctx context.Context, messageID, status, errText string) error {
	now := s.timestamp()

	var err error
	if errText != "" {
		_, err = s.db.ExecContext(ctx,
			"UPDATE messages SET status=?, last_error=?, updated_at=? WHERE id=?",
			status, errText, now, messageID)
	} else {
		var sentAt any
		if status == "sent" {
			sentAt = now
		}
		_, err = s.db.ExecContext(ctx,
			"UPDATE messages SET status=?, sent_at=COALESCE(sent_at, ?), updated_at=? WHERE id=?",
			status, sentAt, now, messageID)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// LogEvent appends one audit row for a message.
func (s *Store) LogEvent(ctx context.Context, messageID, event, channel, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_events (message_id, event, channel, details, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		messageID, event, channel, details, s.timestamp())
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

var messageColumns = []string{
	"id", "from_channel", "to_channel", "content", "target", "template",
	"template_vars", "metadata", "priority", "status", "retry_count",
	"max_retries", "last_error", "created_at", "sent_at", "updated_at",
}

func scanMessage(rows *sql.Rows) (map[string]any, error) {
	var (
		id, fromChannel, toChannel, target, status, createdAt string
		content, template, templateVars, metadata             sql.NullString
		lastError, sentAt, updatedAt                          sql.NullString
		priority, retryCount, maxRetries                      int
	)
	if err := rows.Scan(&id, &fromChannel, &toChannel, &content, &target,
		&template, &templateVars, &metadata, &priority, &status,
		&retryCount, &maxRetries, &lastError, &createdAt, &sentAt, &updatedAt); err != nil {
		return nil, err
	}

	row := map[string]any{
		"id":           id,
		"from_channel": fromChannel,
		"to_channel":   toChannel,
		"content":      content.String,
		"target":       target,
		"template":     template.String,
		"priority":     priority,
		"status":       status,
		"retry_count":  retryCount,
		"max_retries":  maxRetries,
		"last_error":   lastError.String,
		"created_at":   createdAt,
		"updated_at":   updatedAt.String,
	}
	if sentAt.Valid {
		row["sent_at"] = sentAt.String
	}

	var vars, meta map[string]any
	if templateVars.Valid && templateVars.String != "" {
		_ = sonic.UnmarshalString(templateVars.String, &vars)
	}
	if metadata.Valid && metadata.String != "" {
		_ = sonic.UnmarshalString(metadata.String, &meta)
	}
	row["template_vars"] = vars
	row["metadata"] = meta

	return row, nil
}

// GetMessage fetches one message by id, or nil when absent.
func (s *Store) GetMessage(ctx context.Context, messageID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+strings.Join(messageColumns, ", ")+" FROM messages WHERE id=?", messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMessage(rows)
}

// GetEvents returns a message's audit rows in timestamp order.
func (s *Store) GetEvents(ctx context.Context, messageID string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, event, channel, details, timestamp
		FROM delivery_events WHERE message_id=? ORDER BY timestamp`, messageID)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []map[string]any
	for rows.Next() {
		var (
			id               int64
			msgID, event, ts string
			channel, details sql.NullString
		)
		if err := rows.Scan(&id, &msgID, &event, &channel, &details, &ts); err != nil {
			return nil, err
		}
		events = append(events, map[string]any{
			"id":         id,
			"message_id": msgID,
			"event":      event,
			"channel":    channel.String,
			"details":    details.String,
			"timestamp":  ts,
		})
	}
	return events, rows.Err()
}

// QueryFilter narrows QueryMessages. Zero values mean "no constraint".
type QueryFilter struct {
	Channel string
	Status  string
	Target  string
	Since   string
	Until   string
	Limit   int
	Offset  int
}

// QueryMessages returns matching messages, newest first.
func (s *Store) QueryMessages(ctx context.Context, f QueryFilter) ([]map[string]any, error) {
	conditions := []string{}
	params := []any{}

	if f.Channel != "" {
		conditions = append(conditions, "to_channel=?")
		params = append(params, f.Channel)
	}
	if f.Status != "" {
		conditions = append(conditions, "status=?")
		params = append(params, f.Status)
	}
	if f.Target != "" {
		conditions = append(conditions, "target=?")
		params = append(params, f.Target)
	}
	if f.Since != "" {
		conditions = append(conditions, "created_at>=?")
		params = append(params, f.Since)
	}
	if f.Until != "" {
		conditions = append(conditions, "created_at<=?")
		params = append(params, f.Until)
	}

	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	params = append(params, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+strings.Join(messageColumns, ", ")+
			" FROM messages WHERE "+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?", params...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountMessages counts messages matching channel and/or status.
func (s *Store) CountMessages(ctx context.Context, channel, status string) (int, error) {
	conditions := []string{}
	params := []any{}
	if channel != "" {
		conditions = append(conditions, "to_channel=?")
		params = append(params, channel)
	}
	if status != "" {
		conditions = append(conditions, "status=?")
		params = append(params, status)
	}
	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE "+where, params...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// GetStats aggregates the last N hours: per-status, per-channel, per-hour
// buckets, and an overall success rate.
func (s *Store) GetStats(ctx context.Context, hours int) (map[string]any, error) {
	since := s.now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339Nano)

	statusCounts, err := s.groupCount(ctx,
		"SELECT status, COUNT(*) FROM messages WHERE created_at>=? GROUP BY status", since)
	if err != nil {
		return nil, err
	}
	channelCounts, err := s.groupCount(ctx,
		"SELECT to_channel, COUNT(*) FROM messages WHERE created_at>=? GROUP BY to_channel", since)
	if err != nil {
		return nil, err
	}
	hourly, err := s.groupCount(ctx, `
		SELECT substr(created_at, 1, 13) AS hour, COUNT(*)
		FROM messages WHERE created_at>=? GROUP BY hour ORDER BY hour`, since)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range statusCounts {
		total += n
	}
	successRate := 0.0
	if total > 0 {
		successRate = math.Round(float64(statusCounts["sent"])/float64(total)*100*100) / 100
	}

	return map[string]any{
		"period_hours": hours,
		"total":        total,
		"by_status":    statusCounts,
		"by_channel":   channelCounts,
		"by_hour":      hourly,
		"success_rate": successRate,
	}, nil
}

func (s *Store) groupCount(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}
