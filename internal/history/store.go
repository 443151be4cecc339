package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/murmurbot/murmur/internal/envelope"
)

// Record is one received envelope as persisted to the log.
type Record struct {
	MsgID          int64
	ConversationID string
	SenderID       string
	IsGroup        bool
	Kind           envelope.Kind
	Content        string
	ReceivedAt     time.Time
}

// Store persists the inbound envelope log in SQLite. It satisfies
// envelope.LogSink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// SQLite wants a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS envelopes (
		msg_id          INTEGER NOT NULL,
		conversation_id TEXT NOT NULL,
		sender_id       TEXT NOT NULL,
		is_group        INTEGER NOT NULL DEFAULT 0,
		kind            TEXT NOT NULL,
		content         TEXT,
		mentions        TEXT,
		received_at     DATETIME NOT NULL,
		PRIMARY KEY (msg_id, conversation_id)
	);
	CREATE INDEX IF NOT EXISTS idx_envelopes_conv ON envelopes(conversation_id, received_at);
	CREATE INDEX IF NOT EXISTS idx_envelopes_time ON envelopes(received_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append records a normalized envelope. Replaying the same msg_id for the
// same conversation is a no-op, so retried deliveries never duplicate rows.
func (s *Store) Append(ctx context.Context, msg envelope.Message) error {
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO envelopes (msg_id, conversation_id, sender_id, is_group, kind, content, mentions, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.IsGroup, string(msg.Kind),
		msg.Text, strings.Join(msg.Mentions, ","), receivedAt,
	)
	return err
}

// ListRecent returns the last limit envelopes for a conversation in
// chronological order.
func (s *Store) ListRecent(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg_id, conversation_id, sender_id, is_group, kind, content, received_at
		 FROM envelopes WHERE conversation_id = ?
		 ORDER BY received_at DESC LIMIT ?`, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		var kind string
		var content sql.NullString
		if err := rows.Scan(&r.MsgID, &r.ConversationID, &r.SenderID, &r.IsGroup,
			&kind, &content, &r.ReceivedAt); err != nil {
			return nil, err
		}
		r.Kind = envelope.Kind(kind)
		r.Content = content.String
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// PruneBefore deletes envelopes older than the cutoff and reports how many
// rows were removed. The nightly schedule calls this with now minus the
// configured retention.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM envelopes WHERE received_at < ?`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if s.logger != nil && n > 0 {
		s.logger.Info("pruned envelope log", slog.Int64("removed", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
