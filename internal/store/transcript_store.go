package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/kaggler/internal/domain"
)

// TranscriptEntry is one archived conversational message.
type TranscriptEntry struct {
	ID            int64     `json:"id"`
	MessageID     string    `json:"messageId"`
	TopicID       string    `json:"topicId"`
	SessionHandle string    `json:"sessionHandle"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	Rank          float64   `json:"rank,omitempty"`
}

// TranscriptStore archives every conversational message a turn produced.
// Summarization removes messages from working state; the transcript keeps
// them searchable.
type TranscriptStore struct {
	db *DB
}

// NewTranscriptStore creates a transcript archive on db.
func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// Record archives the user and assistant messages in msgs. Messages already
// archived (by message ID) are skipped, so the full state can be passed after
// every turn.
func (t *TranscriptStore) Record(ctx context.Context, topicID, handle string, msgs []domain.Message) (int, error) {
	tx, err := t.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transcript: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.DateTime)
	added := 0
	for _, m := range msgs {
		if !domain.IsConversational(m) {
			continue
		}
		text := domain.Text(m)
		if strings.TrimSpace(text) == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO transcripts (message_id, topic_id, handle, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.MessageID(), topicID, handle, string(m.Kind()), text, now,
		)
		if err != nil {
			return 0, fmt.Errorf("archiving message %s: %w", m.MessageID(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transcript: %w", err)
	}
	return added, nil
}

// History returns the most recent entries for a topic in chronological order.
func (t *TranscriptStore) History(ctx context.Context, topicID string, limit int) ([]TranscriptEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.sql.QueryContext(ctx,
		`SELECT id, message_id, topic_id, handle, role, content, created_at, 0.0
		 FROM (
		   SELECT * FROM transcripts WHERE topic_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`,
		topicID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transcript for %s: %w", topicID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search runs a full-text query over archived messages. An empty topicID
// searches every topic.
func (t *TranscriptStore) Search(ctx context.Context, query, topicID string, limit int) ([]TranscriptEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	q := `SELECT tr.id, tr.message_id, tr.topic_id, tr.handle, tr.role, tr.content, tr.created_at, transcripts_fts.rank
		FROM transcripts_fts
		JOIN transcripts tr ON tr.id = transcripts_fts.rowid
		WHERE transcripts_fts MATCH ?`
	args := []any{query}
	if topicID != "" {
		q += ` AND tr.topic_id = ?`
		args = append(args, topicID)
	}
	q += ` ORDER BY transcripts_fts.rank LIMIT ?`
	args = append(args, limit)

	rows, err := t.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript search: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the number of archived messages for a topic.
func (t *TranscriptStore) Count(ctx context.Context, topicID string) (int, error) {
	var n int
	err := t.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcripts WHERE topic_id = ?`, topicID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting transcript for %s: %w", topicID, err)
	}
	return n, nil
}

// DeleteTopic removes every archived message for a topic.
func (t *TranscriptStore) DeleteTopic(ctx context.Context, topicID string) error {
	if _, err := t.db.sql.ExecContext(ctx, `DELETE FROM transcripts WHERE topic_id = ?`, topicID); err != nil {
		return fmt.Errorf("deleting transcript for %s: %w", topicID, err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]TranscriptEntry, error) {
	var out []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.MessageID, &e.TopicID, &e.SessionHandle,
			&e.Role, &e.Content, &createdAt, &e.Rank); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
