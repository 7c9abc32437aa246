package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/kaggler/internal/codec"
	"github.com/soyeahso/kaggler/internal/domain"
)

// SQLiteCheckpointer persists per-handle working state in the checkpoints
// table so conversations survive a process restart.
type SQLiteCheckpointer struct {
	db    *DB
	codec *codec.Codec
}

// NewSQLiteCheckpointer creates a checkpointer backed by db.
func NewSQLiteCheckpointer(db *DB, c *codec.Codec) *SQLiteCheckpointer {
	if c == nil {
		c = codec.New(db.log)
	}
	return &SQLiteCheckpointer{db: db, codec: c}
}

// Load returns the working state for handle. The bool is false when nothing
// has been stored yet.
func (c *SQLiteCheckpointer) Load(ctx context.Context, handle string) (domain.State, bool, error) {
	var data string
	err := c.db.sql.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE handle = ?`, handle,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.State{}, false, nil
	}
	if err != nil {
		return domain.State{}, false, fmt.Errorf("loading checkpoint %s: %w", handle, err)
	}

	st, err := c.codec.UnmarshalState([]byte(data))
	if err != nil {
		return domain.State{}, false, fmt.Errorf("decoding checkpoint %s: %w", handle, err)
	}
	return st, true, nil
}

// Store writes st as the working state for handle, replacing any previous one.
func (c *SQLiteCheckpointer) Store(ctx context.Context, handle string, st domain.State) error {
	data, err := c.codec.MarshalState(st)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.DateTime)
	_, err = c.db.sql.ExecContext(ctx,
		`INSERT INTO checkpoints (handle, topic_id, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET
		   topic_id = excluded.topic_id,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		handle, st.TopicID, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("storing checkpoint %s: %w", handle, err)
	}
	return nil
}

// Drop removes the working state for handle.
func (c *SQLiteCheckpointer) Drop(ctx context.Context, handle string) error {
	if _, err := c.db.sql.ExecContext(ctx, `DELETE FROM checkpoints WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("dropping checkpoint %s: %w", handle, err)
	}
	return nil
}

// Count returns the number of stored checkpoints.
func (c *SQLiteCheckpointer) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkpoints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting checkpoints: %w", err)
	}
	return n, nil
}
