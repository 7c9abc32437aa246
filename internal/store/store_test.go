package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/soyeahso/kaggler/internal/codec"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kaggler.db")
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	err := db.migrate(context.Background())
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
	assert.Equal(t, ":memory:", db.Path())
}

func TestOpen_FilePragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kaggler.db")
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var mode string
	require.NoError(t, db.sql.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk, timeout int
	require.NoError(t, db.sql.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.sql.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 5000, timeout)
}

func TestOpen_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kaggler.db")
	log := logging.New(nil, "silent")

	db, err := Open(path, log)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteKV(db).Set(context.Background(), "k", []byte("v")))
	require.NoError(t, db.Close())

	db, err = Open(path, log)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewSQLiteKV(db).Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"kv", "checkpoints", "transcripts", "transcripts_fts"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- KV tests ---

func kvImplementations(t *testing.T) map[string]KV {
	return map[string]KV{
		"memory": NewMemoryKV(),
		"sqlite": NewSQLiteKV(testDB(t)),
	}
}

func TestKV_GetMissing(t *testing.T) {
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestKV_SetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set(ctx, "a", []byte("one")))
			got, err := kv.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "one", string(got))

			require.NoError(t, kv.Set(ctx, "a", []byte("two")))
			got, err = kv.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "two", string(got))
		})
	}
}

func TestKV_Delete(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set(ctx, "a", []byte("x")))
			require.NoError(t, kv.Delete(ctx, "a"))
			_, err := kv.Get(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing key is not an error.
			assert.NoError(t, kv.Delete(ctx, "a"))
		})
	}
}

func TestKV_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"snap:b", "snap:a", "snapshot", "other", "snap_x"} {
				require.NoError(t, kv.Set(ctx, k, []byte("v")))
			}
			keys, err := kv.Keys(ctx, "snap:")
			require.NoError(t, err)
			assert.Equal(t, []string{"snap:a", "snap:b"}, keys)

			keys, err = kv.Keys(ctx, "snap_")
			require.NoError(t, err)
			assert.Equal(t, []string{"snap_x"}, keys)
		})
	}
}

func TestMemoryKV_CopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	v := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", v))
	v[0] = 'z'

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

// --- Checkpointer tests ---

func sampleState() domain.State {
	st := domain.NewState("titanic")
	call := domain.ToolCall{ID: "call-1", Name: "rag_tool", Args: map[string]any{"query": "features"}}
	st.Append(
		domain.NewUserMessage("what features matter?"),
		domain.NewAssistantMessage("", call),
		domain.NewToolResultMessage(call, "age and sex"),
		domain.NewAssistantMessage("Age and sex dominate."),
	)
	st.CurrentStep = domain.StepDone
	st.ToolUsageCount = 1
	return st
}

func TestCheckpointer_LoadMissing(t *testing.T) {
	cp := NewSQLiteCheckpointer(testDB(t), nil)
	_, ok, err := cp.Load(context.Background(), "thread_none")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointer_StoreLoad(t *testing.T) {
	ctx := context.Background()
	cp := NewSQLiteCheckpointer(testDB(t), codec.New(logging.New(nil, "silent")))
	st := sampleState()

	require.NoError(t, cp.Store(ctx, "thread_a", st))
	got, ok, err := cp.Load(ctx, "thread_a")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, st.TopicID, got.TopicID)
	assert.Equal(t, st.Messages, got.Messages)
	assert.Equal(t, domain.StepDone, got.CurrentStep)
	assert.Equal(t, 1, got.ToolUsageCount)
}

func TestCheckpointer_StoreReplaces(t *testing.T) {
	ctx := context.Background()
	cp := NewSQLiteCheckpointer(testDB(t), nil)

	require.NoError(t, cp.Store(ctx, "thread_a", sampleState()))
	next := domain.NewState("titanic")
	next.Append(domain.NewUserMessage("fresh"))
	require.NoError(t, cp.Store(ctx, "thread_a", next))

	got, ok, err := cp.Load(ctx, "thread_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Messages, 1)

	n, err := cp.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckpointer_Drop(t *testing.T) {
	ctx := context.Background()
	cp := NewSQLiteCheckpointer(testDB(t), nil)

	require.NoError(t, cp.Store(ctx, "thread_a", sampleState()))
	require.NoError(t, cp.Drop(ctx, "thread_a"))

	_, ok, err := cp.Load(ctx, "thread_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- Transcript tests ---

func TestTranscript_RecordSkipsToolTrafficAndDuplicates(t *testing.T) {
	ctx := context.Background()
	ts := NewTranscriptStore(testDB(t))
	st := sampleState()

	added, err := ts.Record(ctx, "titanic", "thread_a", st.Messages)
	require.NoError(t, err)
	// The user question and the final answer; the tool-calling assistant
	// message has no text and the tool result is not conversational.
	assert.Equal(t, 2, added)

	added, err = ts.Record(ctx, "titanic", "thread_a", st.Messages)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	n, err := ts.Count(ctx, "titanic")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTranscript_HistoryChronological(t *testing.T) {
	ctx := context.Background()
	ts := NewTranscriptStore(testDB(t))

	var msgs []domain.Message
	for _, text := range []string{"one", "two", "three"} {
		msgs = append(msgs, domain.NewUserMessage(text))
	}
	_, err := ts.Record(ctx, "t", "h", msgs)
	require.NoError(t, err)

	entries, err := ts.History(ctx, "t", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Content)
	assert.Equal(t, "three", entries[1].Content)
	assert.Equal(t, "user", entries[1].Role)
	assert.Equal(t, "h", entries[1].SessionHandle)
}

func TestTranscript_Search(t *testing.T) {
	ctx := context.Background()
	ts := NewTranscriptStore(testDB(t))

	_, err := ts.Record(ctx, "titanic", "h1", []domain.Message{
		domain.NewUserMessage("how should I engineer cabin features"),
		domain.NewAssistantMessage("Extract the deck letter from the cabin"),
	})
	require.NoError(t, err)
	_, err = ts.Record(ctx, "housing", "h2", []domain.Message{
		domain.NewUserMessage("cabin is not a column here"),
	})
	require.NoError(t, err)

	all, err := ts.Search(ctx, "cabin", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := ts.Search(ctx, "cabin", "titanic", 10)
	require.NoError(t, err)
	assert.Len(t, scoped, 2)
	for _, e := range scoped {
		assert.Equal(t, "titanic", e.TopicID)
	}

	none, err := ts.Search(ctx, "xgboost", "", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTranscript_DeleteTopic(t *testing.T) {
	ctx := context.Background()
	ts := NewTranscriptStore(testDB(t))

	_, err := ts.Record(ctx, "titanic", "h", []domain.Message{domain.NewUserMessage("gradient boosting")})
	require.NoError(t, err)
	require.NoError(t, ts.DeleteTopic(ctx, "titanic"))

	n, err := ts.Count(ctx, "titanic")
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err := ts.Search(ctx, "boosting", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
