package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/kaggler/internal/codec"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// failingKV returns err from every operation.
type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, error)    { return nil, f.err }
func (f failingKV) Set(context.Context, string, []byte) error      { return f.err }
func (f failingKV) Delete(context.Context, string) error           { return f.err }
func (f failingKV) Keys(context.Context, string) ([]string, error) { return nil, f.err }

// --- Handle tests ---

func TestNewHandle_Format(t *testing.T) {
	h := NewHandle("alice", "titanic", time.Now())
	assert.True(t, strings.HasPrefix(h, HandlePrefix))
	assert.Len(t, h, len(HandlePrefix)+32)
}

func TestNewHandle_UniqueForSameInputs(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, NewHandle("alice", "titanic", now), NewHandle("alice", "titanic", now))
}

// --- Registry tests ---

func TestRegistry_ResolveIsStable(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(store.NewMemoryKV(), "alice", silentLog())

	h1, err := r.Resolve(ctx, "titanic")
	require.NoError(t, err)
	h2, err := r.Resolve(ctx, "titanic")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other, err := r.Resolve(ctx, "housing")
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestRegistry_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()

	h, err := NewRegistry(kv, "alice", silentLog()).Resolve(ctx, "titanic")
	require.NoError(t, err)

	got, ok, err := NewRegistry(kv, "alice", silentLog()).Current(ctx, "titanic")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, h, got)

	raw, err := kv.Get(ctx, MappingsKey)
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, h, m["titanic"])
}

func TestRegistry_Rotate(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(store.NewMemoryKV(), "alice", silentLog())

	h1, err := r.Resolve(ctx, "titanic")
	require.NoError(t, err)
	h2, err := r.Rotate(ctx, "titanic")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	h3, err := r.Resolve(ctx, "titanic")
	require.NoError(t, err)
	assert.Equal(t, h2, h3)
}

func TestRegistry_CurrentMissing(t *testing.T) {
	r := NewRegistry(store.NewMemoryKV(), "alice", silentLog())
	_, ok, err := r.Current(context.Background(), "titanic")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_MappingsAndForget(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(store.NewMemoryKV(), "alice", silentLog())

	_, err := r.Resolve(ctx, "a")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "b")
	require.NoError(t, err)

	m, err := r.Mappings(ctx)
	require.NoError(t, err)
	assert.Len(t, m, 2)

	require.NoError(t, r.Forget(ctx, "a"))
	assert.ErrorIs(t, r.Forget(ctx, "a"), ErrNotFound)

	m, err = r.Mappings(ctx)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	assert.Contains(t, m, "b")
}

func TestRegistry_CorruptMappingsStartEmpty(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, MappingsKey, []byte("{not json")))

	h, err := NewRegistry(kv, "alice", silentLog()).Resolve(ctx, "titanic")
	require.NoError(t, err)
	assert.NotEmpty(t, h)
}

func TestRegistry_StorageErrorPropagates(t *testing.T) {
	boom := errors.New("disk gone")
	r := NewRegistry(failingKV{err: boom}, "alice", silentLog())
	_, err := r.Resolve(context.Background(), "titanic")
	assert.ErrorIs(t, err, boom)
}

// --- Snapshot store tests ---

func sampleState(topic string) domain.State {
	st := domain.NewState(topic)
	st.Topic = domain.TopicMetadata{Title: "Titanic", Description: "Predict survival", Evaluation: "Accuracy"}
	call := domain.ToolCall{ID: "call-1", Name: "rag_tool", Args: map[string]any{"query": "age", "k": float64(4)}}
	st.Append(
		domain.NewSystemMessage("standing instructions"),
		domain.NewUserMessage("which features?"),
		domain.NewAssistantMessage("", call),
		domain.NewToolResultMessage(call, "age matters"),
		domain.NewAssistantMessage("Use age."),
	)
	st.Summary = "earlier talk"
	st.CurrentStep = domain.StepDone
	return st
}

func newSnapshots(kv store.KV) *SnapshotStore {
	return NewSnapshotStore(kv, codec.New(silentLog()), silentLog())
}

func TestSnapshot_GetMissing(t *testing.T) {
	snap, err := newSnapshots(store.NewMemoryKV()).Get(context.Background(), "titanic")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshot_SaveGet(t *testing.T) {
	ctx := context.Background()
	s := newSnapshots(store.NewMemoryKV())
	st := sampleState("titanic")

	require.NoError(t, s.Save(ctx, "titanic", "thread_x", st))
	snap, err := s.Get(ctx, "titanic")
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "titanic", snap.TopicKey)
	assert.Equal(t, "thread_x", snap.SessionHandle)
	assert.Equal(t, st.Messages, snap.State.Messages)
	assert.Equal(t, st.Topic, snap.State.Topic)
	assert.Equal(t, "earlier talk", snap.State.Summary)
	assert.False(t, snap.SavedAt.IsZero())
}

func TestSnapshot_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	s := newSnapshots(store.NewMemoryKV())

	require.NoError(t, s.Save(ctx, "titanic", "thread_x", sampleState("titanic")))
	fresh := domain.NewState("titanic")
	fresh.Append(domain.NewUserMessage("again"))
	require.NoError(t, s.Save(ctx, "titanic", "thread_y", fresh))

	snap, err := s.Get(ctx, "titanic")
	require.NoError(t, err)
	assert.Equal(t, "thread_y", snap.SessionHandle)
	assert.Len(t, snap.State.Messages, 1)
}

func TestSnapshot_Restore(t *testing.T) {
	ctx := context.Background()
	s := newSnapshots(store.NewMemoryKV())
	st := sampleState("titanic")
	require.NoError(t, s.Save(ctx, "titanic", "thread_old", st))

	var applied domain.State
	ok, err := s.Restore(ctx, "titanic", "thread_new", func(got domain.State) error {
		applied = got
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, st.Messages, applied.Messages)
	assert.Equal(t, "titanic", applied.TopicID)
}

func TestSnapshot_RestoreMissing(t *testing.T) {
	called := false
	ok, err := newSnapshots(store.NewMemoryKV()).Restore(context.Background(), "titanic", "h",
		func(domain.State) error { called = true; return nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
}

func TestSnapshot_RestoreApplyError(t *testing.T) {
	ctx := context.Background()
	s := newSnapshots(store.NewMemoryKV())
	require.NoError(t, s.Save(ctx, "titanic", "h", sampleState("titanic")))

	boom := errors.New("checkpoint write failed")
	ok, err := s.Restore(ctx, "titanic", "h", func(domain.State) error { return boom })
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestSnapshot_RestoreForeignRecords(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()

	// A snapshot written by another producer: messages carry only role hints
	// and one carries nothing recognisable.
	raw := `{
		"topicKey": "titanic",
		"sessionHandle": "thread_f",
		"savedAt": "2026-01-02T03:04:05Z",
		"state": {
			"version": 1,
			"topicId": "titanic",
			"messages": [
				{"role": "user", "content": "hello", "id": "u1"},
				{"type": "ai", "content": "hi there", "id": "a1"},
				{"content": "mystery", "id": "m1"}
			]
		}
	}`
	require.NoError(t, kv.Set(ctx, SnapshotPrefix+"titanic", []byte(raw)))

	snap, err := newSnapshots(kv).Get(ctx, "titanic")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.State.Messages, 3)
	assert.Equal(t, domain.UserMessage{ID: "u1", Text: "hello"}, snap.State.Messages[0])
	assert.Equal(t, domain.AssistantMessage{ID: "a1", Text: "hi there"}, snap.State.Messages[1])
	assert.Equal(t, domain.UserMessage{ID: "m1", Text: "mystery"}, snap.State.Messages[2])
}

func TestSnapshot_CorruptIsError(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, SnapshotPrefix+"titanic", []byte("garbage")))

	_, err := newSnapshots(kv).Get(ctx, "titanic")
	assert.Error(t, err)
}

func TestSnapshot_Delete(t *testing.T) {
	ctx := context.Background()
	s := newSnapshots(store.NewMemoryKV())
	require.NoError(t, s.Save(ctx, "titanic", "h", sampleState("titanic")))

	require.NoError(t, s.Delete(ctx, "titanic"))
	snap, err := s.Get(ctx, "titanic")
	require.NoError(t, err)
	assert.Nil(t, snap)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.NoError(t, s.Delete(ctx, "titanic"))
}

func TestSnapshot_ListSortedByRecency(t *testing.T) {
	ctx := context.Background()
	s := newSnapshots(store.NewMemoryKV())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, topic := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		s.now = func() time.Time { return base.Add(offsets[i]) }
		require.NoError(t, s.Save(ctx, topic, "h-"+topic, sampleState(topic)))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "newest", list[0].TopicKey)
	assert.Equal(t, "middle", list[1].TopicKey)
	assert.Equal(t, "old", list[2].TopicKey)
	assert.Equal(t, "Titanic", list[0].Title)
	assert.Equal(t, 5, list[0].Messages)
	assert.True(t, list[0].HasSummary)
}

func TestSnapshot_ListRebuildsMissingIndex(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	s := newSnapshots(kv)
	require.NoError(t, s.Save(ctx, "a", "h", sampleState("a")))
	require.NoError(t, s.Save(ctx, "b", "h", sampleState("b")))
	require.NoError(t, kv.Delete(ctx, IndexKey))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSnapshot_Stats(t *testing.T) {
	ctx := context.Background()
	s := newSnapshots(store.NewMemoryKV())

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Topics)

	require.NoError(t, s.Save(ctx, "a", "h", sampleState("a")))
	plain := domain.NewState("b")
	plain.Append(domain.NewUserMessage("hi"))
	require.NoError(t, s.Save(ctx, "b", "h", plain))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Topics)
	assert.Equal(t, 6, stats.Messages)
	assert.Equal(t, 1, stats.WithSummary)
	assert.False(t, stats.NewestSaveAt.Before(stats.OldestSaveAt))
}

// --- Checkpointer tests ---

func TestMemoryCheckpointer(t *testing.T) {
	ctx := context.Background()
	cp := NewMemoryCheckpointer()

	_, ok, err := cp.Load(ctx, "h")
	require.NoError(t, err)
	assert.False(t, ok)

	st := sampleState("titanic")
	require.NoError(t, cp.Store(ctx, "h", st))
	assert.Equal(t, 1, cp.Len())

	got, ok, err := cp.Load(ctx, "h")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.Messages, got.Messages)

	// Mutating the loaded copy does not leak back.
	got.Append(domain.NewUserMessage("extra"))
	again, _, _ := cp.Load(ctx, "h")
	assert.Len(t, again.Messages, len(st.Messages))

	require.NoError(t, cp.Drop(ctx, "h"))
	assert.Zero(t, cp.Len())
}

func TestSQLiteCheckpointer_SatisfiesInterface(t *testing.T) {
	var _ Checkpointer = (*store.SQLiteCheckpointer)(nil)
}
