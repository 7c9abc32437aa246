package session

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/kaggler/internal/codec"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/store"
)

const (
	// SnapshotPrefix prefixes the KV key of every topic snapshot.
	SnapshotPrefix = "kaggler_snapshot:"
	// IndexKey holds the listing entries of all snapshots.
	IndexKey = "kaggler_snapshot_index"
)

// SnapshotRecord is the stored and wire form of a snapshot. The state goes
// through the codec so it survives storage that strips Go types.
type SnapshotRecord struct {
	TopicKey      string            `json:"topicKey"`
	SessionHandle string            `json:"sessionHandle"`
	State         codec.StateRecord `json:"state"`
	SavedAt       time.Time         `json:"savedAt"`
}

// Stats summarises the snapshot store.
type Stats struct {
	Topics       int       `json:"topics"`
	Messages     int       `json:"messages"`
	WithSummary  int       `json:"withSummary"`
	OldestSaveAt time.Time `json:"oldestSaveAt,omitzero"`
	NewestSaveAt time.Time `json:"newestSaveAt,omitzero"`
}

// SnapshotStore keeps one state snapshot per topic in a KV. Saving replaces
// the previous snapshot.
type SnapshotStore struct {
	kv    store.KV
	codec *codec.Codec
	log   *logging.Logger
	now   func() time.Time

	mu sync.Mutex // guards the index read-modify-write
}

// NewSnapshotStore creates a snapshot store on kv.
func NewSnapshotStore(kv store.KV, c *codec.Codec, log *logging.Logger) *SnapshotStore {
	if log == nil {
		log = logging.Nop()
	}
	if c == nil {
		c = codec.New(log)
	}
	return &SnapshotStore{
		kv:    kv,
		codec: c,
		log:   log.Sub("snapshots"),
		now:   time.Now,
	}
}

func snapshotKey(topic string) string { return SnapshotPrefix + topic }

// Encode converts a snapshot to its portable record.
func (s *SnapshotStore) Encode(snap domain.Snapshot) SnapshotRecord {
	return SnapshotRecord{
		TopicKey:      snap.TopicKey,
		SessionHandle: snap.SessionHandle,
		State:         s.codec.EncodeState(snap.State),
		SavedAt:       snap.SavedAt,
	}
}

// Save writes st as the topic's snapshot.
func (s *SnapshotStore) Save(ctx context.Context, topic, handle string, st domain.State) error {
	rec := s.Encode(domain.Snapshot{
		TopicKey:      topic,
		SessionHandle: handle,
		State:         st,
		SavedAt:       s.now().UTC(),
	})
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding snapshot for %s: %w", topic, err)
	}
	if err := s.kv.Set(ctx, snapshotKey(topic), data); err != nil {
		return fmt.Errorf("saving snapshot for %s: %w", topic, err)
	}

	info := domain.SnapshotInfo{
		TopicKey:      topic,
		SessionHandle: handle,
		Title:         st.Topic.Title,
		Messages:      len(st.Messages),
		HasSummary:    st.Summary != "",
		SavedAt:       rec.SavedAt,
	}
	if err := s.updateIndex(ctx, func(idx map[string]domain.SnapshotInfo) { idx[topic] = info }); err != nil {
		return err
	}

	s.log.Debug().
		Str("topic", topic).
		Str("handle", handle).
		Int("messages", len(st.Messages)).
		Msg("snapshot saved")
	return nil
}

// Restore loads the topic's snapshot and hands its state to apply, which
// installs it into the working memory of handle. It reports whether a
// snapshot existed.
func (s *SnapshotStore) Restore(ctx context.Context, topic, handle string, apply func(domain.State) error) (bool, error) {
	snap, err := s.Get(ctx, topic)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	st := snap.State
	st.TopicID = topic
	if err := apply(st); err != nil {
		return false, fmt.Errorf("applying snapshot for %s to %s: %w", topic, handle, err)
	}
	s.log.Debug().
		Str("topic", topic).
		Str("handle", handle).
		Int("messages", len(st.Messages)).
		Msg("snapshot restored")
	return true, nil
}

// Get returns the topic's snapshot, or nil when there is none.
func (s *SnapshotStore) Get(ctx context.Context, topic string) (*domain.Snapshot, error) {
	data, err := s.kv.Get(ctx, snapshotKey(topic))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", topic, err)
	}

	var rec SnapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding snapshot for %s: %w", topic, err)
	}
	if rec.TopicKey == "" {
		rec.TopicKey = topic
	}
	return &domain.Snapshot{
		TopicKey:      rec.TopicKey,
		SessionHandle: rec.SessionHandle,
		State:         s.codec.DecodeState(rec.State),
		SavedAt:       rec.SavedAt,
	}, nil
}

// Delete removes the topic's snapshot. Deleting a missing snapshot is not an
// error.
func (s *SnapshotStore) Delete(ctx context.Context, topic string) error {
	if err := s.kv.Delete(ctx, snapshotKey(topic)); err != nil {
		return fmt.Errorf("deleting snapshot for %s: %w", topic, err)
	}
	return s.updateIndex(ctx, func(idx map[string]domain.SnapshotInfo) { delete(idx, topic) })
}

// List returns a listing entry per stored snapshot, most recently saved
// first.
func (s *SnapshotStore) List(ctx context.Context) ([]domain.SnapshotInfo, error) {
	s.mu.Lock()
	idx, err := s.loadIndex(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]domain.SnapshotInfo, 0, len(idx))
	for _, info := range idx {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b domain.SnapshotInfo) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TopicKey, b.TopicKey)
	})
	return out, nil
}

// Stats aggregates the listing entries.
func (s *SnapshotStore) Stats(ctx context.Context) (Stats, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, info := range infos {
		st.Topics++
		st.Messages += info.Messages
		if info.HasSummary {
			st.WithSummary++
		}
		if st.OldestSaveAt.IsZero() || info.SavedAt.Before(st.OldestSaveAt) {
			st.OldestSaveAt = info.SavedAt
		}
		if info.SavedAt.After(st.NewestSaveAt) {
			st.NewestSaveAt = info.SavedAt
		}
	}
	return st, nil
}

func (s *SnapshotStore) updateIndex(ctx context.Context, fn func(map[string]domain.SnapshotInfo)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	fn(idx)
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encoding snapshot index: %w", err)
	}
	if err := s.kv.Set(ctx, IndexKey, data); err != nil {
		return fmt.Errorf("writing snapshot index: %w", err)
	}
	return nil
}

// loadIndex reads the index. When it is missing or unreadable it is rebuilt
// from the snapshot keys themselves.
func (s *SnapshotStore) loadIndex(ctx context.Context) (map[string]domain.SnapshotInfo, error) {
	data, err := s.kv.Get(ctx, IndexKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.rebuildIndex(ctx)
	case err != nil:
		return nil, fmt.Errorf("reading snapshot index: %w", err)
	}

	idx := make(map[string]domain.SnapshotInfo)
	if err := json.Unmarshal(data, &idx); err != nil {
		s.log.Warn().Err(err).Msg("snapshot index unreadable, rebuilding")
		return s.rebuildIndex(ctx)
	}
	return idx, nil
}

func (s *SnapshotStore) rebuildIndex(ctx context.Context) (map[string]domain.SnapshotInfo, error) {
	keys, err := s.kv.Keys(ctx, SnapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	idx := make(map[string]domain.SnapshotInfo, len(keys))
	for _, k := range keys {
		topic := strings.TrimPrefix(k, SnapshotPrefix)
		snap, err := s.Get(ctx, topic)
		if err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("skipping unreadable snapshot")
			continue
		}
		if snap == nil {
			continue
		}
		idx[topic] = domain.SnapshotInfo{
			TopicKey:      topic,
			SessionHandle: snap.SessionHandle,
			Title:         snap.State.Topic.Title,
			Messages:      len(snap.State.Messages),
			HasSummary:    snap.State.Summary != "",
			SavedAt:       snap.SavedAt,
		}
	}
	return idx, nil
}
