package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/hooks"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/session"
	"github.com/soyeahso/kaggler/internal/store"
)

// ErrNoTopic is returned when a request names no topic.
var ErrNoTopic = errors.New("agent: topic is required")

// TranscriptArchive keeps every conversational message, including the ones
// summarization later removes from working state.
type TranscriptArchive interface {
	Record(ctx context.Context, topicID, handle string, msgs []domain.Message) (int, error)
	History(ctx context.Context, topicID string, limit int) ([]store.TranscriptEntry, error)
	Search(ctx context.Context, query, topicID string, limit int) ([]store.TranscriptEntry, error)
}

// ServiceDeps wires a Service. Engine, Registry, Snapshots and Checkpoints
// are required.
type ServiceDeps struct {
	Engine      *Engine
	Registry    *session.Registry
	Snapshots   *session.SnapshotStore
	Checkpoints session.Checkpointer
	Transcripts TranscriptArchive
	Hooks       *hooks.Manager

	// MaxConcurrent bounds turns running at once across topics. Zero means
	// unbounded.
	MaxConcurrent int
}

// Service runs turns for topics: it resolves the session handle, restores
// the topic snapshot, drives the engine and persists the result. Turns for
// the same topic run one at a time; different topics run in parallel.
type Service struct {
	engine      *Engine
	registry    *session.Registry
	snapshots   *session.SnapshotStore
	checkpoints session.Checkpointer
	transcripts TranscriptArchive
	hooks       *hooks.Manager
	global      *semaphore.Weighted
	log         *logging.Logger

	mu    sync.Mutex
	lanes map[string]*semaphore.Weighted
}

// NewService creates a turn service.
func NewService(deps ServiceDeps, log *logging.Logger) *Service {
	s := &Service{
		engine:      deps.Engine,
		registry:    deps.Registry,
		snapshots:   deps.Snapshots,
		checkpoints: deps.Checkpoints,
		transcripts: deps.Transcripts,
		hooks:       deps.Hooks,
		log:         log.Sub("agent.service"),
		lanes:       make(map[string]*semaphore.Weighted),
	}
	if s.checkpoints == nil {
		s.checkpoints = session.NewMemoryCheckpointer()
	}
	if deps.MaxConcurrent > 0 {
		s.global = semaphore.NewWeighted(int64(deps.MaxConcurrent))
	}
	return s
}

func (s *Service) lane(topic string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[topic]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.lanes[topic] = l
	}
	return l
}

// acquire takes the topic lane and a global slot. The returned func
// releases both.
func (s *Service) acquire(ctx context.Context, topic string) (func(), error) {
	l := s.lane(topic)
	if err := l.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for topic %s: %w", topic, err)
	}
	if s.global != nil {
		if err := s.global.Acquire(ctx, 1); err != nil {
			l.Release(1)
			return nil, fmt.Errorf("waiting for a turn slot: %w", err)
		}
	}
	return func() {
		if s.global != nil {
			s.global.Release(1)
		}
		l.Release(1)
	}, nil
}

func validate(req TurnRequest) (TurnRequest, error) {
	req.TopicID = strings.TrimSpace(req.TopicID)
	req.Text = strings.TrimSpace(req.Text)
	if req.TopicID == "" {
		return req, ErrNoTopic
	}
	if req.Text == "" {
		return req, ErrEmptyTurn
	}
	return req, nil
}

// SubmitTurn runs one turn and returns its result.
func (s *Service) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	return s.submit(ctx, req, nil)
}

// SubmitTurnStream runs one turn in the background. The channel carries the
// turn's delta, step and tool events and ends with exactly one done or error
// event before it is closed. Callers must drain the channel until it closes
// or ctx ends; once ctx ends, events that find the buffer full are dropped,
// the terminal one included.
func (s *Service) SubmitTurnStream(ctx context.Context, req TurnRequest) (<-chan TurnEvent, error) {
	req, err := validate(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan TurnEvent, 64)
	go func() {
		defer close(ch)
		send := func(ev TurnEvent) {
			select {
			case ch <- ev:
				return
			default:
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		res, err := s.submit(ctx, req, send)
		if err != nil {
			send(TurnEvent{Type: EventError, Error: err.Error()})
			return
		}
		send(TurnEvent{Type: EventDone, Content: res.Answer, Step: res.Step, Result: res})
	}()
	return ch, nil
}

func (s *Service) submit(ctx context.Context, req TurnRequest, sink func(TurnEvent)) (*TurnResult, error) {
	req, err := validate(req)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, req.TopicID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	handle := req.SessionHandle
	if handle == "" {
		if handle, err = s.registry.Resolve(ctx, req.TopicID); err != nil {
			return nil, fmt.Errorf("resolving session for %s: %w", req.TopicID, err)
		}
	}

	log := s.log.With("topic", req.TopicID).With("handle", handle)

	restored, err := s.snapshots.Restore(ctx, req.TopicID, handle, func(st domain.State) error {
		return s.checkpoints.Store(ctx, handle, st)
	})
	if err != nil {
		log.Warn().Err(err).Msg("snapshot restore failed, starting fresh")
		restored = false
	}

	st, ok, err := s.checkpoints.Load(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("loading state for %s: %w", handle, err)
	}
	if !ok {
		st = domain.NewState(req.TopicID)
	}
	st.TopicID = req.TopicID

	s.hooks.Emit(ctx, hooks.EventTurnStart, map[string]any{
		"topic":    req.TopicID,
		"handle":   handle,
		"restored": restored,
	})

	st, err = s.engine.Run(ctx, st, req.Text, sink)
	if err != nil {
		return nil, fmt.Errorf("running turn for %s: %w", req.TopicID, err)
	}

	if err := s.checkpoints.Store(ctx, handle, st); err != nil {
		return nil, fmt.Errorf("storing state for %s: %w", handle, err)
	}
	if err := s.snapshots.Save(ctx, req.TopicID, handle, st); err != nil {
		log.Error().Err(err).Msg("snapshot save failed")
	} else {
		s.hooks.EmitAsync(ctx, hooks.EventSnapshotSaved, map[string]any{
			"topic":    req.TopicID,
			"handle":   handle,
			"messages": len(st.Messages),
		})
	}

	if s.transcripts != nil {
		if _, err := s.transcripts.Record(ctx, req.TopicID, handle, st.Messages); err != nil {
			log.Warn().Err(err).Msg("transcript archive failed")
		}
	}

	res := newTurnResult(st, handle, restored, time.Since(start))
	s.hooks.EmitAsync(ctx, hooks.EventTurnEnd, map[string]any{
		"topic":      req.TopicID,
		"handle":     handle,
		"step":       string(res.Step),
		"retryCount": res.RetryCount,
		"toolUsage":  res.ToolUsage,
		"durationMs": res.Duration.Milliseconds(),
	})

	log.Info().
		Bool("restored", restored).
		Str("step", string(res.Step)).
		Int("messages", res.Messages).
		Dur("duration", res.Duration).
		Msg("turn finished")
	return res, nil
}

// ResetTopic discards a topic's conversation: its snapshot and working state
// are deleted and a new session handle is issued. Archived transcripts are
// kept. It returns the new handle.
func (s *Service) ResetTopic(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrNoTopic
	}

	release, err := s.acquire(ctx, topic)
	if err != nil {
		return "", err
	}
	defer release()

	old, hadOld, err := s.registry.Current(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("reading session for %s: %w", topic, err)
	}
	if err := s.snapshots.Delete(ctx, topic); err != nil {
		return "", fmt.Errorf("deleting snapshot for %s: %w", topic, err)
	}
	if hadOld {
		if err := s.checkpoints.Drop(ctx, old); err != nil {
			return "", fmt.Errorf("dropping state for %s: %w", old, err)
		}
	}
	handle, err := s.registry.Rotate(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("rotating session for %s: %w", topic, err)
	}

	s.hooks.EmitAsync(ctx, hooks.EventTopicReset, map[string]any{
		"topic":     topic,
		"oldHandle": old,
		"handle":    handle,
	})
	s.log.Info().Str("topic", topic).Str("old", old).Str("handle", handle).Msg("topic reset")
	return handle, nil
}

// GetSnapshot returns the topic's stored snapshot, or session.ErrNotFound.
func (s *Service) GetSnapshot(ctx context.Context, topic string) (*domain.Snapshot, error) {
	snap, err := s.snapshots.Get(ctx, topic)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, session.ErrNotFound
	}
	return snap, nil
}

// ExportSnapshot returns the topic's snapshot in its portable form, the way
// it is stored.
func (s *Service) ExportSnapshot(ctx context.Context, topic string) (session.SnapshotRecord, error) {
	snap, err := s.GetSnapshot(ctx, topic)
	if err != nil {
		return session.SnapshotRecord{}, err
	}
	return s.snapshots.Encode(*snap), nil
}

// ListTopics lists every topic with a stored snapshot.
func (s *Service) ListTopics(ctx context.Context) ([]domain.SnapshotInfo, error) {
	return s.snapshots.List(ctx)
}

// Stats summarises the snapshot store.
func (s *Service) Stats(ctx context.Context) (session.Stats, error) {
	return s.snapshots.Stats(ctx)
}

// Mappings returns the topic → session handle map.
func (s *Service) Mappings(ctx context.Context) (map[string]string, error) {
	return s.registry.Mappings(ctx)
}

// History returns archived messages for a topic, newest last.
func (s *Service) History(ctx context.Context, topic string, limit int) ([]store.TranscriptEntry, error) {
	if s.transcripts == nil {
		return nil, nil
	}
	return s.transcripts.History(ctx, topic, limit)
}

// Search runs a full-text query over archived messages. An empty topic
// searches every topic.
func (s *Service) Search(ctx context.Context, query, topic string, limit int) ([]store.TranscriptEntry, error) {
	if s.transcripts == nil {
		return nil, nil
	}
	return s.transcripts.Search(ctx, query, topic, limit)
}
