// Package session maps topics to conversation handles and persists the
// per-topic state snapshots that let a conversation resume after restart.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/store"
)

// MappingsKey is the KV key holding the topic → handle map.
const MappingsKey = "kaggler_thread_mappings"

// HandlePrefix starts every session handle.
const HandlePrefix = "thread_"

// ErrNotFound is returned when a topic has no mapping or snapshot.
var ErrNotFound = errors.New("session: not found")

// Registry issues and remembers the session handle of each topic. A handle
// stays stable across turns until Rotate replaces it.
type Registry struct {
	kv   store.KV
	user string
	log  *logging.Logger
	now  func() time.Time

	mu sync.Mutex
}

// NewRegistry creates a registry persisting into kv. user is mixed into
// generated handles.
func NewRegistry(kv store.KV, user string, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		kv:   kv,
		user: user,
		log:  log.Sub("session"),
		now:  time.Now,
	}
}

// Resolve returns the handle for topic, creating and persisting a new one if
// the topic has none.
func (r *Registry) Resolve(ctx context.Context, topic string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return "", err
	}
	if h, ok := m[topic]; ok && h != "" {
		return h, nil
	}

	h := NewHandle(r.user, topic, r.now())
	m[topic] = h
	if err := r.save(ctx, m); err != nil {
		return "", err
	}
	r.log.Info().Str("topic", topic).Str("handle", h).Msg("new session handle")
	return h, nil
}

// Rotate replaces the topic's handle with a fresh one.
func (r *Registry) Rotate(ctx context.Context, topic string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return "", err
	}
	old := m[topic]
	h := NewHandle(r.user, topic, r.now())
	m[topic] = h
	if err := r.save(ctx, m); err != nil {
		return "", err
	}
	r.log.Info().Str("topic", topic).Str("old", old).Str("handle", h).Msg("session handle rotated")
	return h, nil
}

// Current returns the topic's handle without creating one.
func (r *Registry) Current(ctx context.Context, topic string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return "", false, err
	}
	h, ok := m[topic]
	return h, ok, nil
}

// Mappings returns a copy of every topic → handle mapping.
func (r *Registry) Mappings(ctx context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Forget removes the topic's mapping. It returns ErrNotFound when there was
// none.
func (r *Registry) Forget(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[topic]; !ok {
		return ErrNotFound
	}
	delete(m, topic)
	return r.save(ctx, m)
}

// load reads the mapping. A corrupt value is logged and treated as empty so
// the registry keeps working.
func (r *Registry) load(ctx context.Context) (map[string]string, error) {
	data, err := r.kv.Get(ctx, MappingsKey)
	if errors.Is(err, store.ErrNotFound) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading thread mappings: %w", err)
	}

	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		r.log.Warn().Err(err).Msg("thread mappings unreadable, starting empty")
		return make(map[string]string), nil
	}
	return m, nil
}

func (r *Registry) save(ctx context.Context, m map[string]string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding thread mappings: %w", err)
	}
	if err := r.kv.Set(ctx, MappingsKey, data); err != nil {
		return fmt.Errorf("writing thread mappings: %w", err)
	}
	return nil
}

// NewHandle derives an opaque session handle from the user, the topic, the
// time and a random nonce.
func NewHandle(user, topic string, now time.Time) string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%x", user, topic, now.UnixNano(), nonce))
	return HandlePrefix + hex.EncodeToString(sum[:])[:32]
}
