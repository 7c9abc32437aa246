package session

import (
	"context"
	"sync"

	"github.com/soyeahso/kaggler/internal/domain"
)

// Checkpointer holds the live working state of each session handle between
// turns.
type Checkpointer interface {
	// Load returns the state for handle; ok is false when none exists.
	Load(ctx context.Context, handle string) (st domain.State, ok bool, err error)
	Store(ctx context.Context, handle string, st domain.State) error
	Drop(ctx context.Context, handle string) error
}

// MemoryCheckpointer is an in-process Checkpointer. States are cloned on the
// way in and out so callers never share message slices with it.
type MemoryCheckpointer struct {
	mu     sync.RWMutex
	states map[string]domain.State
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{states: make(map[string]domain.State)}
}

func (m *MemoryCheckpointer) Load(_ context.Context, handle string) (domain.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[handle]
	if !ok {
		return domain.State{}, false, nil
	}
	return st.Clone(), true, nil
}

func (m *MemoryCheckpointer) Store(_ context.Context, handle string, st domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[handle] = st.Clone()
	return nil
}

func (m *MemoryCheckpointer) Drop(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, handle)
	return nil
}

// Len returns the number of handles with stored state.
func (m *MemoryCheckpointer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
