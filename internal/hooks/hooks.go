// Package hooks dispatches turn and topic lifecycle events to registered
// handlers, including shell commands configured under `hooks:`.
package hooks

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/kaggler/internal/logging"
)

const (
	EventTurnStart     = "turn_start"
	EventTurnEnd       = "turn_end"
	EventSnapshotSaved = "snapshot_saved"
	EventTopicReset    = "topic_reset"
	EventGatewayStart  = "gateway_start"
	EventGatewayStop   = "gateway_stop"
)

// AllEvents lists every event the service and gateway emit.
var AllEvents = []string{
	EventTurnStart,
	EventTurnEnd,
	EventSnapshotSaved,
	EventTopicReset,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives. Command hooks get it as JSON on stdin.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to an event. Errors and panics are logged and never reach
// the code that emitted the event.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	name    string
	handler Handler
}

// Manager holds handlers per event. A nil *Manager drops every event, so
// components can emit unconditionally.
type Manager struct {
	log *logging.Logger

	mu       sync.RWMutex
	handlers map[string][]registration

	pending sync.WaitGroup // EmitAsync handlers still running
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		log:      log.Sub("hooks"),
		handlers: make(map[string][]registration),
	}
}

// On adds handler to event under name, which only appears in logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], registration{name: name, handler: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Emit runs event's handlers one after another, in registration order,
// and returns when the last one finishes.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	regs := m.registered(event)
	if len(regs) == 0 {
		return
	}
	p := Payload{Event: event, Time: time.Now().UTC(), Data: data}
	for _, r := range regs {
		m.run(ctx, r, p)
	}
}

// EmitAsync starts event's handlers concurrently and returns at once. The
// handlers keep running after ctx is cancelled; Drain waits for them.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	regs := m.registered(event)
	if len(regs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p := Payload{Event: event, Time: time.Now().UTC(), Data: data}
	for _, r := range regs {
		m.pending.Go(func() { m.run(ctx, r, p) })
	}
}

// Drain blocks until every EmitAsync handler has returned or ctx ends.
func (m *Manager) Drain(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hooks still running: %w", ctx.Err())
	}
}

func (m *Manager) run(ctx context.Context, r registration, p Payload) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = fmt.Errorf("panic: %v", v)
			}
		}()
		return r.handler(ctx, p)
	}()

	if err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", r.name).Msg("hook failed")
		return
	}
	m.log.Trace().
		Str("event", p.Event).
		Str("handler", r.name).
		Dur("took", time.Since(start)).
		Msg("hook ran")
}

// Count returns how many handlers event has.
func (m *Manager) Count(event string) int {
	return len(m.registered(event))
}

// Events returns the events with at least one handler, sorted.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.handlers))
}

func (m *Manager) registered(event string) []registration {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}
