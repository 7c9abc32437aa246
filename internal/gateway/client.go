package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/kaggler/internal/logging"
)

const (
	writeWait         = 10 * time.Second
	maxTurnsPerClient = 4
)

var (
	// ErrTooManyTurns is returned by StartTurn when the connection already
	// has maxTurnsPerClient turns running.
	ErrTooManyTurns = errors.New("gateway: too many turns in flight on this connection")

	// ErrDuplicateRequest is returned by StartTurn when a turn with the same
	// request ID is still running.
	ErrDuplicateRequest = errors.New("gateway: request id already in flight")
)

// Client is a WebSocket connection that completed the handshake. Writes are
// serialised, and the turns it started are cancelled when it closes.
type Client struct {
	ConnID      string
	Info        ClientInfo
	ConnectedAt time.Time

	conn *websocket.Conn
	log  *logging.Logger
	idle time.Duration // read deadline window; 0 until KeepAlive

	mu     sync.Mutex
	closed bool
	turns  map[string]context.CancelFunc // request ID → cancel
}

// NewClient wraps a freshly upgraded connection.
func NewClient(conn *websocket.Conn, info ClientInfo, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		ConnectedAt: time.Now(),
		conn:        conn,
		log:         log,
	}
}

// Send writes one frame, giving up after writeWait.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

// SendEvent sends a named event.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond answers request reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError answers request reqID with an error.
func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, shape))
}

// ReadFrame blocks for the next frame. With keepalive running, any frame
// from the peer also counts as a sign of life.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	c.extendDeadline()
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	return f, nil
}

// KeepAlive pings the peer every interval until ctx ends. Reads fail once
// two intervals pass with neither a frame nor a pong, which ends the read
// loop. It must be called before the read loop starts.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration) {
	c.idle = 2 * interval
	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("ping failed")
					return
				}
			}
		}
	}()
}

// extendDeadline runs on the reading goroutine only.
func (c *Client) extendDeadline() {
	if c.idle > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.idle))
	}
}

// StartTurn registers a turn for request reqID. The returned context ends
// when timeout passes, parent ends or the client closes; done must be called
// once the turn's last frame is written.
func (c *Client) StartTurn(parent context.Context, reqID string, timeout time.Duration) (ctx context.Context, done func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClientClosed
	}
	if _, busy := c.turns[reqID]; busy {
		return nil, nil, ErrDuplicateRequest
	}
	if len(c.turns) >= maxTurnsPerClient {
		return nil, nil, ErrTooManyTurns
	}
	if c.turns == nil {
		c.turns = make(map[string]context.CancelFunc)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	c.turns[reqID] = cancel
	done = func() {
		c.mu.Lock()
		delete(c.turns, reqID)
		c.mu.Unlock()
		cancel()
	}
	return ctx, done, nil
}

// ActiveTurns returns the request IDs of running turns, sorted.
func (c *Client) ActiveTurns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.turns))
}

// Close cancels the client's turns and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for id, cancel := range c.turns {
		cancel()
		delete(c.turns, id)
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Hub tracks connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a client.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c.ConnID] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("clients", n).Msg("client joined")
}

// Remove unregisters a client.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	delete(h.clients, connID)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("connId", connID).Int("clients", n).Msg("client left")
}

// Get looks a client up by connection ID.
func (h *Hub) Get(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Turns returns the number of turns running across all clients.
func (h *Hub) Turns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		n += len(c.ActiveTurns())
	}
	return n
}

// Broadcast sends an event to every client except skip, which may be empty.
// Send failures are logged; a slow or dead client never blocks the others
// for longer than writeWait.
func (h *Hub) Broadcast(event string, payload any, seq int64, skip string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendEvent(event, payload, seq); err != nil {
			h.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast failed")
		}
	}
}

// CloseAll closes and forgets every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}
