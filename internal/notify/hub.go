package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"credit_market/internal/domain"
	"credit_market/internal/infra"
)

var ErrHubStopped = errors.New("notify: hub stopped")

// Message is the frame pushed to clients. Seq increases by one per group.
type Message struct {
	Event string          `json:"event"`
	Group string          `json:"group"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// CommandHandler answers a command sent by a connected user. The reply is
// marshalled into the data of a commandresult message.
type CommandHandler func(ctx context.Context, userID string, raw []byte) any

// SubscribeHook runs when an identified user connects.
type SubscribeHook func(ctx context.Context, userID string)

// Authenticator resolves a session token to a user id.
type Authenticator interface {
	Verify(token string) (string, error)
}

type Option func(*Hub)

func WithMetrics(m *infra.Metrics) Option { return func(h *Hub) { h.metrics = m } }

func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuffer = n
		}
	}
}

func WithCommandHandler(fn CommandHandler) Option { return func(h *Hub) { h.handler = fn } }

func WithSubscribeHook(fn SubscribeHook) Option { return func(h *Hub) { h.onSubscribe = fn } }

// WithAuthenticator makes the hub take the user from a signed token instead of the
// user query parameter.
func WithAuthenticator(a Authenticator) Option { return func(h *Hub) { h.auth = a } }

// Hub fans domain events out to websocket subscribers. Events are taken from one
// FIFO inbox and dispatched by a single goroutine, so per-listing order is kept.
type Hub struct {
	inbox chan []domain.Event
	done  chan struct{}

	// owned by the Run goroutine
	seqs map[string]uint64

	mu     sync.RWMutex
	groups map[string]map[*client]struct{}

	clientBuffer int
	metrics      *infra.Metrics
	handler      CommandHandler
	onSubscribe  SubscribeHook
	auth         Authenticator
}

func NewHub(inboxSize int, opts ...Option) *Hub {
	h := &Hub{
		inbox:        make(chan []domain.Event, inboxSize),
		done:         make(chan struct{}),
		seqs:         make(map[string]uint64),
		groups:       make(map[string]map[*client]struct{}),
		clientBuffer: 64,
		metrics:      infra.GlobalMetrics,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ domain.Notifier = (*Hub)(nil)

// Notify queues events for delivery. It blocks while the inbox is full.
func (h *Hub) Notify(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	select {
	case h.inbox <- events:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the dispatch loop. It must run in exactly one goroutine.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("Notification hub started")
	defer close(h.done)
	defer h.closeAll()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("NOTIFY_HUB_PANIC", slog.Any("panic", r))
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Notification hub stopping...")
			return
		case events := <-h.inbox:
			for _, ev := range events {
				h.dispatch(ev)
			}
		}
	}
}

func (h *Hub) dispatch(ev domain.Event) {
	routes := Routes(ev)
	if len(routes) == 0 {
		slog.Warn("Unroutable event", slog.String("type", string(ev.Type())))
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode event", slog.String("type", string(ev.Type())), slog.Any("error", err))
		return
	}

	for _, r := range routes {
		h.seqs[r.Group]++
		frame, err := json.Marshal(Message{Event: r.Name, Group: r.Group, Seq: h.seqs[r.Group], Data: data})
		if err != nil {
			slog.Error("Failed to encode message", slog.String("group", r.Group), slog.Any("error", err))
			continue
		}
		for _, c := range h.broadcast(r.Group, frame) {
			slog.Warn("Dropping slow client",
				slog.String("user", c.userID),
				slog.String("group", r.Group),
			)
			h.metrics.RecordDroppedNotification()
			h.unregister(c)
		}
	}
}

// broadcast offers frame to every subscriber of group and returns those whose buffer was full.
func (h *Hub) broadcast(group string, frame []byte) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var slow []*client
	for c := range h.groups[group] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	return slow
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	for _, g := range c.groups {
		members, ok := h.groups[g]
		if !ok {
			members = make(map[*client]struct{})
			h.groups[g] = members
		}
		members[c] = struct{}{}
	}
	h.mu.Unlock()
	h.metrics.IncrementConnections()
}

// unregister detaches c and closes its send channel. Safe to call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	for _, g := range c.groups {
		delete(h.groups[g], c)
		if len(h.groups[g]) == 0 {
			delete(h.groups, g)
		}
	}
	close(c.send)
	h.mu.Unlock()
	h.metrics.DecrementConnections()
}

// reply queues a frame for a single client. It reports false if the client is gone or full.
func (h *Hub) reply(c *client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	seen := make(map[*client]struct{})
	for _, members := range h.groups {
		for c := range members {
			seen[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	for c := range seen {
		h.unregister(c)
	}
}

// Subscribers returns the number of clients attached to group.
func (h *Hub) Subscribers(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
