// Package hub serves the control WebSocket used by the desktop widget.
//
// Clients send commands and questions; the hub delegates commands to a
// [Controller] and questions to an [Answerer], and fans pipeline events out to
// every connected client. Delivery is best effort and at most once: a client
// whose send fails is dropped, and clients that connect later never see
// earlier events.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/clarimeet/clarimeet/internal/ipc"
	"github.com/clarimeet/clarimeet/internal/observe"
)

// ErrClientSend is returned when a message cannot be delivered to a client.
// The client is removed from the hub.
var ErrClientSend = errors.New("client send failed")

const (
	// DefaultWriteTimeout bounds a single send to one client.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultReadLimit is the largest accepted client message in bytes.
	DefaultReadLimit = 64 << 10
)

// Controller starts and stops the capture pipeline. The returned status is a
// user-facing line such as "Transcription started.".
type Controller interface {
	Start(ctx context.Context) (status string, err error)
	Stop(ctx context.Context) (status string, err error)
}

// Answerer answers a question about the meeting.
type Answerer interface {
	AnswerQuestion(ctx context.Context, question string) (string, error)
}

// Option configures a [Hub].
type Option func(*Hub)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// Hub tracks connected clients and routes their messages.
type Hub struct {
	ctrl           Controller
	answerer       Answerer
	log            *slog.Logger
	metrics        *observe.Metrics
	writeTimeout   time.Duration
	originPatterns []string

	nextID atomic.Uint64

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	wg sync.WaitGroup
}

// New creates a Hub.
func New(ctrl Controller, answerer Answerer, opts ...Option) *Hub {
	h := &Hub{
		ctrl:         ctrl,
		answerer:     answerer,
		log:          slog.Default(),
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[*Client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn("hub: accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(DefaultReadLimit)

	c := &Client{id: h.nextID.Add(1), remote: r.RemoteAddr, conn: conn}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.wg.Done()
	defer h.remove(c, websocket.StatusNormalClosure, "")

	h.readLoop(r.Context(), c)
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	c.transition(StateConnected)
	h.metrics.ConnectedClients.Add(context.Background(), 1)
	h.log.Info("hub: client connected", "client", c.id, "remote", c.remote, "clients", len(h.clients))
	return true
}

// remove drops c and closes its connection. Connections that failed a send
// are closed without a handshake. It is safe to call more than once.
func (h *Hub) remove(c *Client, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.transition(StateDisconnected)
	if !ok {
		return
	}
	h.metrics.ConnectedClients.Add(context.Background(), -1)
	if code == websocket.StatusInternalError {
		_ = c.conn.CloseNow()
	} else {
		_ = c.conn.Close(code, reason)
	}
	h.log.Info("hub: client disconnected", "client", c.id, "clients", n)
}

func (h *Hub) readLoop(ctx context.Context, c *Client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				h.log.Debug("hub: client closed", "client", c.id)
			default:
				if ctx.Err() == nil && c.State() == StateConnected {
					h.log.Debug("hub: read", "client", c.id, "err", err)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			h.reply(ctx, c, StatusMessage("Error: binary messages are not supported"))
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.reply(ctx, c, StatusMessage("Error: invalid message"))
			continue
		}
		h.handle(ctx, c, req)
	}
}

// handle processes one request. Requests from one client are handled in
// arrival order.
func (h *Hub) handle(ctx context.Context, c *Client, req Request) {
	switch req.Type {
	case TypeCommand:
		var (
			status string
			err    error
		)
		switch req.Command {
		case CommandStart:
			status, err = h.ctrl.Start(ctx)
		case CommandStop:
			status, err = h.ctrl.Stop(ctx)
		default:
			h.reply(ctx, c, StatusMessage("Error: unknown command "+req.Command))
			return
		}
		if err != nil {
			h.log.Error("hub: command failed", "command", req.Command, "err", err)
			h.reply(ctx, c, ErrorMessage(err))
			return
		}
		// Every client shows the pipeline state, not just the one that
		// changed it.
		if status != "" {
			h.Broadcast(ctx, StatusMessage(status))
		}

	case TypeChatbotQuestion:
		answer, err := h.answerer.AnswerQuestion(ctx, req.Question)
		if err != nil {
			h.log.Error("hub: answer question", "err", err)
			h.reply(ctx, c, ErrorMessage(err))
			return
		}
		h.reply(ctx, c, Message{Type: TypeChatbotResponse, Answer: answer})

	default:
		h.reply(ctx, c, StatusMessage("Error: unknown message type"))
	}
}

// reply sends msg to c only. A failed reply drops c.
func (h *Hub) reply(ctx context.Context, c *Client, msg Message) {
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := c.send(wctx, msg); err != nil {
		h.log.Warn("hub: reply", "client", c.id, "err", err)
		h.remove(c, websocket.StatusInternalError, "send failed")
	}
}

// Broadcast sends msg to every connected client concurrently and waits for
// all sends to finish. It returns the number of send attempts. Clients whose
// send fails are removed; the others are unaffected.
func (h *Hub) Broadcast(ctx context.Context, msg Message) int {
	targets := h.snapshot()
	if len(targets) == 0 {
		return 0
	}
	h.metrics.Broadcasts.Add(ctx, 1, metric.WithAttributes(observe.Attr("type", msg.Type)))

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Go(func() {
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			defer cancel()
			if err := c.send(wctx, msg); err != nil {
				h.metrics.BroadcastFailures.Add(ctx, 1)
				h.log.Warn("hub: broadcast", "client", c.id, "type", msg.Type, "err", err)
				h.remove(c, websocket.StatusInternalError, "send failed")
			}
		})
	}
	wg.Wait()
	return len(targets)
}

// Publish broadcasts a pipeline event. It implements the supervisor's sink.
func (h *Hub) Publish(ctx context.Context, ev ipc.Event) {
	msg, ok := FromEvent(ev)
	if !ok {
		h.log.Debug("hub: dropping event", "type", ev.Type)
		return
	}
	h.Broadcast(ctx, msg)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Close disconnects every client and waits for their handlers to return or
// for ctx to end. New connections are refused afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		h.remove(c, websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
