// Package messaging carries worker/client messages over websockets.
package messaging

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"example.com/treniren/internal/logging"
	"example.com/treniren/internal/swcache"
)

// Path is where the proxy exposes the message channel.
const Path = "/__sw/messages"

// MsgControllerChange tells clients that a new worker controls them.
const MsgControllerChange = "CONTROLLER_CHANGE"

// Handler answers client messages.
type Handler interface {
	HandleMessage(ctx context.Context, msg swcache.Message) (*swcache.Message, error)
}

// Option configures optional behaviour for the Hub.
type Option func(*Hub)

// WithLogger overrides the hub logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// Hub tracks connected clients. It implements swcache.Clients.
type Hub struct {
	logger *log.Logger

	mu      sync.RWMutex
	handler Handler
	conns   map[*websocket.Conn]struct{}
	claimed bool
}

// NewHub constructs an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger: logging.New(logging.Options{Prefix: "messaging"}),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetHandler installs the handler for incoming messages.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Claimed reports whether the worker has claimed its clients.
func (h *Hub) Claimed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.claimed
}

// ServeHTTP upgrades the request and serves messages until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	claimed := h.claimed
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
	}()

	ctx := r.Context()
	if claimed {
		if err := wsjson.Write(ctx, conn, swcache.Message{Type: MsgControllerChange}); err != nil {
			return
		}
	}

	for {
		var msg swcache.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				h.logger.Debug("client read ended", "err", err)
			}
			return
		}

		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler == nil {
			continue
		}

		reply, err := handler.HandleMessage(ctx, msg)
		if err != nil {
			h.logger.Warn("handle message failed", "type", msg.Type, "err", err)
			continue
		}
		if reply != nil {
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				h.logger.Debug("reply failed", "err", err)
				return
			}
		}
	}
}

// Claim takes control of every connected client and of clients connecting later.
func (h *Hub) Claim(ctx context.Context) error {
	h.mu.Lock()
	h.claimed = true
	h.mu.Unlock()
	return h.PostAll(ctx, swcache.Message{Type: MsgControllerChange})
}

// PostAll sends msg to every connected client.
func (h *Hub) PostAll(ctx context.Context, msg swcache.Message) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range conns {
		if err := wsjson.Write(ctx, c, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
