package messaging

import (
	"context"
	"fmt"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"example.com/treniren/internal/swcache"
)

// Conn is the client end of the message channel.
type Conn struct {
	ws *websocket.Conn
}

// Dial connects to the message channel of the proxy at baseURL (http or ws scheme).
func Dial(ctx context.Context, baseURL string) (*Conn, error) {
	target := strings.TrimRight(baseURL, "/") + Path
	switch {
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	}

	ws, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Conn{ws: ws}, nil
}

// Send posts msg to the worker.
func (c *Conn) Send(ctx context.Context, msg swcache.Message) error {
	return wsjson.Write(ctx, c.ws, msg)
}

// Receive blocks for the next message from the worker.
func (c *Conn) Receive(ctx context.Context) (swcache.Message, error) {
	var msg swcache.Message
	err := wsjson.Read(ctx, c.ws, &msg)
	return msg, err
}

// Request sends msg and waits for the first reply of type want, skipping broadcasts.
func (c *Conn) Request(ctx context.Context, msg swcache.Message, want string) (swcache.Message, error) {
	if err := c.Send(ctx, msg); err != nil {
		return swcache.Message{}, err
	}
	for {
		reply, err := c.Receive(ctx)
		if err != nil {
			return swcache.Message{}, err
		}
		if reply.Type == want {
			return reply, nil
		}
	}
}

// Close ends the connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
