package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aurafall/syncengine/pkg/syncengine/backoff"
	"github.com/aurafall/syncengine/pkg/syncengine/engine"
)

// wsMessage is the wire shape the server pushes over the websocket.
type wsMessage struct {
	Type string `json:"type"`
}

// WSClient is the websocket alternative to RedisSubscriber for
// deployments without a shared redis instance (spec §6, transport is
// unspecified — either is valid). It reconnects with the engine's own
// backoff policy and also satisfies engine.Connectivity: a successful
// (re)connect is treated as connectivity being restored.
type WSClient struct {
	url      string
	headers  http.Header
	logger   *slog.Logger
	restored chan struct{}
}

// NewWSClient creates a client for the given websocket URL (ws:// or
// wss://). headers may be nil.
func NewWSClient(url string, headers http.Header, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		url:      url,
		headers:  headers,
		logger:   logger,
		restored: make(chan struct{}, 1),
	}
}

// Restored implements engine.Connectivity.
func (c *WSClient) Restored() <-chan struct{} {
	return c.restored
}

// Listen connects and reconnects for as long as ctx is live, forwarding
// decoded messages to the returned channel. The channel is closed when
// ctx is cancelled.
func (c *WSClient) Listen(ctx context.Context) <-chan engine.RealtimeEvent {
	out := make(chan engine.RealtimeEvent, 16)
	cfg := backoff.DefaultConfig()

	go func() {
		defer close(out)
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.headers)
			if err != nil {
				attempt++
				c.logger.Warn("realtime: websocket dial failed", "error", err, "attempt", attempt)
				wait := cfg.Delay(attempt, nil)
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return
				}
			}
			attempt = 0
			c.signalRestored()
			c.readLoop(ctx, conn, out)
			conn.Close()
		}
	}()

	return out
}

func (c *WSClient) signalRestored() {
	select {
	case c.restored <- struct{}{}:
	default:
	}
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- engine.RealtimeEvent) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("realtime: websocket read failed", "error", err)
			}
			return
		}

		var m wsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			c.logger.Warn("realtime: discarding malformed message", "error", err)
			continue
		}

		select {
		case out <- engine.RealtimeEvent{Type: m.Type}:
		case <-ctx.Done():
			return
		}
	}
}
