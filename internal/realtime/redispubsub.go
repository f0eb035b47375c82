// Package realtime implements the sync engine's optional real-time wake
// channel (spec §6: "sync_required / entity_updated / conflict_resolved
// wake the loop"). The redis implementation subscribes to a single
// channel and forwards published messages as engine.RealtimeEvent,
// grounded on the teacher's pkg/escalation/engine.go, which subscribes
// to a redis pub/sub channel for the same out-of-band-wakeup purpose.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aurafall/syncengine/pkg/syncengine/engine"
)

// RedisChannel is the pub/sub channel name the sync engine listens on.
const RedisChannel = "syncengine:realtime"

// redisMessage is the wire shape published to RedisChannel.
type redisMessage struct {
	Type string `json:"type"`
}

// RedisSubscriber adapts a redis pub/sub subscription into an
// engine.RealtimeEvent channel.
type RedisSubscriber struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisSubscriber wraps an existing redis client.
func NewRedisSubscriber(client *redis.Client, logger *slog.Logger) *RedisSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSubscriber{client: client, logger: logger}
}

// Listen subscribes to RedisChannel and returns a channel of decoded
// events. The returned channel is closed when ctx is cancelled.
func (r *RedisSubscriber) Listen(ctx context.Context) <-chan engine.RealtimeEvent {
	out := make(chan engine.RealtimeEvent, 16)
	sub := r.client.Subscribe(ctx, RedisChannel)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m redisMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					r.logger.Warn("realtime: discarding malformed message", "error", err)
					continue
				}
				select {
				case out <- engine.RealtimeEvent{Type: m.Type}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Publish broadcasts a wake event to every subscribed runner. Used by
// whatever process detects the underlying change (a webhook handler, a
// batch job) — the sync engine itself only ever subscribes.
func Publish(ctx context.Context, client *redis.Client, eventType string) error {
	data, err := json.Marshal(redisMessage{Type: eventType})
	if err != nil {
		return err
	}
	return client.Publish(ctx, RedisChannel, data).Err()
}
