package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/richjun-project/vibescan/internal/scan"
)

// Bridge pipes lifecycle events published to redis by workers into
// this process's hub. One goroutine per API instance; redis pub/sub
// preserves per-channel publish order, so per-scan ordering survives
// the hop.
type Bridge struct {
	rdb    *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewBridge(rdb *redis.Client, hub *Hub, logger *slog.Logger) *Bridge {
	return &Bridge{rdb: rdb, hub: hub, logger: logger}
}

// Run blocks until ctx is canceled, forwarding events as they arrive.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, scan.EventChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("realtime bridge subscribed", "channel", scan.EventChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event scan.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping malformed scan event", "error", err)
				continue
			}
			b.hub.Broadcast(event)
		}
	}
}
