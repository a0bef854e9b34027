// README: Redis Pub/Sub transport for the change-event feed, one channel per actor.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"diomy/internal/types"
)

const channelPrefix = "feed:actor:"

func Channel(actorID types.ID) string {
	return channelPrefix + string(actorID)
}

type RedisFeed struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisFeed(rdb *redis.Client, log *slog.Logger) *RedisFeed {
	return &RedisFeed{rdb: rdb, log: log}
}

func (f *RedisFeed) Publish(ctx context.Context, recipient types.ID, ev ChangeEvent) error {
	if recipient == "" {
		return nil
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed: encode event: %w", err)
	}
	if err := f.rdb.Publish(ctx, Channel(recipient), raw).Err(); err != nil {
		return fmt.Errorf("feed: publish: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, actorID types.ID) (<-chan ChangeEvent, func(), error) {
	sub := f.rdb.Subscribe(ctx, Channel(actorID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("feed: subscribe: %w", err)
	}

	out := make(chan ChangeEvent, 32)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.log.Warn("feed: drop malformed event", "channel", msg.Channel, "err", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
