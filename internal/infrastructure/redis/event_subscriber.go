package redis

import (
	"context"
	"encoding/json"

	"auction-settlement/internal/domain"
	"auction-settlement/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type RedisEventSubscriber struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisEventSubscriber(client *redis.Client, log logger.Logger) *RedisEventSubscriber {
	return &RedisEventSubscriber{
		client: client,
		log:    log,
	}
}

// SubscribeToSettlementEvents blocks until ctx is cancelled, feeding every
// published settlement event to handler. Malformed payloads and handler
// errors are logged and skipped.
func (r *RedisEventSubscriber) SubscribeToSettlementEvents(ctx context.Context, handler domain.EventHandler) error {
	pubsub := r.client.Subscribe(ctx, settlementChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	r.log.Info("Subscribed to settlement events")

	for {
		select {
		case msg := <-ch:
			var event domain.SettlementEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.Error("Failed to parse settlement event", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(&event); err != nil {
				r.log.Error("Failed to handle settlement event", "auction_id", event.AuctionID, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Settlement event subscriber stopped")
			return ctx.Err()
		}
	}
}
