package redis

import (
	"auction-settlement/internal/domain"
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

const settlementChannel = "settlement_events"

type EventPublisherImpl struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisherImpl {
	return &EventPublisherImpl{client: client}
}

func (r *EventPublisherImpl) PublishSettlementEvent(ctx context.Context, event *domain.SettlementEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, settlementChannel, string(data)).Err()
}
