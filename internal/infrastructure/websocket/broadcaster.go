package websocket

import (
	"auction-settlement/internal/domain"
)

// SettlementBroadcaster bridges settlement events (from the Redis channel)
// to websocket subscribers. Terminal events also close the auction's feed,
// since nothing further will ever be published for it.
type SettlementBroadcaster struct {
	connManager domain.ConnectionManager
}

func NewSettlementBroadcaster(connManager domain.ConnectionManager) *SettlementBroadcaster {
	return &SettlementBroadcaster{connManager: connManager}
}

func (b *SettlementBroadcaster) HandleEvent(event *domain.SettlementEvent) error {
	if err := b.connManager.Broadcast(event.AuctionID, event); err != nil {
		return err
	}

	return b.connManager.CloseAuction(event.AuctionID)
}
