package websocket

import (
	"auction-settlement/internal/domain"
	"sync"

	"auction-settlement/pkg/logger"
)

// ConnectionManager tracks clients watching an auction for its settlement
// outcome. Subscriptions are per-auction; a settled auction's connections are
// closed once the terminal event has been delivered.
type ConnectionManager struct {
	subscribers map[string][]domain.FeedConnection // auctionID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		subscribers: make(map[string][]domain.FeedConnection),
		log:         log,
	}
}

func (cm *ConnectionManager) Subscribe(auctionID string, conn domain.FeedConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.subscribers[auctionID] = append(cm.subscribers[auctionID], conn)
	cm.log.Info("Feed subscriber added", "auction_id", auctionID)
}

func (cm *ConnectionManager) Unsubscribe(auctionID string, conn domain.FeedConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	conns := cm.subscribers[auctionID]
	var remaining []domain.FeedConnection
	for _, existing := range conns {
		if existing != conn {
			remaining = append(remaining, existing)
		}
	}

	if len(remaining) == 0 {
		delete(cm.subscribers, auctionID)
	} else {
		cm.subscribers[auctionID] = remaining
	}
}

func (cm *ConnectionManager) Broadcast(auctionID string, message interface{}) error {
	cm.mutex.RLock()
	conns := make([]domain.FeedConnection, len(cm.subscribers[auctionID]))
	copy(conns, cm.subscribers[auctionID])
	cm.mutex.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send feed message", "auction_id", auctionID, "error", err)
			// Continue to other connections
		}
	}

	return nil
}

func (cm *ConnectionManager) CloseAuction(auctionID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for _, conn := range cm.subscribers[auctionID] {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close feed connection", "auction_id", auctionID, "error", err)
		}
	}
	delete(cm.subscribers, auctionID)

	return nil
}
