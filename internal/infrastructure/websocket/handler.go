package websocket

import (
	"net/http"
	"sync"

	"auction-settlement/internal/domain"
	"auction-settlement/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// FeedHandler upgrades clients to a websocket and streams the auction's
// settlement outcome to them.
type FeedHandler struct {
	auctionRepo domain.AuctionRepository
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewFeedHandler(auctionRepo domain.AuctionRepository, connManager domain.ConnectionManager, log logger.Logger) *FeedHandler {
	return &FeedHandler{
		auctionRepo: auctionRepo,
		connManager: connManager,
		log:         log,
	}
}

func (h *FeedHandler) HandleConnection(c echo.Context) error {
	auctionID := c.Param("id")

	auction, err := h.auctionRepo.GetAuction(c.Request().Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to find auction", "error", err, "auction_id", auctionID)
		return echo.NewHTTPError(http.StatusNotFound, "auction not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return nil
	}

	feedConn := NewFeedConnection(conn)

	// Already settled: deliver the persisted outcome immediately.
	if auction.Status.Terminal() {
		feedConn.Send(settledMessage(auction))
		return feedConn.Close()
	}

	h.connManager.Subscribe(auctionID, feedConn)
	go h.readLoop(feedConn, auctionID)

	return nil
}

// readLoop drains client frames so pings and closes are noticed; the feed
// itself is write-only.
func (h *FeedHandler) readLoop(conn *FeedConnection, auctionID string) {
	defer func() {
		h.connManager.Unsubscribe(auctionID, conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func settledMessage(auction *domain.Auction) *domain.SettlementEvent {
	event := &domain.SettlementEvent{
		AuctionID: auction.ID,
		Timestamp: auction.UpdatedAt,
	}

	switch auction.Status {
	case domain.AuctionCompleted:
		event.Type = domain.AuctionCompletedEvent
		event.WinnerID = auction.WinnerID
		event.WinnerEmail = auction.WinnerEmail
		event.FinalPrice = auction.FinalPrice
	case domain.AuctionEnded:
		event.Type = domain.AuctionEndedEvent
	case domain.AuctionFailed:
		event.Type = domain.AuctionFailedEvent
	default:
		event.Type = domain.AuctionErrorEvent
	}

	return event
}

type FeedConnection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewFeedConnection(conn *websocket.Conn) *FeedConnection {
	return &FeedConnection{conn: conn}
}

func (fc *FeedConnection) Send(message interface{}) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.conn.WriteJSON(message)
}

func (fc *FeedConnection) Close() error {
	return fc.conn.Close()
}
