package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"auction-settlement/internal/domain"
	"auction-settlement/internal/services"
	"auction-settlement/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SettlementHandler is the ops surface: trigger a run, inspect an auction's
// settlement result, requeue a failed/errored auction for reprocessing.
type SettlementHandler struct {
	settler     *services.Settler
	auctionRepo domain.AuctionRepository
	log         logger.Logger
}

type AuctionResponse struct {
	AuctionID   string    `json:"auction_id"`
	Title       string    `json:"title"`
	StartPrice  int64     `json:"start_price"`
	EndAt       time.Time `json:"end_at"`
	Status      string    `json:"status"`
	WinnerID    string    `json:"winner_id,omitempty"`
	WinnerEmail string    `json:"winner_email,omitempty"`
	FinalPrice  int64     `json:"final_price,omitempty"`
}

func NewSettlementHandler(settler *services.Settler, auctionRepo domain.AuctionRepository, log logger.Logger) *SettlementHandler {
	return &SettlementHandler{
		settler:     settler,
		auctionRepo: auctionRepo,
		log:         log,
	}
}

// RunNow kicks off a settlement pass outside the schedule. The run happens in
// the background; the scheduler's next tick is unaffected.
func (h *SettlementHandler) RunNow(c echo.Context) error {
	h.log.Info("Manual settlement run requested", "remote_addr", c.RealIP())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := h.settler.Run(ctx); err != nil {
			h.log.Error("Manual settlement run failed", "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "run started"})
}

func (h *SettlementHandler) GetAuction(c echo.Context) error {
	auctionID := c.Param("id")

	auction, err := h.auctionRepo.GetAuction(c.Request().Context(), auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Auction not found"})
	}
	if err != nil {
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load auction"})
	}

	return c.JSON(http.StatusOK, AuctionResponse{
		AuctionID:   auction.ID,
		Title:       auction.Title,
		StartPrice:  auction.StartPrice,
		EndAt:       auction.EndAt,
		Status:      string(auction.Status),
		WinnerID:    auction.WinnerID,
		WinnerEmail: auction.WinnerEmail,
		FinalPrice:  auction.FinalPrice,
	})
}

// Requeue resets a failed or errored auction back to active so the next run
// picks it up again. Completed and ended auctions are left alone.
func (h *SettlementHandler) Requeue(c echo.Context) error {
	auctionID := c.Param("id")
	h.log.Info("Requeue requested", "auction_id", auctionID, "remote_addr", c.RealIP())

	err := h.auctionRepo.Requeue(c.Request().Context(), auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Auction is not in a requeueable state"})
	}
	if err != nil {
		h.log.Error("Failed to requeue auction", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to requeue auction"})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"auction_id": auctionID,
		"status":     string(domain.AuctionActive),
	})
}
