package services

import (
	"auction-settlement/internal/domain"
	"auction-settlement/pkg/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Settler finalizes every auction whose end time has passed while its status
// is still active. Each run is independent; all state lives in the store.
type Settler struct {
	auctionRepo    domain.AuctionRepository
	bidRepo        domain.BidRepository
	userRepo       domain.UserRepository
	gateway        domain.PaymentGateway
	eventPub       domain.EventPublisher
	lock           domain.SettlementLock
	leaderElection domain.LeaderElection
	instanceID     string
	retryErrored   bool
	maxAttempts    int
	log            logger.Logger
	now            func() time.Time
}

func NewSettler(
	auctionRepo domain.AuctionRepository,
	bidRepo domain.BidRepository,
	userRepo domain.UserRepository,
	gateway domain.PaymentGateway,
	eventPub domain.EventPublisher,
	lock domain.SettlementLock,
	leaderElection domain.LeaderElection,
	instanceID string,
	retryErrored bool,
	maxAttempts int,
	log logger.Logger,
) *Settler {
	return &Settler{
		auctionRepo:    auctionRepo,
		bidRepo:        bidRepo,
		userRepo:       userRepo,
		gateway:        gateway,
		eventPub:       eventPub,
		lock:           lock,
		leaderElection: leaderElection,
		instanceID:     instanceID,
		retryErrored:   retryErrored,
		maxAttempts:    maxAttempts,
		log:            log,
		now:            time.Now,
	}
}

// Run performs one settlement pass. Candidates are settled concurrently and
// the run joins on all of them; a failure inside one auction never aborts
// the others. Only the candidate query itself can fail the run, and the next
// tick retries the whole selection.
func (s *Settler) Run(ctx context.Context) error {
	if s.leaderElection != nil {
		isLeader, err := s.leaderElection.IsLeader(ctx, s.instanceID)
		if err != nil {
			return err
		}
		if !isLeader {
			s.log.Debug("Skipping settlement run, not the leader", "instance_id", s.instanceID)
			return nil
		}
	}

	now := s.now()

	auctions, err := s.auctionRepo.FindEndedActive(ctx, now)
	if err != nil {
		return fmt.Errorf("find ended auctions: %w", err)
	}

	if s.retryErrored {
		errored, err := s.auctionRepo.FindErroredRetryable(ctx, now, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("find errored auctions: %w", err)
		}
		auctions = append(auctions, errored...)
	}

	if len(auctions) == 0 {
		s.log.Debug("No ended auctions to settle")
		return nil
	}

	s.log.Info("Settling ended auctions", "count", len(auctions))

	var wg sync.WaitGroup
	for _, auction := range auctions {
		wg.Add(1)
		go func(auction *domain.Auction) {
			defer wg.Done()
			s.settleOne(ctx, auction)
		}(auction)
	}
	wg.Wait()

	return nil
}

// settleOne is an isolated unit of work: any panic or unexpected error is
// converted into an 'error' status write on this auction alone.
func (s *Settler) settleOne(ctx context.Context, auction *domain.Auction) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Panic during settlement", "auction_id", auction.ID, "panic", r)
			s.markError(ctx, auction)
		}
	}()

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, auction.ID)
		if err != nil {
			s.log.Error("Failed to acquire settlement lock", "auction_id", auction.ID, "error", err)
			return
		}
		if !acquired {
			s.log.Info("Auction locked by another run, skipping", "auction_id", auction.ID)
			return
		}
		defer s.lock.Release(ctx, auction.ID)
	}

	if auction.Status == domain.AuctionError {
		if err := s.auctionRepo.IncrementSettleAttempts(ctx, auction.ID); err != nil {
			s.log.Error("Failed to bump settle attempts", "auction_id", auction.ID, "error", err)
			return
		}
	}

	bids, err := s.bidRepo.ListByAuctionRanked(ctx, auction.ID)
	if err != nil {
		s.log.Error("Failed to load bids", "auction_id", auction.ID, "error", err)
		s.markError(ctx, auction)
		return
	}

	if len(bids) == 0 {
		s.log.Info("No bids, closing auction", "auction_id", auction.ID)
		if err := s.auctionRepo.UpdateStatus(ctx, auction.ID, domain.AuctionEnded); err != nil {
			s.log.Error("Failed to close auction", "auction_id", auction.ID, "error", err)
			s.markError(ctx, auction)
			return
		}
		s.publish(ctx, domain.AuctionEndedEvent, auction.ID, nil, 0)
		return
	}

	// Try bidders highest first; the first successful charge wins.
	for _, bid := range bids {
		user, err := s.userRepo.GetUser(ctx, bid.BidderID)
		if err == domain.ErrUserNotFound {
			// Data-integrity skip: the bid points at nobody we can charge.
			s.log.Warn("Bidder has no user record, skipping bid",
				"auction_id", auction.ID, "bidder_id", bid.BidderID, "amount", bid.Amount)
			continue
		}
		if err != nil {
			s.log.Error("Failed to load bidder", "auction_id", auction.ID, "bidder_id", bid.BidderID, "error", err)
			s.markError(ctx, auction)
			return
		}

		// Fresh merchant reference per attempt. A retried auction re-trying
		// the same bidder is a new, distinct charge attempt.
		merchantUID := fmt.Sprintf("buy_%s_%s", auction.ID, uuid.NewString())

		s.log.Info("Attempting charge",
			"auction_id", auction.ID, "bidder_id", bid.BidderID,
			"bidder_email", user.Email, "amount", bid.Amount, "merchant_uid", merchantUID)

		result, err := s.gateway.Charge(ctx, user.UID, merchantUID, bid.Amount, auction.Title)
		if err != nil {
			s.log.Error("Gateway call failed", "auction_id", auction.ID, "bidder_id", bid.BidderID, "error", err)
			s.markError(ctx, auction)
			return
		}

		if result.Paid {
			s.log.Info("Charge succeeded, auction completed",
				"auction_id", auction.ID, "winner_id", user.UID, "final_price", bid.Amount)

			if err := s.auctionRepo.RecordWinner(ctx, auction.ID, user.UID, user.Email, bid.Amount); err != nil {
				// The charge has landed; the status write must be retried by
				// an operator. Loud log, then error status so it surfaces.
				s.log.Error("Charge succeeded but winner write failed",
					"auction_id", auction.ID, "winner_id", user.UID, "merchant_uid", merchantUID, "error", err)
				s.markError(ctx, auction)
				return
			}

			s.publish(ctx, domain.AuctionCompletedEvent, auction.ID, user, bid.Amount)
			return
		}

		// Audit trail for the fallthrough to the next-highest bidder.
		s.log.Warn("Charge failed, trying next bidder",
			"auction_id", auction.ID, "bidder_id", bid.BidderID,
			"amount", bid.Amount, "reason", result.Reason)
	}

	s.log.Info("All charge attempts exhausted", "auction_id", auction.ID)
	if err := s.auctionRepo.UpdateStatus(ctx, auction.ID, domain.AuctionFailed); err != nil {
		s.log.Error("Failed to mark auction failed", "auction_id", auction.ID, "error", err)
		s.markError(ctx, auction)
		return
	}
	s.publish(ctx, domain.AuctionFailedEvent, auction.ID, nil, 0)
}

func (s *Settler) markError(ctx context.Context, auction *domain.Auction) {
	if err := s.auctionRepo.UpdateStatus(ctx, auction.ID, domain.AuctionError); err != nil {
		s.log.Error("Failed to mark auction errored", "auction_id", auction.ID, "error", err)
		return
	}
	s.publish(ctx, domain.AuctionErrorEvent, auction.ID, nil, 0)
}

func (s *Settler) publish(ctx context.Context, eventType domain.SettlementEventType, auctionID string, winner *domain.User, finalPrice int64) {
	if s.eventPub == nil {
		return
	}

	event := &domain.SettlementEvent{
		Type:      eventType,
		AuctionID: auctionID,
		Timestamp: s.now(),
	}
	if winner != nil {
		event.WinnerID = winner.UID
		event.WinnerEmail = winner.Email
		event.FinalPrice = finalPrice
	}

	if err := s.eventPub.PublishSettlementEvent(ctx, event); err != nil {
		s.log.Error("Failed to publish settlement event", "auction_id", auctionID, "error", err)
	}
}
