package domain

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound marks a bid whose user record is missing from the store.
// Settlement treats it as a data-integrity skip, not a payment failure.
var ErrUserNotFound = errors.New("user not found")

// Repository interfaces
type AuctionRepository interface {
	// FindEndedActive returns auctions with end_at <= now and status 'active'.
	// This filter is load-bearing: it is what keeps overlapping runs from
	// settling the same auction twice.
	FindEndedActive(ctx context.Context, now time.Time) ([]*Auction, error)
	// FindErroredRetryable returns 'error' auctions below the attempt cap.
	// Only consulted when the errored-retry flag is on.
	FindErroredRetryable(ctx context.Context, now time.Time, maxAttempts int) ([]*Auction, error)
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	UpdateStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	RecordWinner(ctx context.Context, auctionID, winnerID, winnerEmail string, finalPrice int64) error
	IncrementSettleAttempts(ctx context.Context, auctionID string) error
	// Requeue resets a 'failed' or 'error' auction back to 'active' so the
	// next run picks it up. Manual ops path, never called by the job itself.
	Requeue(ctx context.Context, auctionID string) error
}

type BidRepository interface {
	// ListByAuctionRanked orders by amount descending with a deterministic
	// tie-break: earliest created_at first, then id.
	ListByAuctionRanked(ctx context.Context, auctionID string) ([]*Bid, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*User, error)
}

// PaymentGateway charges a stored payment method. merchantUID must be fresh
// per logical attempt; the same key is never reused expecting a different
// outcome.
type PaymentGateway interface {
	Charge(ctx context.Context, customerUID, merchantUID string, amount int64, name string) (*ChargeResult, error)
}

// Event interfaces
type EventPublisher interface {
	PublishSettlementEvent(ctx context.Context, event *SettlementEvent) error
}

type EventSubscriber interface {
	SubscribeToSettlementEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *SettlementEvent) error

// SettlementLock is a per-auction lease preventing two overlapping runs from
// working the same auction at once. The status filter remains the primary
// guard; the lease closes the window before the status write lands.
type SettlementLock interface {
	Acquire(ctx context.Context, auctionID string) (bool, error)
	Release(ctx context.Context, auctionID string) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// Scheduler interface
type SettlementScheduler interface {
	Start(ctx context.Context) error
	Stop() error
}

// Live feed interfaces
type FeedConnection interface {
	Send(message interface{}) error
	Close() error
}

type ConnectionManager interface {
	Subscribe(auctionID string, conn FeedConnection)
	Unsubscribe(auctionID string, conn FeedConnection)
	Broadcast(auctionID string, message interface{}) error
	CloseAuction(auctionID string) error
}
