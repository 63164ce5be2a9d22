package domain

import (
	"time"
)

// Auction is one sellable item. The settlement job is the exclusive mutator
// of Status and the winner fields once the auction exists.
type Auction struct {
	ID             string
	SellerID       string
	SellerEmail    string
	Title          string
	Description    string
	StartPrice     int64 // smallest currency unit
	ImageURL       string
	EndAt          time.Time
	Status         AuctionStatus
	WinnerID       string
	WinnerEmail    string
	FinalPrice     int64
	SettleAttempts int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"     // closed with no bids
	AuctionCompleted AuctionStatus = "completed" // a bidder was charged successfully
	AuctionFailed    AuctionStatus = "failed"    // every charge attempt failed
	AuctionError     AuctionStatus = "error"     // settlement hit an unexpected error
)

// Terminal reports whether the settlement job considers the status final.
// Transitions are one-directional: once non-active, an auction is never
// picked up by the candidate query again.
func (s AuctionStatus) Terminal() bool {
	return s != AuctionActive
}

// Bid is a child record of an auction. Amount validation (strictly above the
// current highest bid or the start price) happens in the bidding flow, not
// here; settlement only consumes the ranked list.
type Bid struct {
	ID          string
	AuctionID   string
	BidderID    string
	BidderEmail string
	Amount      int64
	CreatedAt   time.Time
}

// User carries the stored payment-method reference (UID doubles as the
// gateway's customer_uid) plus contact fields used as payment metadata.
type User struct {
	UID   string
	Email string
	Name  string
	Phone string
}

// ChargeResult is the structured outcome of a gateway charge attempt.
// A declined card, a gateway timeout and an unreachable gateway all surface
// here as Paid=false; an error return is reserved for caller misuse.
type ChargeResult struct {
	Paid   bool
	Reason string
}

type SettlementEvent struct {
	Type        SettlementEventType `json:"type"`
	AuctionID   string              `json:"auction_id"`
	WinnerID    string              `json:"winner_id,omitempty"`
	WinnerEmail string              `json:"winner_email,omitempty"`
	FinalPrice  int64               `json:"final_price,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

type SettlementEventType string

const (
	AuctionCompletedEvent SettlementEventType = "auction_completed"
	AuctionEndedEvent     SettlementEventType = "auction_ended"
	AuctionFailedEvent    SettlementEventType = "auction_failed"
	AuctionErrorEvent     SettlementEventType = "auction_error"
)
