package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"auction-settlement/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Fatal(string, ...interface{}) {}

type fakeAuctionRepo struct {
	mu       sync.Mutex
	auctions map[string]*domain.Auction
}

func newFakeAuctionRepo(auctions ...*domain.Auction) *fakeAuctionRepo {
	repo := &fakeAuctionRepo{auctions: make(map[string]*domain.Auction)}
	for _, a := range auctions {
		repo.auctions[a.ID] = a
	}
	return repo
}

func (r *fakeAuctionRepo) FindEndedActive(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*domain.Auction
	for _, a := range r.auctions {
		if a.Status == domain.AuctionActive && !a.EndAt.After(now) {
			copied := *a
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakeAuctionRepo) FindErroredRetryable(ctx context.Context, now time.Time, maxAttempts int) ([]*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*domain.Auction
	for _, a := range r.auctions {
		if a.Status == domain.AuctionError && a.SettleAttempts < maxAttempts && !a.EndAt.After(now) {
			copied := *a
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakeAuctionRepo) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return nil, errors.New("auction not found")
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAuctionRepo) UpdateStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.auctions[auctionID]
	if a.Status != domain.AuctionActive && a.Status != domain.AuctionError {
		return nil
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return nil
}

func (r *fakeAuctionRepo) RecordWinner(ctx context.Context, auctionID, winnerID, winnerEmail string, finalPrice int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.auctions[auctionID]
	if a.Status != domain.AuctionActive && a.Status != domain.AuctionError {
		return nil
	}
	a.Status = domain.AuctionCompleted
	a.WinnerID = winnerID
	a.WinnerEmail = winnerEmail
	a.FinalPrice = finalPrice
	return nil
}

func (r *fakeAuctionRepo) IncrementSettleAttempts(ctx context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.auctions[auctionID].SettleAttempts++
	return nil
}

func (r *fakeAuctionRepo) Requeue(ctx context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.auctions[auctionID]
	a.Status = domain.AuctionActive
	a.WinnerID = ""
	a.WinnerEmail = ""
	a.FinalPrice = 0
	return nil
}

func (r *fakeAuctionRepo) get(id string) domain.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.auctions[id]
}

type fakeBidRepo struct {
	bids map[string][]*domain.Bid // pre-ranked per auction
	err  map[string]error
}

func (r *fakeBidRepo) ListByAuctionRanked(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	if err := r.err[auctionID]; err != nil {
		return nil, err
	}
	return r.bids[auctionID], nil
}

type fakeUserRepo struct {
	users map[string]*domain.User
}

func (r *fakeUserRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

type chargeCall struct {
	customerUID string
	merchantUID string
	amount      int64
}

type fakeGateway struct {
	mu      sync.Mutex
	results map[string]*domain.ChargeResult // keyed by customer uid
	err     error
	calls   []chargeCall
}

func (g *fakeGateway) Charge(ctx context.Context, customerUID, merchantUID string, amount int64, name string) (*domain.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, chargeCall{customerUID: customerUID, merchantUID: merchantUID, amount: amount})

	if g.err != nil {
		return nil, g.err
	}
	if result, ok := g.results[customerUID]; ok {
		return result, nil
	}
	return &domain.ChargeResult{Paid: false, Reason: "card declined"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*domain.SettlementEvent
}

func (p *fakePublisher) PublishSettlementEvent(ctx context.Context, event *domain.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeLock struct {
	mu     sync.Mutex
	denied map[string]bool
	held   []string
}

func (l *fakeLock) Acquire(ctx context.Context, auctionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denied[auctionID] {
		return false, nil
	}
	l.held = append(l.held, auctionID)
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context, auctionID string) error {
	return nil
}

type fakeLeader struct {
	leader bool
}

func (l *fakeLeader) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return l.leader, nil
}

func (l *fakeLeader) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	return l.leader, nil
}

func (l *fakeLeader) ReleaseLeadership(ctx context.Context, instanceID string) error {
	return nil
}

func endedAuction(id string) *domain.Auction {
	return &domain.Auction{
		ID:         id,
		SellerID:   "seller-1",
		Title:      "vintage camera",
		StartPrice: 100,
		EndAt:      time.Now().Add(-time.Minute),
		Status:     domain.AuctionActive,
	}
}

func bid(auctionID, bidderID string, amount int64) *domain.Bid {
	return &domain.Bid{
		ID:        bidderID + "-bid",
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: time.Now().Add(-time.Hour),
	}
}

type settlerFixture struct {
	auctionRepo *fakeAuctionRepo
	bidRepo     *fakeBidRepo
	userRepo    *fakeUserRepo
	gateway     *fakeGateway
	publisher   *fakePublisher
	settler     *Settler
}

func newFixture(auctions []*domain.Auction, bids map[string][]*domain.Bid, users map[string]*domain.User) *settlerFixture {
	f := &settlerFixture{
		auctionRepo: newFakeAuctionRepo(auctions...),
		bidRepo:     &fakeBidRepo{bids: bids, err: make(map[string]error)},
		userRepo:    &fakeUserRepo{users: users},
		gateway:     &fakeGateway{results: make(map[string]*domain.ChargeResult)},
		publisher:   &fakePublisher{},
	}
	f.settler = NewSettler(f.auctionRepo, f.bidRepo, f.userRepo, f.gateway,
		f.publisher, nil, nil, "test-instance", false, 3, nopLogger{})
	return f
}

func TestRunNoCandidates(t *testing.T) {
	future := endedAuction("a1")
	future.EndAt = time.Now().Add(time.Hour)

	f := newFixture([]*domain.Auction{future}, nil, nil)

	require.NoError(t, f.settler.Run(context.Background()))

	assert.Equal(t, domain.AuctionActive, f.auctionRepo.get("a1").Status)
	assert.Zero(t, f.gateway.callCount())
}

func TestNoBidsAuctionEnded(t *testing.T) {
	f := newFixture([]*domain.Auction{endedAuction("a1")}, nil, nil)

	require.NoError(t, f.settler.Run(context.Background()))

	settled := f.auctionRepo.get("a1")
	assert.Equal(t, domain.AuctionEnded, settled.Status)
	assert.Empty(t, settled.WinnerID)
	assert.Zero(t, settled.FinalPrice)
	assert.Zero(t, f.gateway.callCount())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, domain.AuctionEndedEvent, f.publisher.events[0].Type)
}

func TestTopBidderWins(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500), bid("a1", "user2", 300)}},
		map[string]*domain.User{
			"user1": {UID: "user1", Email: "one@example.com"},
			"user2": {UID: "user2", Email: "two@example.com"},
		},
	)
	f.gateway.results["user1"] = &domain.ChargeResult{Paid: true}

	require.NoError(t, f.settler.Run(context.Background()))

	settled := f.auctionRepo.get("a1")
	assert.Equal(t, domain.AuctionCompleted, settled.Status)
	assert.Equal(t, "user1", settled.WinnerID)
	assert.Equal(t, "one@example.com", settled.WinnerEmail)
	assert.Equal(t, int64(500), settled.FinalPrice)

	// Charge stops at the first success: user2 is never attempted.
	require.Equal(t, 1, f.gateway.callCount())
	assert.Equal(t, "user1", f.gateway.calls[0].customerUID)
}

func TestSecondBidderWinsAfterTopDeclined(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500), bid("a1", "user2", 300)}},
		map[string]*domain.User{
			"user1": {UID: "user1", Email: "one@example.com"},
			"user2": {UID: "user2", Email: "two@example.com"},
		},
	)
	f.gateway.results["user1"] = &domain.ChargeResult{Paid: false, Reason: "insufficient funds"}
	f.gateway.results["user2"] = &domain.ChargeResult{Paid: true}

	require.NoError(t, f.settler.Run(context.Background()))

	settled := f.auctionRepo.get("a1")
	assert.Equal(t, domain.AuctionCompleted, settled.Status)
	assert.Equal(t, "user2", settled.WinnerID)
	assert.Equal(t, int64(300), settled.FinalPrice, "final price must be the second-highest amount")
	assert.Equal(t, 2, f.gateway.callCount())
}

func TestAllChargesFailAuctionFailed(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500), bid("a1", "user2", 300)}},
		map[string]*domain.User{
			"user1": {UID: "user1"},
			"user2": {UID: "user2"},
		},
	)

	require.NoError(t, f.settler.Run(context.Background()))

	settled := f.auctionRepo.get("a1")
	assert.Equal(t, domain.AuctionFailed, settled.Status)
	assert.Empty(t, settled.WinnerID)
	assert.Zero(t, settled.FinalPrice)
	assert.Equal(t, 2, f.gateway.callCount())
}

func TestMissingUserSkippedAndCountsAsExhausted(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "ghost", 500)}},
		map[string]*domain.User{},
	)

	require.NoError(t, f.settler.Run(context.Background()))

	settled := f.auctionRepo.get("a1")
	assert.Equal(t, domain.AuctionFailed, settled.Status)
	assert.Zero(t, f.gateway.callCount(), "a skipped bid is not a charge attempt")
}

func TestMissingUserFallsThroughToNextBidder(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "ghost", 500), bid("a1", "user2", 300)}},
		map[string]*domain.User{"user2": {UID: "user2", Email: "two@example.com"}},
	)
	f.gateway.results["user2"] = &domain.ChargeResult{Paid: true}

	require.NoError(t, f.settler.Run(context.Background()))

	settled := f.auctionRepo.get("a1")
	assert.Equal(t, domain.AuctionCompleted, settled.Status)
	assert.Equal(t, "user2", settled.WinnerID)
	assert.Equal(t, int64(300), settled.FinalPrice)
}

func TestBidLoadFailureMarksErrorAndSparesSiblings(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("bad"), endedAuction("good")},
		map[string][]*domain.Bid{"good": {bid("good", "user1", 200)}},
		map[string]*domain.User{"user1": {UID: "user1"}},
	)
	f.bidRepo.err["bad"] = errors.New("store unavailable")
	f.gateway.results["user1"] = &domain.ChargeResult{Paid: true}

	require.NoError(t, f.settler.Run(context.Background()))

	assert.Equal(t, domain.AuctionError, f.auctionRepo.get("bad").Status)
	assert.Equal(t, domain.AuctionCompleted, f.auctionRepo.get("good").Status)
}

func TestGatewayErrorMarksError(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500)}},
		map[string]*domain.User{"user1": {UID: "user1"}},
	)
	f.gateway.err = errors.New("gateway misconfigured")

	require.NoError(t, f.settler.Run(context.Background()))

	assert.Equal(t, domain.AuctionError, f.auctionRepo.get("a1").Status)
}

func TestSecondRunExcludesCompleted(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500)}},
		map[string]*domain.User{"user1": {UID: "user1"}},
	)
	f.gateway.results["user1"] = &domain.ChargeResult{Paid: true}

	require.NoError(t, f.settler.Run(context.Background()))
	require.NoError(t, f.settler.Run(context.Background()))

	assert.Equal(t, 1, f.gateway.callCount(), "a completed auction must never be charged again")
}

func TestMerchantReferencesNeverRepeat(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500), bid("a1", "user2", 400), bid("a1", "user3", 300)}},
		map[string]*domain.User{
			"user1": {UID: "user1"},
			"user2": {UID: "user2"},
			"user3": {UID: "user3"},
		},
	)

	require.NoError(t, f.settler.Run(context.Background()))

	seen := make(map[string]bool)
	for _, call := range f.gateway.calls {
		assert.True(t, strings.HasPrefix(call.merchantUID, "buy_a1_"))
		assert.False(t, seen[call.merchantUID], "merchant reference reused: %s", call.merchantUID)
		seen[call.merchantUID] = true
	}
	assert.Len(t, seen, 3)
}

func TestLockedAuctionSkipped(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500)}},
		map[string]*domain.User{"user1": {UID: "user1"}},
	)
	lock := &fakeLock{denied: map[string]bool{"a1": true}}
	f.settler = NewSettler(f.auctionRepo, f.bidRepo, f.userRepo, f.gateway,
		f.publisher, lock, nil, "test-instance", false, 3, nopLogger{})

	require.NoError(t, f.settler.Run(context.Background()))

	assert.Equal(t, domain.AuctionActive, f.auctionRepo.get("a1").Status)
	assert.Zero(t, f.gateway.callCount())
}

func TestNonLeaderDoesNothing(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500)}},
		map[string]*domain.User{"user1": {UID: "user1"}},
	)
	f.settler = NewSettler(f.auctionRepo, f.bidRepo, f.userRepo, f.gateway,
		f.publisher, nil, &fakeLeader{leader: false}, "test-instance", false, 3, nopLogger{})

	require.NoError(t, f.settler.Run(context.Background()))

	assert.Equal(t, domain.AuctionActive, f.auctionRepo.get("a1").Status)
	assert.Zero(t, f.gateway.callCount())
}

func TestErroredRetryOptIn(t *testing.T) {
	errored := endedAuction("a1")
	errored.Status = domain.AuctionError

	f := newFixture(
		[]*domain.Auction{errored},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500)}},
		map[string]*domain.User{"user1": {UID: "user1", Email: "one@example.com"}},
	)
	f.gateway.results["user1"] = &domain.ChargeResult{Paid: true}

	// Default behavior: error is terminal.
	require.NoError(t, f.settler.Run(context.Background()))
	assert.Equal(t, domain.AuctionError, f.auctionRepo.get("a1").Status)
	assert.Zero(t, f.gateway.callCount())

	// With the flag on, the errored auction is retried and completes.
	f.settler = NewSettler(f.auctionRepo, f.bidRepo, f.userRepo, f.gateway,
		f.publisher, nil, nil, "test-instance", true, 3, nopLogger{})
	require.NoError(t, f.settler.Run(context.Background()))

	settled := f.auctionRepo.get("a1")
	assert.Equal(t, domain.AuctionCompleted, settled.Status)
	assert.Equal(t, 1, settled.SettleAttempts)
}

func TestErroredRetryRespectsAttemptCap(t *testing.T) {
	errored := endedAuction("a1")
	errored.Status = domain.AuctionError
	errored.SettleAttempts = 3

	f := newFixture(
		[]*domain.Auction{errored},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500)}},
		map[string]*domain.User{"user1": {UID: "user1"}},
	)
	f.settler = NewSettler(f.auctionRepo, f.bidRepo, f.userRepo, f.gateway,
		f.publisher, nil, nil, "test-instance", true, 3, nopLogger{})

	require.NoError(t, f.settler.Run(context.Background()))

	assert.Equal(t, domain.AuctionError, f.auctionRepo.get("a1").Status)
	assert.Zero(t, f.gateway.callCount())
}

func TestCompletedEventCarriesWinner(t *testing.T) {
	f := newFixture(
		[]*domain.Auction{endedAuction("a1")},
		map[string][]*domain.Bid{"a1": {bid("a1", "user1", 500)}},
		map[string]*domain.User{"user1": {UID: "user1", Email: "one@example.com"}},
	)
	f.gateway.results["user1"] = &domain.ChargeResult{Paid: true}

	require.NoError(t, f.settler.Run(context.Background()))

	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0]
	assert.Equal(t, domain.AuctionCompletedEvent, event.Type)
	assert.Equal(t, "a1", event.AuctionID)
	assert.Equal(t, "user1", event.WinnerID)
	assert.Equal(t, "one@example.com", event.WinnerEmail)
	assert.Equal(t, int64(500), event.FinalPrice)
}
