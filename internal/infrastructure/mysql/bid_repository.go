package mysql

import (
	"context"
	"database/sql"

	"auction-settlement/internal/domain"
)

type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

// ListByAuctionRanked returns bids in settlement order: highest amount first,
// ties broken by earliest created_at, then id so the order is deterministic.
func (r *MySQLBidRepository) ListByAuctionRanked(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `
        SELECT id, auction_id, bidder_id, bidder_email, amount, created_at
        FROM bids
        WHERE auction_id = ?
        ORDER BY amount DESC, created_at ASC, id ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var bid domain.Bid

		err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID,
			&bid.BidderEmail, &bid.Amount, &bid.CreatedAt)
		if err != nil {
			return nil, err
		}

		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}
