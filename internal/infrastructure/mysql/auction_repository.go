package mysql

import (
	"auction-settlement/internal/domain"
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const auctionColumns = `
    id, seller_id, seller_email, title, description, start_price, image_url,
    end_at, status, winner_id, winner_email, final_price, settle_attempts,
    created_at, updated_at
`

type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

func (r *MySQLAuctionRepository) FindEndedActive(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions WHERE end_at <= ? AND status = ?
    `

	rows, err := r.db.QueryContext(ctx, query, now, string(domain.AuctionActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuctions(rows)
}

func (r *MySQLAuctionRepository) FindErroredRetryable(ctx context.Context, now time.Time, maxAttempts int) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions WHERE end_at <= ? AND status = ? AND settle_attempts < ?
    `

	rows, err := r.db.QueryContext(ctx, query, now, string(domain.AuctionError), maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuctions(rows)
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions WHERE id = ?
    `

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		return nil, err
	}

	return auction, nil
}

// UpdateStatus writes a terminal status. The WHERE clause only matches
// non-terminal rows, so a racing run can never overwrite completed/ended.
func (r *MySQLAuctionRepository) UpdateStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	query := `
        UPDATE auctions SET status = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)
    `
	_, err := r.db.ExecContext(ctx, query, string(status), time.Now(), auctionID,
		string(domain.AuctionActive), string(domain.AuctionError))
	return err
}

func (r *MySQLAuctionRepository) RecordWinner(ctx context.Context, auctionID, winnerID, winnerEmail string, finalPrice int64) error {
	query := `
        UPDATE auctions
        SET status = ?, winner_id = ?, winner_email = ?, final_price = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)
    `
	_, err := r.db.ExecContext(ctx, query, string(domain.AuctionCompleted),
		winnerID, winnerEmail, finalPrice, time.Now(), auctionID,
		string(domain.AuctionActive), string(domain.AuctionError))
	return err
}

func (r *MySQLAuctionRepository) IncrementSettleAttempts(ctx context.Context, auctionID string) error {
	query := `UPDATE auctions SET settle_attempts = settle_attempts + 1, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now(), auctionID)
	return err
}

// Requeue is the manual ops path for reprocessing a failed or errored
// auction. Winner fields are cleared so a later completion starts clean.
func (r *MySQLAuctionRepository) Requeue(ctx context.Context, auctionID string) error {
	query := `
        UPDATE auctions
        SET status = ?, winner_id = '', winner_email = '', final_price = 0, updated_at = ?
        WHERE id = ? AND status IN (?, ?)
    `
	result, err := r.db.ExecContext(ctx, query, string(domain.AuctionActive),
		time.Now(), auctionID, string(domain.AuctionFailed), string(domain.AuctionError))
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var auction domain.Auction
	var status string

	err := row.Scan(&auction.ID, &auction.SellerID, &auction.SellerEmail,
		&auction.Title, &auction.Description, &auction.StartPrice, &auction.ImageURL,
		&auction.EndAt, &status, &auction.WinnerID, &auction.WinnerEmail,
		&auction.FinalPrice, &auction.SettleAttempts,
		&auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	auction.Status = domain.AuctionStatus(status)
	return &auction, nil
}

func scanAuctions(rows *sql.Rows) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}

	return auctions, rows.Err()
}
