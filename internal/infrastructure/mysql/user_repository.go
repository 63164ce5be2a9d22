package mysql

import (
	"context"
	"database/sql"
	"errors"

	"auction-settlement/internal/domain"
)

type MySQLUserRepository struct {
	db *sql.DB
}

func NewMySQLUserRepository(db *sql.DB) *MySQLUserRepository {
	return &MySQLUserRepository{db: db}
}

func (r *MySQLUserRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT uid, email, name, phone FROM users WHERE uid = ?`

	var user domain.User
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UID, &user.Email, &user.Name, &user.Phone)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}
