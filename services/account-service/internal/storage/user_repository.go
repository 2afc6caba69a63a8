package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/pawlink/libs/db"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
	"github.com/md-rashed-zaman/pawlink/services/account-service/internal/accounts"
)

type UserRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewUserRepository(pool *db.Pool, outboxRepo *outbox.Repository) *UserRepository {
	return &UserRepository{pool: pool, outbox: outboxRepo}
}

func (r *UserRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx accounts.Tx) error) error {
	return r.pool.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, userTx{tx: tx, outbox: r.outbox.Writer(tx)})
	})
}

type userTx struct {
	tx     pgx.Tx
	outbox outbox.Writer
}

func (t userTx) Outbox() outbox.Writer { return t.outbox }

func (t userTx) InsertUser(ctx context.Context, u accounts.User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (id, username, email, latitude, longitude, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.Email, u.Latitude, u.Longitude, u.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", accounts.ErrTaken, err)
	}
	return err
}

func (t userTx) DeleteUser(ctx context.Context, id string) (accounts.User, error) {
	var u accounts.User
	err := t.tx.QueryRow(ctx, `
		DELETE FROM users WHERE id = $1
		RETURNING id, username, email, latitude, longitude, created_at
	`, id).Scan(&u.ID, &u.Username, &u.Email, &u.Latitude, &u.Longitude, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounts.User{}, accounts.ErrNotFound
	}
	return u, err
}

var _ accounts.Store = (*UserRepository)(nil)
