package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/pawlink/libs/db"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
	"github.com/md-rashed-zaman/pawlink/services/social-service/internal/graph"
)

// GraphRepository keeps the graph tables. They reference replica_users, so a
// relationship can only be created between users this service has seen.
type GraphRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewGraphRepository(pool *db.Pool, outboxRepo *outbox.Repository) *GraphRepository {
	return &GraphRepository{pool: pool, outbox: outboxRepo}
}

func (r *GraphRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx graph.Tx) error) error {
	return r.pool.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, graphTx{tx: tx, outbox: r.outbox.Writer(tx)})
	})
}

type graphTx struct {
	tx     pgx.Tx
	outbox outbox.Writer
}

func (t graphTx) Outbox() outbox.Writer { return t.outbox }

func (t graphTx) InsertBlock(ctx context.Context, b graph.Block) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO blocks (id, blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, b.ID, b.BlockerID, b.BlockedID, b.CreatedAt)
	return translate(err)
}

func (t graphTx) DeleteBlock(ctx context.Context, id string) (graph.Block, error) {
	var b graph.Block
	err := t.tx.QueryRow(ctx, `
		DELETE FROM blocks WHERE id = $1
		RETURNING id, blocker_id, blocked_id, created_at
	`, id).Scan(&b.ID, &b.BlockerID, &b.BlockedID, &b.CreatedAt)
	return b, translate(err)
}

func (t graphTx) Blocked(ctx context.Context, a, b string) (bool, error) {
	var blocked bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1)
		)
	`, a, b).Scan(&blocked)
	return blocked, err
}

func (t graphTx) InsertFollow(ctx context.Context, f graph.Follow) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO follows (id, follower_id, followed_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, f.ID, f.FollowerID, f.FollowedID, f.CreatedAt)
	return translate(err)
}

func (t graphTx) DeleteFollow(ctx context.Context, id string) (graph.Follow, error) {
	var f graph.Follow
	err := t.tx.QueryRow(ctx, `
		DELETE FROM follows WHERE id = $1
		RETURNING id, follower_id, followed_id, created_at
	`, id).Scan(&f.ID, &f.FollowerID, &f.FollowedID, &f.CreatedAt)
	return f, translate(err)
}

func (t graphTx) InsertFriendship(ctx context.Context, f graph.Friendship) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO friendships (id, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, f.ID, f.User1ID, f.User2ID, f.CreatedAt)
	return translate(err)
}

func (t graphTx) DeleteFriendship(ctx context.Context, id string) (graph.Friendship, error) {
	var f graph.Friendship
	err := t.tx.QueryRow(ctx, `
		DELETE FROM friendships WHERE id = $1
		RETURNING id, user1_id, user2_id, created_at
	`, id).Scan(&f.ID, &f.User1ID, &f.User2ID, &f.CreatedAt)
	return f, translate(err)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return graph.ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", graph.ErrConflict, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", graph.ErrUnknownUser, err)
	default:
		return err
	}
}

var _ graph.Store = (*GraphRepository)(nil)
