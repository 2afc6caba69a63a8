package replica

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/pawlink/libs/db"
)

// PGStore keeps replicas in the replica_* tables of the consuming service's
// database. Foreign keys from blocks, follows and friendships to
// replica_users are optional per service (see the service migrations).
type PGStore struct {
	pool *db.Pool
}

func NewPGStore(pool *db.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.pool.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func table(kind Kind) (string, error) {
	switch kind {
	case KindUser:
		return "replica_users", nil
	case KindBlock:
		return "replica_blocks", nil
	case KindFollow:
		return "replica_follows", nil
	case KindFriendship:
		return "replica_friendships", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func (t pgTx) Exists(ctx context.Context, kind Kind, id string) (bool, error) {
	tbl, err := table(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	err = t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+tbl+` WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (t pgTx) Delete(ctx context.Context, kind Kind, id string) (bool, error) {
	tbl, err := table(kind)
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+tbl+` WHERE id = $1`, id)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t pgTx) UserIdentityTaken(ctx context.Context, username, email string) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM replica_users
			WHERE (username = $1 AND $1 <> '') OR (email = $2 AND $2 <> '')
		)
	`, username, email).Scan(&taken)
	return taken, err
}

func (t pgTx) InsertUser(ctx context.Context, u User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO replica_users (id, username, email, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Username, u.Email, u.Latitude, u.Longitude)
	return translate(err)
}

func (t pgTx) InsertBlock(ctx context.Context, b Block) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO replica_blocks (id, blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, b.ID, b.BlockerID, b.BlockedID, b.CreatedAt)
	return translate(err)
}

func (t pgTx) InsertFollow(ctx context.Context, f Follow) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO replica_follows (id, follower_id, followed_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, f.ID, f.FollowerID, f.FollowedID, f.CreatedAt)
	return translate(err)
}

func (t pgTx) InsertFriendship(ctx context.Context, f Friendship) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO replica_friendships (id, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, f.ID, f.User1ID, f.User2ID, f.CreatedAt)
	return translate(err)
}

func (t pgTx) Tombstoned(ctx context.Context, kind Kind, id string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM replica_tombstones WHERE kind = $1 AND entity_id = $2)
	`, string(kind), id).Scan(&exists)
	return exists, err
}

func (t pgTx) Tombstone(ctx context.Context, kind Kind, id string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO replica_tombstones (kind, entity_id)
		VALUES ($1, $2)
		ON CONFLICT (kind, entity_id) DO NOTHING
	`, string(kind), id)
	return err
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", ErrMissingReference, err)
	default:
		return err
	}
}

var _ Store = (*PGStore)(nil)
