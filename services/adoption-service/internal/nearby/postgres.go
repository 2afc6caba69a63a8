package nearby

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/pawlink/libs/db"
)

type PGSource struct {
	pool *db.Pool
}

func NewPGSource(pool *db.Pool) *PGSource {
	return &PGSource{pool: pool}
}

func (s *PGSource) Location(ctx context.Context, userID string) (*Point, error) {
	var lat, lon *float64
	err := s.pool.QueryRow(ctx, `SELECT latitude, longitude FROM replica_users WHERE id = $1`, userID).Scan(&lat, &lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	if lat == nil || lon == nil {
		return nil, nil
	}
	return &Point{Latitude: *lat, Longitude: *lon}, nil
}

func (s *PGSource) Candidates(ctx context.Context, viewerID string) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, u.latitude, u.longitude
		FROM replica_users u
		WHERE u.id <> $1
		  AND u.latitude IS NOT NULL AND u.longitude IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM replica_blocks b
			WHERE (b.blocker_id = $1 AND b.blocked_id = u.id)
			   OR (b.blocker_id = u.id AND b.blocked_id = $1)
		  )
	`, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			id, username string
			p            Point
		)
		if err := rows.Scan(&id, &username, &p.Latitude, &p.Longitude); err != nil {
			return nil, err
		}
		out = append(out, NewCandidate(id, username, p))
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

var _ Source = (*PGSource)(nil)
