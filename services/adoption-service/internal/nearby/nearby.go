// Package nearby answers "who is close to me" from the replicated users,
// leaving out anyone on either side of a block.
package nearby

import (
	"context"
	"errors"
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrNoLocation    = errors.New("user has no location")
	ErrInvalidRadius = errors.New("radius must be positive")
)

type Point struct {
	Latitude  float64
	Longitude float64
}

type Candidate struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Distance float64 `json:"distanceKm"`
	point    Point
}

// Source reads the replica. Candidates must already exclude viewerID and users
// blocked in either direction.
type Source interface {
	Location(ctx context.Context, userID string) (*Point, error)
	Candidates(ctx context.Context, viewerID string) ([]Candidate, error)
}

// NewCandidate is used by sources to attach a location.
func NewCandidate(userID, username string, p Point) Candidate {
	return Candidate{UserID: userID, Username: username, point: p}
}

type Finder struct {
	src Source
}

func NewFinder(src Source) *Finder {
	return &Finder{src: src}
}

// Near returns candidates within radiusKm of viewerID, closest first.
func (f *Finder) Near(ctx context.Context, viewerID string, radiusKm float64, limit int) ([]Candidate, error) {
	if radiusKm <= 0 || math.IsNaN(radiusKm) {
		return nil, ErrInvalidRadius
	}
	origin, err := f.src.Location(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if origin == nil {
		return nil, ErrNoLocation
	}
	all, err := f.src.Candidates(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(all))
	for _, c := range all {
		c.Distance = Distance(*origin, c.point)
		if c.Distance <= radiusKm {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Distance < out[j].Distance
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Distance is the haversine distance in kilometres.
func Distance(a, b Point) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
