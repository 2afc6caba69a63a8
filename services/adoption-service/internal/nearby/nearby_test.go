package nearby

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeSource struct {
	locations  map[string]*Point
	candidates []Candidate
}

func (f fakeSource) Location(_ context.Context, id string) (*Point, error) {
	p, ok := f.locations[id]
	if !ok {
		return nil, ErrUnknownUser
	}
	return p, nil
}

func (f fakeSource) Candidates(context.Context, string) ([]Candidate, error) {
	return f.candidates, nil
}

var (
	berlin  = Point{Latitude: 52.52, Longitude: 13.405}
	potsdam = Point{Latitude: 52.3906, Longitude: 13.0645}
	hamburg = Point{Latitude: 53.5511, Longitude: 9.9937}
)

func TestDistance(t *testing.T) {
	got := Distance(berlin, hamburg)
	if math.Abs(got-255) > 5 {
		t.Fatalf("Berlin-Hamburg = %.1f km", got)
	}
	if Distance(berlin, berlin) != 0 {
		t.Fatal("distance to self must be zero")
	}
}

func TestNearFiltersAndSorts(t *testing.T) {
	src := fakeSource{
		locations: map[string]*Point{"U1": &berlin, "U9": nil},
		candidates: []Candidate{
			NewCandidate("U3", "hamburg", hamburg),
			NewCandidate("U2", "potsdam", potsdam),
			NewCandidate("U4", "next-door", berlin),
		},
	}
	f := NewFinder(src)

	got, err := f.Near(context.Background(), "U1", 50, 0)
	if err != nil {
		t.Fatalf("Near: %v", err)
	}
	if len(got) != 2 || got[0].UserID != "U4" || got[1].UserID != "U2" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got, _ := f.Near(context.Background(), "U1", 500, 1); len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}

	if _, err := f.Near(context.Background(), "U9", 50, 0); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("viewer without location: %v", err)
	}
	if _, err := f.Near(context.Background(), "nobody", 50, 0); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown viewer: %v", err)
	}
	if _, err := f.Near(context.Background(), "U1", 0, 0); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("zero radius: %v", err)
	}
}

func TestHandler(t *testing.T) {
	src := fakeSource{
		locations:  map[string]*Point{"U1": &berlin},
		candidates: []Candidate{NewCandidate("U2", "potsdam", potsdam)},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/users/{id}/nearby", Handler(NewFinder(src), slog.New(slog.NewTextHandler(io.Discard, nil))))

	cases := []struct {
		path   string
		status int
	}{
		{"/api/v1/users/U1/nearby?radiusKm=50", http.StatusOK},
		{"/api/v1/users/U1/nearby?radiusKm=abc", http.StatusBadRequest},
		{"/api/v1/users/U1/nearby?limit=-1", http.StatusBadRequest},
		{"/api/v1/users/nobody/nearby", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.path, rec.Code, tc.status)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/U1/nearby?radiusKm=50", nil))
	if !strings.Contains(rec.Body.String(), `"userId":"U2"`) {
		t.Fatalf("body = %s", rec.Body)
	}
}
