package accounts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/pawlink/libs/amqpx/amqpmem"
	"github.com/md-rashed-zaman/pawlink/libs/events"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
)

type memStore struct {
	users  map[string]User
	outbox *outbox.MemoryStore
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{users: map[string]User{}}
	for k, v := range s.users {
		tx.users[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.users = tx.users
	for _, r := range tx.outboxed {
		if err := s.outbox.InsertRecord(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

type memTx struct {
	users    map[string]User
	outboxed []outbox.Record
}

func (t *memTx) InsertUser(_ context.Context, u User) error {
	for _, existing := range t.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return ErrTaken
		}
	}
	t.users[u.ID] = u
	return nil
}

func (t *memTx) DeleteUser(_ context.Context, id string) (User, error) {
	u, ok := t.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	delete(t.users, id)
	return u, nil
}

func (t *memTx) Outbox() outbox.Writer {
	return outbox.WriterFunc(func(_ context.Context, r outbox.Record) error {
		t.outboxed = append(t.outboxed, r)
		return nil
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *memStore, *amqpmem.Broker) {
	t.Helper()
	b := amqpmem.New()
	for _, svc := range []string{"social", "adoption"} {
		plan, err := topology.Build(topology.Default(), svc)
		if err != nil {
			t.Fatalf("Build(%s): %v", svc, err)
		}
		if err := topology.Declare(b.Channel(), plan); err != nil {
			t.Fatalf("Declare(%s): %v", svc, err)
		}
	}
	store := &memStore{users: map[string]User{}, outbox: outbox.NewMemoryStore()}
	svc := NewService(store, outbox.NewPublisher(b.Channel(), testLogger(), "account-service"))
	return svc, store, b
}

func ptr(v float64) *float64 { return &v }

func TestRegisterPublishesToEveryReplica(t *testing.T) {
	svc, store, b := newTestService(t)
	u, err := svc.Register(context.Background(), Registration{
		Username: "rex", Email: " Rex@Example.com ",
		Latitude: ptr(52.52), Longitude: ptr(13.405),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "rex@example.com" {
		t.Fatalf("email not normalised: %q", u.Email)
	}
	if _, ok := store.users[u.ID]; !ok {
		t.Fatal("user row missing")
	}
	for _, q := range []string{"user.registered.social", "user.registered.adoption"} {
		if b.Depth(q) != 1 {
			t.Fatalf("%s depth = %d", q, b.Depth(q))
		}
	}

	if _, err := svc.Register(context.Background(), Registration{Username: "rex", Email: "other@example.com"}); !errors.Is(err, ErrTaken) {
		t.Fatalf("duplicate username: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	cases := []struct {
		name string
		reg  Registration
	}{
		{"no username", Registration{Email: "a@b.c"}},
		{"bad email", Registration{Username: "a", Email: "nope"}},
		{"half a location", Registration{Username: "a", Email: "a@b.c", Latitude: ptr(1)}},
		{"out of range", Registration{Username: "a", Email: "a@b.c", Latitude: ptr(91), Longitude: ptr(0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tc.reg); !errors.Is(err, ErrInvalid) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestDeleteWhileBrokerDownUsesOutbox(t *testing.T) {
	ctx := context.Background()
	svc, store, b := newTestService(t)
	u, err := svc.Register(ctx, Registration{Username: "rex", Email: "rex@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	b.FailPublishes(errors.New("connection reset"))
	if _, err := svc.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	pending, _ := store.outbox.ListPending(ctx, 0)
	if len(pending) != 1 || pending[0].EventType != events.UserDeleted || pending[0].EntityID != u.ID {
		t.Fatalf("outbox = %+v", pending)
	}
	if _, err := svc.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestHandlerStatusCodes(t *testing.T) {
	svc, _, _ := newTestService(t)
	mux := http.NewServeMux()
	NewHandler(svc, testLogger()).Mount(mux)

	do := func(method, path, body string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec.Code
	}
	reg := `{"username":"rex","email":"rex@example.com"}`
	if code := do(http.MethodPost, "/api/v1/users", reg); code != http.StatusCreated {
		t.Fatalf("register = %d", code)
	}
	if code := do(http.MethodPost, "/api/v1/users", reg); code != http.StatusConflict {
		t.Fatalf("duplicate = %d", code)
	}
	if code := do(http.MethodPost, "/api/v1/users", `{`); code != http.StatusBadRequest {
		t.Fatalf("bad json = %d", code)
	}
	if code := do(http.MethodDelete, "/api/v1/users/missing", ""); code != http.StatusNotFound {
		t.Fatalf("delete missing = %d", code)
	}
}
