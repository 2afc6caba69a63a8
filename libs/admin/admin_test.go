package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
)

func newMux(rt Routes) *http.ServeMux {
	rt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	rt.Mount(mux)
	return mux
}

func TestOutboxListsPending(t *testing.T) {
	store := outbox.NewMemoryStore()
	_ = store.InsertRecord(context.Background(), outbox.Record{ID: "e-1", EntityID: "U1", EntityType: "user", EventType: "user.registered", CreatedAt: time.Now()})

	rec := httptest.NewRecorder()
	newMux(Routes{Outbox: store}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/outbox?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Pending []outboxItem `json:"pending"`
		Count   int          `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Pending[0].EventType != "user.registered" {
		t.Fatalf("body = %+v", body)
	}
}

func TestDroppedFiltersByQueue(t *testing.T) {
	sink := &deadletter.MemorySink{}
	_ = sink.Capture(context.Background(), deadletter.Record{ID: "d-1", Queue: "block.add.adoption", Reason: deadletter.ReasonRetriesExhausted})
	_ = sink.Capture(context.Background(), deadletter.Record{ID: "d-2", Queue: "user.registered.adoption", Reason: deadletter.ReasonUndecodable})

	rec := httptest.NewRecorder()
	newMux(Routes{Dropped: sink}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/dropped?queue=block.add.adoption", nil))
	var body struct {
		Dropped []droppedItem `json:"dropped"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Dropped) != 1 || body.Dropped[0].ID != "d-1" {
		t.Fatalf("body = %+v", body)
	}
}

func TestAdminErrors(t *testing.T) {
	mux := newMux(Routes{Outbox: outbox.NewMemoryStore()})
	tests := []struct {
		path string
		want int
	}{
		{"/admin/outbox?limit=abc", http.StatusBadRequest},
		{"/admin/outbox?limit=0", http.StatusBadRequest},
		{"/admin/dropped", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}
