// Package admin serves the operator views over the reliability tables: events
// still waiting in the outbox and events the consumers dropped.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/httpx"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]outbox.Record, error)
}

// Routes holds the optional sources; a nil source answers 404.
type Routes struct {
	Outbox  PendingLister
	Dropped deadletter.Lister
	Logger  *slog.Logger
}

func (rt Routes) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/outbox", rt.listOutbox)
	mux.HandleFunc("GET /admin/dropped", rt.listDropped)
}

type outboxItem struct {
	ID           string     `json:"id"`
	EntityID     string     `json:"entityId"`
	EntityType   string     `json:"entityType"`
	EventType    string     `json:"eventType"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	Processed    bool       `json:"processed"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	RetryCount   int        `json:"retryCount"`
}

type droppedItem struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	EventType  string    `json:"eventType"`
	MessageID  string    `json:"messageId"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	DeathCount int       `json:"deathCount"`
	DroppedAt  time.Time `json:"droppedAt"`
	Payload    string    `json:"payload"`
}

func (rt Routes) listOutbox(w http.ResponseWriter, r *http.Request) {
	if rt.Outbox == nil {
		httpx.WriteError(w, http.StatusNotFound, "this service has no outbox")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := rt.Outbox.ListPending(r.Context(), limit)
	if err != nil {
		rt.Logger.Error("list outbox failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "list outbox failed")
		return
	}
	items := make([]outboxItem, 0, len(records))
	for _, rec := range records {
		items = append(items, outboxItem{
			ID:           rec.ID,
			EntityID:     rec.EntityID,
			EntityType:   rec.EntityType,
			EventType:    string(rec.EventType),
			CreatedAt:    rec.CreatedAt,
			ProcessedAt:  rec.ProcessedAt,
			Processed:    rec.Processed,
			ErrorMessage: rec.ErrorMessage,
			RetryCount:   rec.RetryCount,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"pending": items, "count": len(items)})
}

func (rt Routes) listDropped(w http.ResponseWriter, r *http.Request) {
	if rt.Dropped == nil {
		httpx.WriteError(w, http.StatusNotFound, "this service has no dead-letter store")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := rt.Dropped.List(r.Context(), r.URL.Query().Get("queue"), limit)
	if err != nil {
		rt.Logger.Error("list dropped failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "list dropped failed")
		return
	}
	items := make([]droppedItem, 0, len(records))
	for _, rec := range records {
		items = append(items, droppedItem{
			ID:         rec.ID,
			Queue:      rec.Queue,
			EventType:  rec.EventType,
			MessageID:  rec.MessageID,
			Reason:     rec.Reason,
			Error:      rec.Error,
			DeathCount: rec.DeathCount,
			DroppedAt:  rec.DroppedAt,
			Payload:    string(rec.Payload),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"dropped": items, "count": len(items)})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}
