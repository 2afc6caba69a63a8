package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/pawlink/services/notification-service/internal/storage"
)

type listerFunc func(ctx context.Context, recipientID string, limit int) ([]storage.Notification, error)

func (f listerFunc) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]storage.Notification, error) {
	return f(ctx, recipientID, limit)
}

func TestListHandler(t *testing.T) {
	var gotLimit int
	h := ListHandler(listerFunc(func(_ context.Context, id string, limit int) ([]storage.Notification, error) {
		gotLimit = limit
		return []storage.Notification{{ID: "n-1", RecipientID: id, Message: "hi"}}, nil
	}), slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?recipientId=U2&limit=5", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"recipientId":"U2"`) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if gotLimit != 5 {
		t.Fatalf("limit = %d", gotLimit)
	}

	for _, path := range []string{"/api/v1/notifications", "/api/v1/notifications?recipientId=U2&limit=999"} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}
