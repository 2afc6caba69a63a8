package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/pawlink/libs/httpx"
	"github.com/md-rashed-zaman/pawlink/services/notification-service/internal/storage"
)

type Lister interface {
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]storage.Notification, error)
}

// ListHandler serves GET /api/v1/notifications?recipientId=..., the poll that
// backs up live pushes.
func ListHandler(l Lister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient := r.URL.Query().Get("recipientId")
		if recipient == "" {
			httpx.WriteError(w, http.StatusBadRequest, "recipientId is required")
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 200 {
				httpx.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 200")
				return
			}
			limit = n
		}
		items, err := l.ListForRecipient(r.Context(), recipient, limit)
		if err != nil {
			logger.Error("list notifications failed", "recipient_id", recipient, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "list notifications failed")
			return
		}
		if items == nil {
			items = []storage.Notification{}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
	}
}
