package nearby

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/pawlink/libs/httpx"
)

// Handler serves GET /api/v1/users/{id}/nearby?radiusKm=&limit=.
func Handler(f *Finder, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		radius := 10.0
		if raw := r.URL.Query().Get("radiusKm"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid radiusKm")
				return
			}
			radius = v
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpx.WriteError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		found, err := f.Near(r.Context(), r.PathValue("id"), radius, limit)
		switch {
		case err == nil:
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"users": found})
		case errors.Is(err, ErrInvalidRadius), errors.Is(err, ErrNoLocation):
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUnknownUser):
			httpx.WriteError(w, http.StatusNotFound, err.Error())
		default:
			logger.Error("nearby lookup failed", "user_id", r.PathValue("id"), "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		}
	}
}
