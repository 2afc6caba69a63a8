package accounts

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/pawlink/libs/httpx"
)

type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/users", h.register)
	mux.HandleFunc("DELETE /api/v1/users/{id}", h.delete)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var reg Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	u, err := h.svc.Register(r.Context(), reg)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusCreated, u)
	case errors.Is(err, ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTaken):
		httpx.WriteError(w, http.StatusConflict, ErrTaken.Error())
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Delete(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, u)
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "user not found")
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("account request failed",
		"request_id", httpx.RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"err", err,
	)
	httpx.WriteError(w, http.StatusInternalServerError, "internal error")
}
