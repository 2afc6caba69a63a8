package graph

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
	mux.HandleFunc("POST /api/v1/blocks", h.createBlock)
	mux.HandleFunc("DELETE /api/v1/blocks/{id}", h.deleteBlock)
	mux.HandleFunc("POST /api/v1/follows", h.createFollow)
	mux.HandleFunc("DELETE /api/v1/follows/{id}", h.deleteFollow)
	mux.HandleFunc("POST /api/v1/friendships", h.createFriendship)
	mux.HandleFunc("DELETE /api/v1/friendships/{id}", h.deleteFriendship)
}

type blockRequest struct {
	BlockerID string `json:"blockerId"`
	BlockedID string `json:"blockedId"`
}

type followRequest struct {
	FollowerID string `json:"followerId"`
	FollowedID string `json:"followedId"`
}

type friendshipRequest struct {
	User1ID string `json:"user1Id"`
	User2ID string `json:"user2Id"`
}

func (h *Handler) createBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.Block(r.Context(), req.BlockerID, req.BlockedID)
	h.reply(w, r, http.StatusCreated, b, err)
}

func (h *Handler) deleteBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Unblock(r.Context(), r.PathValue("id"))
	h.reply(w, r, http.StatusOK, b, err)
}

func (h *Handler) createFollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if !decode(w, r, &req) {
		return
	}
	f, err := h.svc.Follow(r.Context(), req.FollowerID, req.FollowedID)
	h.reply(w, r, http.StatusCreated, f, err)
}

func (h *Handler) deleteFollow(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Unfollow(r.Context(), r.PathValue("id"))
	h.reply(w, r, http.StatusOK, f, err)
}

func (h *Handler) createFriendship(w http.ResponseWriter, r *http.Request) {
	var req friendshipRequest
	if !decode(w, r, &req) {
		return
	}
	f, err := h.svc.Befriend(r.Context(), req.User1ID, req.User2ID)
	h.reply(w, r, http.StatusCreated, f, err)
}

func (h *Handler) deleteFriendship(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Unfriend(r.Context(), r.PathValue("id"))
	h.reply(w, r, http.StatusOK, f, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	switch {
	case err == nil:
		httpx.WriteJSON(w, status, v)
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrUnknownUser):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "already exists")
	case errors.Is(err, ErrBlocked):
		httpx.WriteError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error("graph request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
