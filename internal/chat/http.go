package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/serenoapp/sereno/internal/api"
	"github.com/serenoapp/sereno/internal/identity"
	"github.com/serenoapp/sereno/internal/mood"
	"github.com/serenoapp/sereno/internal/session"
)

// Handler serves the plain HTTP submit path. Clients without WebSocket
// support get the full reply after playback completes instead of live chunks.
type Handler struct {
	sessions *session.Manager
	limiter  *RateLimiter
}

// NewHandler creates the HTTP chat handler.
func NewHandler(sessions *session.Manager, limiter *RateLimiter) *Handler {
	return &Handler{sessions: sessions, limiter: limiter}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat/message", h.SubmitMessage)
}

// SubmitMessage runs one full exchange and responds when playback finishes.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.limiter.Allow(userID) {
		api.ErrorCode(w, http.StatusTooManyRequests, "rate_limited", "slow down a little")
		return
	}

	ctrl, err := h.sessions.Get(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load conversation controller", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load conversation state")
		return
	}

	reply, err := ctrl.Submit(r.Context(), req.Content, nil)
	if err != nil {
		status, code, message := classifySubmitError(err)
		if code == "provider_unavailable" {
			slog.Error("chat submit failed", "user_id", userID, "error", err)
		}
		api.ErrorCode(w, status, code, message)
		return
	}

	api.JSON(w, http.StatusOK, map[string]interface{}{
		"message":      reply,
		"weather":      mood.Classify(ctrl.RecentUserTexts(mood.SampleWindow)),
		"quota":        ctrl.Quota(),
		"analysis_due": ctrl.AnalysisDue(),
	})
}
