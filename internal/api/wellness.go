package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/serenoapp/sereno/internal/analysis"
	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/identity"
	"github.com/serenoapp/sereno/internal/mood"
	"github.com/serenoapp/sereno/internal/progress"
	"github.com/serenoapp/sereno/internal/session"
	"github.com/serenoapp/sereno/internal/store"
)

// maxRequestBodySize bounds JSON request bodies (64KB).
const maxRequestBodySize = 64 << 10

// WellnessHandler serves profile, quota, suggestion and progress endpoints.
type WellnessHandler struct {
	repo     store.Repository
	sessions *session.Manager
	analyzer *analysis.Service
}

// NewWellnessHandler creates the handler for non-chat API routes.
func NewWellnessHandler(repo store.Repository, sessions *session.Manager, analyzer *analysis.Service) *WellnessHandler {
	return &WellnessHandler{
		repo:     repo,
		sessions: sessions,
		analyzer: analyzer,
	}
}

// RegisterRoutes registers wellness routes.
func (h *WellnessHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Put("/profile", h.UpdateProfile)
		r.Get("/chat/history", h.ChatHistory)
		r.Get("/chat/quota", h.Quota)
		r.Get("/mood", h.Mood)
		r.Post("/analysis/run", h.RunAnalysis)
		r.Get("/suggestions", h.ListSuggestions)
		r.Post("/suggestions/{id}/toggle", h.ToggleSuggestion)
		r.Get("/progress", h.Progress)
		r.Post("/reset", h.Reset)
	})
}

func (h *WellnessHandler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, "", false
	}
	ctrl, err := h.sessions.Get(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load conversation controller", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation state")
		return nil, "", false
	}
	return ctrl, userID, true
}

// GetMe returns the current user's profile, quota and plant snapshot.
func (h *WellnessHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ctrl, userID, ok := h.controller(w, r)
	if !ok {
		return
	}

	profile, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil || profile == nil {
		Error(w, http.StatusUnauthorized, "profile not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"profile":     profile,
		"quota":       ctrl.Quota(),
		"plant_stage": progress.PlantStage(profile.StreakDays, profile.TotalSessions),
		"weather":     mood.Classify(ctrl.RecentUserTexts(mood.SampleWindow)),
	})
}

// UpdateProfile updates the user's display name and age.
func (h *WellnessHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name cannot be empty")
		return
	}
	if req.Age < 0 || req.Age > 120 {
		Error(w, http.StatusBadRequest, "age out of range")
		return
	}

	profile, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil || profile == nil {
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	profile.Name = req.Name
	profile.Age = req.Age
	if err := h.repo.UpsertProfile(r.Context(), profile); err != nil {
		slog.Error("failed to update profile", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	// The controller caches profile fields for prompt context; rebuild it.
	h.sessions.Evict(userID)

	JSON(w, http.StatusOK, profile)
}

// ChatHistory returns today's conversation window.
func (h *WellnessHandler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.controller(w, r)
	if !ok {
		return
	}
	msgs := ctrl.Messages()
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// Quota returns the current daily quota state.
func (h *WellnessHandler) Quota(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.Quota())
}

// Mood returns the weather classification for the recent message window.
func (h *WellnessHandler) Mood(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"weather": mood.Classify(ctrl.RecentUserTexts(mood.SampleWindow)),
	})
}

// RunAnalysis runs emotion extraction and suggestion generation when the
// controller's analysis trigger is due, or unconditionally with force=true.
func (h *WellnessHandler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	ctrl, userID, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req struct {
		Force bool `json:"force"`
	}
	// Body is optional.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.Force && !ctrl.ShouldTriggerAnalysis() {
		JSON(w, http.StatusOK, map[string]interface{}{"triggered": false})
		return
	}

	msgs := ctrl.Messages()
	transcript := make([]*domain.Message, 0, len(msgs))
	for i := range msgs {
		transcript = append(transcript, &msgs[i])
	}

	result, err := h.analyzer.Run(r.Context(), userID, transcript, ctrl.TotalConversations())
	if err != nil {
		slog.Error("analysis run failed", "user_id", userID, "error", err)
		Error(w, http.StatusBadGateway, "analysis failed, try again later")
		return
	}

	var unlocked []string
	if profile, perr := h.repo.GetProfile(r.Context(), userID); perr == nil && profile != nil {
		unlocked, err = progress.Evaluate(r.Context(), h.repo, profile)
		if err != nil {
			slog.Warn("achievement evaluation failed", "user_id", userID, "error", err)
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"triggered":    true,
		"emotions":     result.Emotions,
		"suggestions":  result.Suggestions,
		"achievements": unlocked,
	})
}

// ListSuggestions returns the user's suggestions, newest first.
func (h *WellnessHandler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	suggestions, err := h.repo.ListSuggestions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list suggestions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list suggestions")
		return
	}
	if suggestions == nil {
		suggestions = []*domain.Suggestion{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

// ToggleSuggestion completes or reopens one suggestion.
func (h *WellnessHandler) ToggleSuggestion(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		IsCompleted bool   `json:"is_completed"`
		Notes       string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sg, err := h.analyzer.ToggleSuggestion(r.Context(), userID, chi.URLParam(r, "id"), req.IsCompleted, req.Notes)
	switch {
	case errors.Is(err, analysis.ErrNotFound):
		Error(w, http.StatusNotFound, "suggestion not found")
		return
	case errors.Is(err, analysis.ErrNoteRequired):
		ErrorCode(w, http.StatusUnprocessableEntity, "note_required", "add a short note about how it went")
		return
	case err != nil:
		slog.Error("failed to toggle suggestion", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update suggestion")
		return
	}

	JSON(w, http.StatusOK, sg)
}

// Progress returns streak, plant stage, emotion snapshot and achievements.
func (h *WellnessHandler) Progress(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil || profile == nil {
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	emotions, err := h.repo.ListEmotions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list emotions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	achievements, err := h.repo.ListAchievements(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list achievements", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if emotions == nil {
		emotions = []domain.EmotionScore{}
	}
	if achievements == nil {
		achievements = []*domain.Achievement{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"streak_days":    profile.StreakDays,
		"total_sessions": profile.TotalSessions,
		"plant_stage":    progress.PlantStage(profile.StreakDays, profile.TotalSessions),
		"emotions":       emotions,
		"achievements":   achievements,
	})
}

// Reset clears the user's messages, suggestions and emotion rows. The
// profile and achievements survive.
func (h *WellnessHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.repo.ResetUserData(r.Context(), userID); err != nil {
		slog.Error("failed to reset user data", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset session data")
		return
	}

	h.sessions.Evict(userID)
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func decodeJSON(r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	return json.NewDecoder(body).Decode(v)
}
