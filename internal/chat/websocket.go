// Package chat carries message submission over HTTP and WebSocket, including
// live reveal playback.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/identity"
	"github.com/serenoapp/sereno/internal/mood"
	"github.com/serenoapp/sereno/internal/session"
)

// WebSocketHandler upgrades /ws/chat connections and relays submit cycles.
type WebSocketHandler struct {
	sessions      *session.Manager
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(sessions *session.Manager, limiter *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientFrame is what the browser sends.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// serverFrame is what the server sends back.
type serverFrame struct {
	Type    string             `json:"type"`
	Message *domain.Message    `json:"message,omitempty"`
	ID      string             `json:"id,omitempty"`
	Content string             `json:"content,omitempty"`
	Weather domain.Weather     `json:"weather,omitempty"`
	Quota   *domain.QuotaState `json:"quota,omitempty"`
	Due     bool               `json:"analysis_due,omitempty"`
	Code    string             `json:"code,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	slog.Info("chat WebSocket connected", "user_id", userID, "ip", r.RemoteAddr)

	ctx := r.Context()
	ctrl, err := h.sessions.Get(ctx, userID)
	if err != nil {
		slog.Error("failed to load conversation controller", "user_id", userID, "error", err)
		h.writeFrame(ctx, ws, serverFrame{Type: "error", Code: "session_unavailable", Error: "failed to load conversation state"})
		return
	}

	for {
		frame, err := h.readFrame(ctx, ws)
		if err != nil {
			slog.Debug("chat WebSocket closed", "user_id", userID, "error", err)
			return
		}

		switch frame.Type {
		case "message":
			h.handleSubmit(ctx, ws, ctrl, userID, frame.Content)
		case "ping":
			h.writeFrame(ctx, ws, serverFrame{Type: "pong"})
		default:
			h.writeFrame(ctx, ws, serverFrame{Type: "error", Code: "unknown_frame", Error: "unknown frame type"})
		}
	}
}

func (h *WebSocketHandler) handleSubmit(ctx context.Context, ws *websocket.Conn, ctrl *session.Controller, userID, content string) {
	if !h.limiter.Allow(userID) {
		h.writeFrame(ctx, ws, serverFrame{Type: "error", Code: "rate_limited", Error: "slow down a little"})
		return
	}

	sink := &wsSink{h: h, ctx: ctx, ws: ws}
	if _, err := ctrl.Submit(ctx, content, sink); err != nil {
		_, code, message := classifySubmitError(err)
		if code == "provider_unavailable" {
			// Keep the diagnostic text server-side.
			slog.Error("chat submit failed", "user_id", userID, "error", err)
		}
		h.writeFrame(ctx, ws, serverFrame{Type: "error", Code: code, Error: message})
		return
	}

	quota := ctrl.Quota()
	h.writeFrame(ctx, ws, serverFrame{
		Type:    "session",
		Weather: mood.Classify(ctrl.RecentUserTexts(mood.SampleWindow)),
		Quota:   &quota,
		Due:     ctrl.AnalysisDue(),
	})
}

// wsSink forwards playback events to the connected client.
type wsSink struct {
	h   *WebSocketHandler
	ctx context.Context
	ws  *websocket.Conn
}

func (s *wsSink) UserMessage(m domain.Message) {
	s.h.writeFrame(s.ctx, s.ws, serverFrame{Type: "user_message", Message: &m})
}

func (s *wsSink) AssistantChunk(id, partial string) {
	s.h.writeFrame(s.ctx, s.ws, serverFrame{Type: "chunk", ID: id, Content: partial})
}

func (s *wsSink) AssistantDone(m domain.Message) {
	s.h.writeFrame(s.ctx, s.ws, serverFrame{Type: "done", Message: &m})
}

func (h *WebSocketHandler) readFrame(ctx context.Context, ws *websocket.Conn) (clientFrame, error) {
	var frame clientFrame
	_, data, err := ws.Read(ctx)
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		frame.Type = "invalid"
	}
	return frame, nil
}

func (h *WebSocketHandler) writeFrame(ctx context.Context, ws *websocket.Conn, frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to marshal ws frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("ws write failed", "error", err)
	}
}

// checkOrigin restricts connections to the configured frontend in
// production. Development accepts anything local.
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return h.allowedOrigin != "" && strings.Contains(h.allowedOrigin, u.Host)
}
