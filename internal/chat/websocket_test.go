package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/identity"
	"github.com/serenoapp/sereno/internal/prompt"
	"github.com/serenoapp/sereno/internal/session"
	"github.com/serenoapp/sereno/internal/store"
)

type fakeCompleter struct{ reply string }

func (f fakeCompleter) Complete(context.Context, []*domain.Message, prompt.Kind, string, int) (string, error) {
	return f.reply, nil
}

func newWSTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := session.Config{
		DailyCap:                 3,
		ExchangesPerConversation: 3,
		ContextWindow:            10,
		RevealChunkSize:          2,
		RevealTick:               time.Millisecond,
		WatchdogTimeout:          5 * time.Second,
	}
	sessions := session.NewManager(cfg, store.NewMemory(), fakeCompleter{reply: "hola!"})
	limiter := NewRateLimiter(10, time.Minute)
	t.Cleanup(limiter.Stop)

	handler := NewWebSocketHandler(sessions, limiter, "", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(identity.ContextWithUserID(r.Context(), "user-1"))
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readServerFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) serverFrame {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("failed to decode frame %q: %v", data, err)
	}
	return frame
}

func writeClientFrame(t *testing.T, ctx context.Context, ws *websocket.Conn, frame clientFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func TestWebSocketExchange(t *testing.T) {
	srv := newWSTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	writeClientFrame(t, ctx, ws, clientFrame{Type: "ping"})
	if frame := readServerFrame(t, ctx, ws); frame.Type != "pong" {
		t.Fatalf("expected pong, got %q", frame.Type)
	}

	writeClientFrame(t, ctx, ws, clientFrame{Type: "message", Content: "hola"})

	frame := readServerFrame(t, ctx, ws)
	if frame.Type != "user_message" || frame.Message == nil || frame.Message.Content != "hola" {
		t.Fatalf("expected echoed user message, got %+v", frame)
	}

	var chunks int
	var lastChunk string
	for {
		frame = readServerFrame(t, ctx, ws)
		if frame.Type != "chunk" {
			break
		}
		chunks++
		lastChunk = frame.Content
	}
	if chunks == 0 {
		t.Fatal("expected at least one playback chunk")
	}
	if lastChunk != "hola!" {
		t.Errorf("expected final chunk to carry the full reply, got %q", lastChunk)
	}

	if frame.Type != "done" || frame.Message == nil || frame.Message.Content != "hola!" {
		t.Fatalf("expected done frame with the full reply, got %+v", frame)
	}

	frame = readServerFrame(t, ctx, ws)
	if frame.Type != "session" {
		t.Fatalf("expected session frame after the cycle, got %+v", frame)
	}
	if frame.Quota == nil || frame.Quota.UserMessageCount != 1 {
		t.Errorf("expected quota with 1 user message, got %+v", frame.Quota)
	}
}

func TestWebSocketEmptyMessageError(t *testing.T) {
	srv := newWSTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	writeClientFrame(t, ctx, ws, clientFrame{Type: "message", Content: "   "})

	frame := readServerFrame(t, ctx, ws)
	if frame.Type != "error" || frame.Code != "empty_message" {
		t.Fatalf("expected empty_message error, got %+v", frame)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		isDev  bool
		front  string
		origin string
		want   bool
	}{
		{"Dev accepts anything", true, "https://sereno.app", "https://evil.example", true},
		{"Prod accepts the frontend", false, "https://sereno.app", "https://sereno.app", true},
		{"Prod rejects foreign origins", false, "https://sereno.app", "https://evil.example", false},
		{"No origin header is allowed", false, "https://sereno.app", "", true},
		{"Unparseable origin rejected", false, "https://sereno.app", "://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebSocketHandler(nil, nil, tt.front, tt.isDev)
			r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := h.checkOrigin(r); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
