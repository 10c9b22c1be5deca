package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/prompt"
	"github.com/serenoapp/sereno/internal/store"
)

type fakeCompleter struct {
	fn func(ctx context.Context, transcript []*domain.Message) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, transcript []*domain.Message, _ prompt.Kind, _ string, _ int) (string, error) {
	return f.fn(ctx, transcript)
}

func staticCompleter(reply string) *fakeCompleter {
	return &fakeCompleter{fn: func(context.Context, []*domain.Message) (string, error) {
		return reply, nil
	}}
}

type recordingSink struct {
	mu       sync.Mutex
	userMsgs []domain.Message
	chunks   []string
	done     []domain.Message
}

func (s *recordingSink) UserMessage(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userMsgs = append(s.userMsgs, m)
}

func (s *recordingSink) AssistantChunk(_ string, partial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, partial)
}

func (s *recordingSink) AssistantDone(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, m)
}

func testConfig() Config {
	return Config{
		DailyCap:                 3,
		ExchangesPerConversation: 3,
		ContextWindow:            10,
		RevealChunkSize:          64,
		RevealTick:               time.Millisecond,
		WatchdogTimeout:          5 * time.Second,
	}
}

func newTestController(t *testing.T, cfg Config, repo store.Repository, llm Completer) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), cfg, repo, llm, "user-1")
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestControllerSubmit(t *testing.T) {
	repo := store.NewMemory()
	ctrl := newTestController(t, testConfig(), repo, staticCompleter("hola, ¿cómo estás hoy?"))

	reply, err := ctrl.Submit(context.Background(), "  hola  ", nil)
	if err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if reply.Content != "hola, ¿cómo estás hoy?" {
		t.Errorf("expected full reply content, got %q", reply.Content)
	}
	if reply.Role != domain.RoleAssistant {
		t.Errorf("expected assistant role, got %q", reply.Role)
	}

	if got := ctrl.State(); got != StateIdle {
		t.Errorf("expected idle state after submit, got %s", got)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in window, got %d", len(msgs))
	}
	if msgs[0].Content != "hola" {
		t.Errorf("expected trimmed user message, got %q", msgs[0].Content)
	}

	quota := ctrl.Quota()
	if quota.UserMessageCount != 1 {
		t.Errorf("expected user message count 1, got %d", quota.UserMessageCount)
	}
	if quota.ConversationsToday != 0 {
		t.Errorf("expected 0 conversations after 1 exchange, got %d", quota.ConversationsToday)
	}

	// Both sides are persisted asynchronously.
	waitFor(t, time.Second, func() bool { return repo.MessageCount() == 2 })
}

func TestControllerSubmitEmptyMessage(t *testing.T) {
	ctrl := newTestController(t, testConfig(), store.NewMemory(), staticCompleter("hola"))

	if _, err := ctrl.Submit(context.Background(), "   \n\t ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestControllerRejectsConcurrentSubmit(t *testing.T) {
	release := make(chan struct{})
	blocking := &fakeCompleter{fn: func(context.Context, []*domain.Message) (string, error) {
		<-release
		return "listo", nil
	}}
	ctrl := newTestController(t, testConfig(), store.NewMemory(), blocking)

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.Submit(context.Background(), "primero", nil)
		errCh <- err
	}()

	waitFor(t, time.Second, func() bool { return ctrl.State() == StateSending })

	if _, err := ctrl.Submit(context.Background(), "segundo", nil); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy for concurrent submit, got %v", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Errorf("expected first submit to succeed, got %v", err)
	}

	// Exactly one exchange happened: the rejected submit left no trace.
	if got := ctrl.Quota().UserMessageCount; got != 1 {
		t.Errorf("expected user message count 1, got %d", got)
	}
	if got := len(ctrl.Messages()); got != 2 {
		t.Errorf("expected 2 messages, got %d", got)
	}
}

func TestControllerDailyQuota(t *testing.T) {
	cfg := testConfig()
	cfg.DailyCap = 1
	cfg.ExchangesPerConversation = 2
	ctrl := newTestController(t, cfg, store.NewMemory(), staticCompleter("claro"))

	for i := 0; i < 2; i++ {
		if _, err := ctrl.Submit(context.Background(), "hola", nil); err != nil {
			t.Fatalf("expected exchange %d to succeed, got %v", i+1, err)
		}
	}

	quota := ctrl.Quota()
	if quota.ConversationsToday != 1 {
		t.Errorf("expected 1 conversation today, got %d", quota.ConversationsToday)
	}
	if !quota.Exhausted() {
		t.Error("expected quota to be exhausted at the daily cap")
	}

	if _, err := ctrl.Submit(context.Background(), "otra vez", nil); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestControllerPartialExchangeDoesNotCount(t *testing.T) {
	cfg := testConfig()
	cfg.DailyCap = 1
	cfg.ExchangesPerConversation = 3
	ctrl := newTestController(t, cfg, store.NewMemory(), staticCompleter("sí"))

	for i := 0; i < 2; i++ {
		if _, err := ctrl.Submit(context.Background(), "hola", nil); err != nil {
			t.Fatalf("expected exchange %d to succeed, got %v", i+1, err)
		}
	}

	// Two of three exchanges done: still zero completed conversations.
	quota := ctrl.Quota()
	if quota.ConversationsToday != 0 {
		t.Errorf("expected 0 conversations for a partial trailing exchange, got %d", quota.ConversationsToday)
	}
	if quota.Exhausted() {
		t.Error("expected quota not to be exhausted")
	}
}

func TestControllerModeratorExempt(t *testing.T) {
	repo := store.NewMemory()
	if err := repo.UpsertProfile(context.Background(), &domain.UserProfile{
		UserID:      "user-1",
		Name:        "mod",
		IsModerator: true,
	}); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	cfg := testConfig()
	cfg.DailyCap = 1
	cfg.ExchangesPerConversation = 1
	ctrl := newTestController(t, cfg, repo, staticCompleter("ok"))

	for i := 0; i < 4; i++ {
		if _, err := ctrl.Submit(context.Background(), "hola", nil); err != nil {
			t.Fatalf("expected moderator submit %d to succeed, got %v", i+1, err)
		}
	}

	quota := ctrl.Quota()
	if !quota.Exempt {
		t.Error("expected moderator quota to be exempt")
	}
	if quota.Exhausted() {
		t.Error("expected moderator quota never to exhaust")
	}
}

func TestControllerRollbackOnProviderError(t *testing.T) {
	providerErr := errors.New("provider unavailable")
	failing := &fakeCompleter{fn: func(context.Context, []*domain.Message) (string, error) {
		return "", providerErr
	}}
	ctrl := newTestController(t, testConfig(), store.NewMemory(), failing)

	if _, err := ctrl.Submit(context.Background(), "hola", nil); !errors.Is(err, providerErr) {
		t.Fatalf("expected provider error, got %v", err)
	}

	// Quota is rolled back but the user's text stays visible.
	if got := ctrl.Quota().UserMessageCount; got != 0 {
		t.Errorf("expected user message count rolled back to 0, got %d", got)
	}
	msgs := ctrl.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hola" {
		t.Fatalf("expected the user message to remain visible, got %v", msgs)
	}
	if got := ctrl.State(); got != StateIdle {
		t.Errorf("expected idle state after failure, got %s", got)
	}
}

func TestControllerWatchdogForceIdle(t *testing.T) {
	hung := &fakeCompleter{fn: func(ctx context.Context, _ []*domain.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	cfg := testConfig()
	cfg.WatchdogTimeout = 25 * time.Millisecond
	ctrl := newTestController(t, cfg, store.NewMemory(), hung)

	if _, err := ctrl.Submit(context.Background(), "hola", nil); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted from the watchdog, got %v", err)
	}

	if got := ctrl.State(); got != StateIdle {
		t.Errorf("expected idle state after watchdog, got %s", got)
	}
	if got := ctrl.Quota().UserMessageCount; got != 0 {
		t.Errorf("expected user message count rolled back to 0, got %d", got)
	}

	// The controller accepts new submissions afterwards.
	ctrl.llm = staticCompleter("de vuelta")
	reply, err := ctrl.Submit(context.Background(), "sigues ahí?", nil)
	if err != nil {
		t.Fatalf("expected submit after watchdog to succeed, got %v", err)
	}
	if reply.Content != "de vuelta" {
		t.Errorf("expected reply content %q, got %q", "de vuelta", reply.Content)
	}
}

func TestControllerPlaybackChunks(t *testing.T) {
	cfg := testConfig()
	cfg.RevealChunkSize = 2
	ctrl := newTestController(t, cfg, store.NewMemory(), staticCompleter("abcdef"))

	sink := &recordingSink{}
	reply, err := ctrl.Submit(context.Background(), "hola", sink)
	if err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if reply.Content != "abcdef" {
		t.Errorf("expected full reply, got %q", reply.Content)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.userMsgs) != 1 || sink.userMsgs[0].Content != "hola" {
		t.Errorf("expected one user message event, got %v", sink.userMsgs)
	}

	wantChunks := []string{"ab", "abcd", "abcdef"}
	if len(sink.chunks) != len(wantChunks) {
		t.Fatalf("expected %d chunks, got %d: %v", len(wantChunks), len(sink.chunks), sink.chunks)
	}
	for i, want := range wantChunks {
		if sink.chunks[i] != want {
			t.Errorf("chunk %d: expected %q, got %q", i, want, sink.chunks[i])
		}
	}

	if len(sink.done) != 1 || sink.done[0].Content != "abcdef" {
		t.Errorf("expected one done event with full content, got %v", sink.done)
	}
}

func TestControllerAnalysisTrigger(t *testing.T) {
	ctrl := newTestController(t, testConfig(), store.NewMemory(), staticCompleter("entiendo"))

	submit := func() {
		t.Helper()
		if _, err := ctrl.Submit(context.Background(), "hola", nil); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	submit()
	if ctrl.AnalysisDue() {
		t.Error("expected no analysis due after 1 exchange")
	}

	submit()
	if !ctrl.AnalysisDue() {
		t.Error("expected analysis due after 2 exchanges")
	}
	if !ctrl.ShouldTriggerAnalysis() {
		t.Error("expected trigger to fire at the 2-message threshold")
	}
	if ctrl.ShouldTriggerAnalysis() {
		t.Error("expected the same threshold not to fire twice")
	}

	submit()
	if ctrl.AnalysisDue() {
		t.Error("expected no analysis due at an odd message count")
	}

	submit()
	if !ctrl.ShouldTriggerAnalysis() {
		t.Error("expected trigger to fire at the 4-message threshold")
	}
}

func TestControllerAnalysisWatermarkSurvivesReload(t *testing.T) {
	repo := store.NewMemory()
	now := time.Now()
	day := domain.SessionDateOf(now)
	seed := []domain.Message{
		{ID: "m1", UserID: "user-1", Role: domain.RoleUser, Content: "hola", SessionDate: day, CreatedAt: now.Add(-4 * time.Minute)},
		{ID: "m2", UserID: "user-1", Role: domain.RoleAssistant, Content: "hola!", SessionDate: day, CreatedAt: now.Add(-3 * time.Minute)},
		{ID: "m3", UserID: "user-1", Role: domain.RoleUser, Content: "bien", SessionDate: day, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "m4", UserID: "user-1", Role: domain.RoleAssistant, Content: "me alegro", SessionDate: day, CreatedAt: now.Add(-time.Minute)},
	}
	for i := range seed {
		if err := repo.InsertMessage(context.Background(), &seed[i]); err != nil {
			t.Fatalf("failed to seed message: %v", err)
		}
	}

	ctrl := newTestController(t, testConfig(), repo, staticCompleter("sigo aquí"))

	// Thresholds crossed before the reload must not re-fire.
	if ctrl.AnalysisDue() {
		t.Error("expected no analysis due right after reload")
	}

	for i := 0; i < 2; i++ {
		if _, err := ctrl.Submit(context.Background(), "hola de nuevo", nil); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if !ctrl.AnalysisDue() {
		t.Error("expected analysis due after crossing a new threshold")
	}
}

func TestControllerContextWindow(t *testing.T) {
	var lastTranscript int
	capture := &fakeCompleter{fn: func(_ context.Context, transcript []*domain.Message) (string, error) {
		lastTranscript = len(transcript)
		return "ok", nil
	}}
	cfg := testConfig()
	cfg.ContextWindow = 3
	ctrl := newTestController(t, cfg, store.NewMemory(), capture)

	for i := 0; i < 4; i++ {
		if _, err := ctrl.Submit(context.Background(), "hola", nil); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	if lastTranscript != 3 {
		t.Errorf("expected transcript capped at 3 messages, got %d", lastTranscript)
	}
}

func TestManagerGetAndEvict(t *testing.T) {
	m := NewManager(testConfig(), store.NewMemory(), staticCompleter("hola"))

	a, err := m.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("failed to get controller: %v", err)
	}
	b, err := m.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("failed to get controller: %v", err)
	}
	if a != b {
		t.Error("expected the same controller instance per user")
	}

	m.Evict("user-1")
	c, err := m.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("failed to get controller after evict: %v", err)
	}
	if c == a {
		t.Error("expected a fresh controller after eviction")
	}
}

func TestManagerEvictIdle(t *testing.T) {
	m := NewManager(testConfig(), store.NewMemory(), staticCompleter("hola"))

	if _, err := m.Get(context.Background(), "user-1"); err != nil {
		t.Fatalf("failed to get controller: %v", err)
	}

	if evicted := m.EvictIdle(time.Hour); evicted != 0 {
		t.Errorf("expected no evictions for a fresh controller, got %d", evicted)
	}

	time.Sleep(5 * time.Millisecond)
	if evicted := m.EvictIdle(time.Millisecond); evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
}
