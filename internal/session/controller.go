// Package session implements the conversation session controller: message
// exchange, daily quota enforcement, reveal playback and analysis triggers.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/progress"
	"github.com/serenoapp/sereno/internal/prompt"
	"github.com/serenoapp/sereno/internal/store"
)

var (
	// ErrBusy means a send/receive/playback cycle is already in flight.
	// Rejected submissions are dropped, never queued.
	ErrBusy = errors.New("conversation busy")

	// ErrQuotaExceeded means the daily conversation cap is reached for a
	// non-moderator. Recoverable next calendar day.
	ErrQuotaExceeded = errors.New("daily conversation quota exceeded")

	// ErrEmptyMessage means the submitted text was blank.
	ErrEmptyMessage = errors.New("empty message")

	// ErrInterrupted means the watchdog force-idled the cycle before it
	// completed.
	ErrInterrupted = errors.New("conversation cycle interrupted")
)

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateSending
	StatePlayingBack
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StatePlayingBack:
		return "playing_back"
	default:
		return "idle"
	}
}

// Completer is the slice of the completion client the controller needs.
type Completer interface {
	Complete(ctx context.Context, transcript []*domain.Message, kind prompt.Kind, userContext string, totalConversations int) (string, error)
}

// Sink receives playback events during a submit cycle. Implementations must
// not block for long; callbacks run on the submitting goroutine.
type Sink interface {
	UserMessage(m domain.Message)
	AssistantChunk(id, partial string)
	AssistantDone(m domain.Message)
}

// Config controls conversation policy and playback pacing.
type Config struct {
	DailyCap                 int
	ExchangesPerConversation int
	ContextWindow            int
	RevealChunkSize          int
	RevealTick               time.Duration
	WatchdogTimeout          time.Duration
}

// Controller owns one user's in-memory conversation state. At most one
// send/receive/playback cycle may be in flight; concurrent submissions are
// rejected with ErrBusy.
type Controller struct {
	cfg  Config
	repo store.Repository
	llm  Completer
	now  func() time.Time

	mu                 sync.Mutex
	userID             string
	profileName        string
	profileAge         int
	moderator          bool
	totalConversations int

	sessionDate       string
	messages          []*domain.Message
	userMsgCount      int
	assistantMsgCount int
	analysisWatermark int

	state        State
	gen          uint64
	cancelSend   context.CancelFunc
	stopPlayback chan struct{}
	lastActivity time.Time
}

// NewController loads the user's profile and today's conversation window and
// returns a controller in the Idle state.
func NewController(ctx context.Context, cfg Config, repo store.Repository, llm Completer, userID string) (*Controller, error) {
	return newController(ctx, cfg, repo, llm, userID, time.Now)
}

func newController(ctx context.Context, cfg Config, repo store.Repository, llm Completer, userID string, now func() time.Time) (*Controller, error) {
	c := &Controller{
		cfg:          cfg,
		repo:         repo,
		llm:          llm,
		now:          now,
		userID:       userID,
		lastActivity: now(),
	}

	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		c.profileName = profile.Name
		c.profileAge = profile.Age
		c.moderator = profile.IsModerator
		c.totalConversations = profile.TotalSessions
	}

	c.sessionDate = domain.SessionDateOf(now())
	msgs, err := repo.MessagesForDay(ctx, userID, c.sessionDate)
	if err != nil {
		return nil, err
	}
	c.messages = msgs
	for _, m := range msgs {
		switch {
		case m.Role == domain.RoleUser:
			c.userMsgCount++
		case m.Content != "":
			c.assistantMsgCount++
		}
	}
	// Thresholds crossed before this process started must not re-fire.
	c.analysisWatermark = c.userMsgCount - c.userMsgCount%2

	return c, nil
}

// Submit runs one full exchange: append the user message, call the provider,
// play the reply back at the configured rate, persist both sides and update
// counters. It blocks until the cycle completes or fails.
func (c *Controller) Submit(ctx context.Context, text string, sink Sink) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	now := c.now()
	c.rolloverLocked(now)

	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.quotaLocked().Exhausted() {
		c.mu.Unlock()
		return nil, ErrQuotaExceeded
	}

	userMsg := &domain.Message{
		ID:          newMessageID(now),
		UserID:      c.userID,
		Role:        domain.RoleUser,
		Content:     text,
		SessionDate: c.sessionDate,
		CreatedAt:   now,
	}
	c.messages = append(c.messages, userMsg)
	c.userMsgCount++
	c.state = StateSending
	c.gen++
	gen := c.gen
	c.lastActivity = now

	sendCtx, cancel := context.WithCancel(ctx)
	c.cancelSend = cancel
	stop := make(chan struct{})
	c.stopPlayback = stop

	transcript := c.contextWindowLocked()
	userContext := prompt.UserContext(c.profileName, c.profileAge, c.totalConversations)
	total := c.totalConversations
	c.mu.Unlock()

	if sink != nil {
		sink.UserMessage(*userMsg)
	}

	// Liveness guard: a hung cycle must not wedge the controller. The
	// watchdog aborts the in-flight request and discards a late result.
	watchdog := time.AfterFunc(c.cfg.WatchdogTimeout, func() {
		c.forceIdle(gen)
	})
	defer watchdog.Stop()

	c.persistAsync(*userMsg)

	reply, err := c.llm.Complete(sendCtx, transcript, prompt.KindChat, userContext, total)
	cancel()
	if err != nil {
		if !c.rollbackSend(gen) {
			return nil, ErrInterrupted
		}
		return nil, err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateSending {
		c.mu.Unlock()
		return nil, ErrInterrupted
	}
	c.state = StatePlayingBack
	asstMsg := &domain.Message{
		ID:          newMessageID(c.now()),
		UserID:      c.userID,
		Role:        domain.RoleAssistant,
		SessionDate: c.sessionDate,
		CreatedAt:   c.now(),
	}
	c.messages = append(c.messages, asstMsg)
	c.mu.Unlock()

	if !c.playback(asstMsg, reply, stop, sink) {
		return nil, ErrInterrupted
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil, ErrInterrupted
	}
	asstMsg.Content = reply
	c.assistantMsgCount++
	c.totalConversations++
	c.state = StateIdle
	c.cancelSend = nil
	c.stopPlayback = nil
	c.lastActivity = c.now()
	final := *asstMsg
	total = c.totalConversations
	c.mu.Unlock()

	c.persistAsync(final)
	c.recordProgressAsync(total)

	if sink != nil {
		sink.AssistantDone(final)
	}
	return &final, nil
}

// playback reveals the reply on the shared message at a fixed chunk/tick
// rate. Returns false if the watchdog closed the stop channel first.
func (c *Controller) playback(m *domain.Message, full string, stop <-chan struct{}, sink Sink) bool {
	runes := []rune(full)
	ticker := time.NewTicker(c.cfg.RevealTick)
	defer ticker.Stop()

	for pos := 0; pos < len(runes); {
		select {
		case <-stop:
			return false
		case <-ticker.C:
			pos += c.cfg.RevealChunkSize
			if pos > len(runes) {
				pos = len(runes)
			}
			partial := string(runes[:pos])
			c.mu.Lock()
			m.Content = partial
			c.mu.Unlock()
			if sink != nil {
				sink.AssistantChunk(m.ID, partial)
			}
		}
	}
	return true
}

// rollbackSend undoes the optimistic quota increment after a failed send.
// The user message itself stays visible so the text is not lost. Returns
// false when the watchdog already handled this generation.
func (c *Controller) rollbackSend(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateSending {
		return false
	}
	c.userMsgCount--
	c.state = StateIdle
	c.cancelSend = nil
	c.stopPlayback = nil
	return true
}

// forceIdle is the watchdog path: cancel whatever is in flight, clear the
// busy state and bump the generation so late results are discarded.
func (c *Controller) forceIdle(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	state := c.state
	cancel := c.cancelSend
	stop := c.stopPlayback
	if state == StateSending {
		c.userMsgCount--
	}
	c.state = StateIdle
	c.cancelSend = nil
	c.stopPlayback = nil
	c.gen++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stop != nil {
		close(stop)
	}
	slog.Warn("watchdog force-idled conversation cycle",
		"user_id", c.userID, "state", state.String(), "timeout", c.cfg.WatchdogTimeout)
}

// rolloverLocked resets the conversation window when the calendar day
// changes. Quota windows are calendar days, not rolling 24h.
func (c *Controller) rolloverLocked(now time.Time) {
	date := domain.SessionDateOf(now)
	if date == c.sessionDate {
		return
	}
	c.sessionDate = date
	c.messages = nil
	c.userMsgCount = 0
	c.assistantMsgCount = 0
	c.analysisWatermark = 0
}

func (c *Controller) contextWindowLocked() []*domain.Message {
	msgs := c.messages
	if len(msgs) > c.cfg.ContextWindow {
		msgs = msgs[len(msgs)-c.cfg.ContextWindow:]
	}
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		copied := *m
		out = append(out, &copied)
	}
	return out
}

func (c *Controller) quotaLocked() domain.QuotaState {
	exchanges := c.userMsgCount
	if c.assistantMsgCount < exchanges {
		exchanges = c.assistantMsgCount
	}
	convs := exchanges / c.cfg.ExchangesPerConversation
	if convs > c.cfg.DailyCap {
		convs = c.cfg.DailyCap
	}
	return domain.QuotaState{
		ConversationsToday: convs,
		DailyCap:           c.cfg.DailyCap,
		UserMessageCount:   c.userMsgCount,
		Exempt:             c.moderator,
	}
}

// Quota returns the current daily quota state.
func (c *Controller) Quota() domain.QuotaState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked(c.now())
	return c.quotaLocked()
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of today's conversation window.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked(c.now())
	out := make([]domain.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, *m)
	}
	return out
}

// RecentUserTexts returns up to n of the most recent user message texts,
// oldest first, for mood classification.
func (c *Controller) RecentUserTexts(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var texts []string
	for _, m := range c.messages {
		if m.Role == domain.RoleUser {
			texts = append(texts, m.Content)
		}
	}
	if len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	return texts
}

// TotalConversations returns the lifetime conversation count.
func (c *Controller) TotalConversations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalConversations
}

// LastActivity reports when the controller last did useful work, for idle
// eviction.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// AnalysisDue reports, without consuming the trigger, whether an analysis
// threshold is pending: an even user-message count (2, 4, 6, ...) above the
// watermark, with at least one non-empty assistant reply.
func (c *Controller) AnalysisDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analysisDueLocked()
}

// ShouldTriggerAnalysis consumes a pending analysis trigger. The watermark is
// monotonic: the same threshold never fires twice.
func (c *Controller) ShouldTriggerAnalysis() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.analysisDueLocked() {
		return false
	}
	c.analysisWatermark = c.userMsgCount
	return true
}

func (c *Controller) analysisDueLocked() bool {
	n := c.userMsgCount
	if n < 2 || n%2 != 0 {
		return false
	}
	if c.assistantMsgCount == 0 {
		return false
	}
	return n > c.analysisWatermark
}

// persistAsync mirrors a message to the row store without blocking the
// conversation. Persistence failures are logged and swallowed: the user's
// visible flow never depends on the durable copy.
func (c *Controller) persistAsync(m domain.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.repo.InsertMessage(ctx, &m); err != nil {
			slog.Error("failed to persist message",
				"user_id", c.userID, "message_id", m.ID, "role", m.Role, "error", err)
		}
	}()
}

// recordProgressAsync bumps the lifetime session counter and streak after a
// completed exchange.
func (c *Controller) recordProgressAsync(totalConversations int) {
	userID := c.userID
	date := c.sessionDate
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		profile, err := c.repo.GetProfile(ctx, userID)
		if err != nil || profile == nil {
			slog.Error("failed to load profile for progress update", "user_id", userID, "error", err)
			return
		}
		profile.TotalSessions = totalConversations
		progress.TouchDay(profile, date)
		if err := c.repo.UpsertProfile(ctx, profile); err != nil {
			slog.Error("failed to persist progress update", "user_id", userID, "error", err)
		}
	}()
}

func newMessageID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
