package session

import (
	"context"
	"sync"
	"time"

	"github.com/serenoapp/sereno/internal/store"
)

// Manager hands out one controller per user. Controllers are created lazily
// from persisted state and evicted after a period of inactivity.
type Manager struct {
	cfg  Config
	repo store.Repository
	llm  Completer

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager creates a controller manager.
func NewManager(cfg Config, repo store.Repository, llm Completer) *Manager {
	return &Manager{
		cfg:         cfg,
		repo:        repo,
		llm:         llm,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the user's controller, creating it from persisted state on
// first use.
func (m *Manager) Get(ctx context.Context, userID string) (*Controller, error) {
	m.mu.Lock()
	if c, ok := m.controllers[userID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	// Build outside the lock: loading replays the day's messages from the
	// store and may be slow.
	c, err := NewController(ctx, m.cfg, m.repo, m.llm, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.controllers[userID]; ok {
		// Lost the race; keep the first one so in-flight state survives.
		return existing, nil
	}
	m.controllers[userID] = c
	return c, nil
}

// Evict drops a user's controller, forcing a reload from persisted state on
// next contact. Used after a session reset.
func (m *Manager) Evict(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controllers, userID)
}

// EvictIdle drops controllers with no activity inside ttl. Idle controllers
// are always in StateIdle or wedged past the watchdog ceiling, so dropping
// them loses nothing that the store does not hold.
func (m *Manager) EvictIdle(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-ttl)
	for userID, c := range m.controllers {
		if c.LastActivity().Before(cutoff) {
			delete(m.controllers, userID)
			evicted++
		}
	}
	return evicted
}
