package session

import (
	"context"
	"log/slog"
	"time"
)

// StartEvictionWorker periodically drops idle controllers until ctx is
// cancelled. Sweep interval is a fraction of the TTL so eviction lag stays
// small relative to the window.
func StartEvictionWorker(ctx context.Context, m *Manager, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.EvictIdle(ttl); n > 0 {
					slog.Info("evicted idle conversation controllers", "count", n, "ttl", ttl)
				}
			}
		}
	}()
}
