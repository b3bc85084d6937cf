package session

import (
	"context"
	"log/slog"
	"time"
)

// StartTTLWorker runs a background goroutine that periodically removes
// sessions idle for longer than ttl. It stops when ctx is canceled.
func StartTTLWorker(ctx context.Context, store *Store, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		slog.Info("Session TTL worker disabled", "ttl", ttl, "interval", interval)
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if removed := store.ExpireIdle(ttl); removed > 0 {
					slog.Info("Session TTL worker expired idle sessions", "count", removed, "remaining", store.Len())
				}
			case <-ctx.Done():
				slog.Info("Session TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
