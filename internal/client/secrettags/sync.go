package secrettags

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSyncInterval is how often StartAutoSync refreshes the cache.
const DefaultSyncInterval = time.Minute

// SyncOnce refreshes the cache from the server.
func (s *Service) SyncOnce(ctx context.Context) error {
	res, err := s.cache.SyncWithServer(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug("sync finished",
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed),
		zap.Int("updated", res.Updated))
	return nil
}

// StartAutoSync refreshes the cache every interval while the cache keeps
// secret tags on disk. Failures are logged and retried on the next tick.
// It stops when ctx is done; the returned channel is closed on exit.
func (s *Service) StartAutoSync(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.cache.Mode().PersistsSecretTags() {
					continue
				}
				if err := s.SyncOnce(ctx); err != nil {
					s.logger.Warn("sync error", zap.Error(err))
				}
			}
		}
	}()
	return done
}
