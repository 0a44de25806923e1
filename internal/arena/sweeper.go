package arena

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/storage"
)

// DefaultSweepInterval is how often issued battles are checked for
// expiry.
const DefaultSweepInterval = 30 * time.Second

// RunSweeper expires overdue ISSUED battles on a fixed cadence until
// ctx is cancelled. Errors are logged and the loop keeps going; the
// next tick retries naturally.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.SweepExpired(ctx); err != nil {
				s.logger.Warn("battle sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("expired overdue battles", zap.Int64("count", n))
			}
		}
	}
}

// SweepExpired runs one sweep pass under the writer discipline.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.ExpireBattlesBefore(ctx, time.Now().UTC())
		return err
	})
	return n, err
}
