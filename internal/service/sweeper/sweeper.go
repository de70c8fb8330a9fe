// internal/service/sweeper/sweeper.go
package sweeper

import (
	"context"
	"time"

	"paywall-service/internal/pkg/clock"

	"go.uber.org/zap"
)

type PendingExpirer interface {
	ExpirePendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper expires pending transactions whose checkout was abandoned:
// no webhook arrived within the TTL. Expired rows stay behind as
// tombstones so a late webhook is audited instead of applied.
type Sweeper struct {
	pending  PendingExpirer
	ttl      time.Duration
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

func New(pending PendingExpirer, ttl, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Sweeper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{pending: pending, ttl: ttl, interval: interval, clock: clk, logger: logger}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("pending transaction sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires one batch and returns how many rows were swept.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.ttl)
	n, err := s.pending.ExpirePendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale pending transactions",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}
