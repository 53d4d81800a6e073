package auth

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired refresh token rows. It runs on its
// own timer, fully decoupled from request handling; a failed sweep is logged
// and retried on the next tick.
type Sweeper struct {
	ledger   *RefreshTokenLedger
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a Sweeper over the given ledger.
func NewSweeper(ledger *RefreshTokenLedger, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		log:      log,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Intended to be launched as a goroutine from main.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("refresh token sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. Exposed so tests and operators can
// trigger a sweep deterministically instead of waiting on the timer.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	removed, err := s.ledger.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.log.Info("swept expired refresh tokens", "removed", removed)
	}
	return nil
}
