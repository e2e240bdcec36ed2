// Package jobs hosts periodic background maintenance for the identity store.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hrcore.org/internal/obs"
)

const defaultSweepTimeout = 30 * time.Second

// Sweeper deletes expired refresh tokens and expired or consumed reset tokens.
type Sweeper interface {
	SweepExpired(ctx context.Context) (refresh, reset int64, err error)
}

// SweepOnce runs a single sweep bounded by timeout and records what was removed.
func SweepOnce(ctx context.Context, sweeper Sweeper, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultSweepTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	refresh, reset, err := sweeper.SweepExpired(runCtx)
	if err != nil {
		obs.Logger().Warn("token sweep failed", zap.Error(err))
		return err
	}
	obs.TokensSwept.WithLabelValues("refresh").Add(float64(refresh))
	obs.TokensSwept.WithLabelValues("reset").Add(float64(reset))
	if refresh > 0 || reset > 0 {
		obs.Logger().Info("token sweep",
			zap.Int64("refresh_deleted", refresh),
			zap.Int64("reset_deleted", reset),
		)
	}
	return nil
}

// StartTokenSweep runs SweepOnce every interval until ctx is cancelled.
// A non-positive interval disables the job. The returned channel closes once
// the loop has exited.
func StartTokenSweep(ctx context.Context, sweeper Sweeper, interval, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if sweeper == nil || interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = SweepOnce(ctx, sweeper, timeout)
			}
		}
	}()
	return done
}
