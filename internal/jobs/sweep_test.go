package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"hrcore.org/internal/obs"
)

type fakeSweeper struct {
	calls   atomic.Int32
	refresh int64
	reset   int64
	err     error
}

func (f *fakeSweeper) SweepExpired(ctx context.Context) (int64, int64, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, 0, errors.New("sweep context without deadline")
	}
	return f.refresh, f.reset, f.err
}

func TestSweepOnceCountsDeletedTokens(t *testing.T) {
	refreshBefore := testutil.ToFloat64(obs.TokensSwept.WithLabelValues("refresh"))
	resetBefore := testutil.ToFloat64(obs.TokensSwept.WithLabelValues("reset"))

	sw := &fakeSweeper{refresh: 3, reset: 2}
	if err := SweepOnce(t.Context(), sw, time.Second); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := testutil.ToFloat64(obs.TokensSwept.WithLabelValues("refresh")) - refreshBefore; got != 3 {
		t.Fatalf("refresh swept = %v, want 3", got)
	}
	if got := testutil.ToFloat64(obs.TokensSwept.WithLabelValues("reset")) - resetBefore; got != 2 {
		t.Fatalf("reset swept = %v, want 2", got)
	}
}

func TestSweepOnceReturnsStoreError(t *testing.T) {
	boom := errors.New("db down")
	sw := &fakeSweeper{err: boom}
	if err := SweepOnce(t.Context(), sw, 0); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestStartTokenSweepDisabled(t *testing.T) {
	sw := &fakeSweeper{}
	done := StartTokenSweep(t.Context(), sw, 0, time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweep should return a closed channel")
	}
	if sw.calls.Load() != 0 {
		t.Fatalf("disabled sweep ran %d times", sw.calls.Load())
	}
}

func TestStartTokenSweepRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	sw := &fakeSweeper{}
	done := StartTokenSweep(ctx, sw, 5*time.Millisecond, time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for sw.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sweep ran %d times before deadline", sw.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop after cancel")
	}
}
