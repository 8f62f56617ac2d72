package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubProber struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (p *stubProber) CheckHealth(ctx context.Context) error {
	p.calls.Add(1)
	if p.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestMonitor_ReportsAvailability(t *testing.T) {
	prober := &stubProber{}
	m := NewMonitor(prober, 20*time.Millisecond, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, m.IsAvailable)
}

func TestMonitor_ReportsUnavailability(t *testing.T) {
	prober := &stubProber{}
	prober.fail.Store(true)
	m := NewMonitor(prober, 20*time.Millisecond, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return prober.calls.Load() >= 2 })
	if m.IsAvailable() {
		t.Error("expected unavailable after failing probes")
	}
}

func TestMonitor_RecoversAfterFailure(t *testing.T) {
	prober := &stubProber{}
	prober.fail.Store(true)
	m := NewMonitor(prober, 20*time.Millisecond, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return prober.calls.Load() >= 2 })
	prober.fail.Store(false)
	waitFor(t, time.Second, m.IsAvailable)
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	prober := &stubProber{}
	m := NewMonitor(prober, 10*time.Millisecond, nil)
	m.Start(context.Background())
	m.Stop()
	m.Stop()

	calls := prober.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := prober.calls.Load(); got != calls {
		t.Errorf("probe loop still running after Stop: %d -> %d calls", calls, got)
	}
}

func TestMonitor_StartTwiceIsNoOp(t *testing.T) {
	prober := &stubProber{}
	m := NewMonitor(prober, time.Hour, nil)
	m.Start(context.Background())
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return prober.calls.Load() >= 1 })
	// Only the immediate probe of the single loop should have run.
	time.Sleep(30 * time.Millisecond)
	if got := prober.calls.Load(); got != 1 {
		t.Errorf("expected 1 probe, got %d", got)
	}
}
