// Package health implements the periodic liveness probe of the upstream
// service. The result is an advisory signal only: consumers read it to decide
// whether to trust push delivery, but nothing blocks on it.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketfeed/internal/observability/metrics"
	"marketfeed/internal/resilience/retry"
)

// DefaultCheckInterval is the default probe period.
const DefaultCheckInterval = 30 * time.Second

// Prober checks the upstream status endpoint once.
type Prober interface {
	CheckHealth(ctx context.Context) error
}

// Monitor periodically probes the upstream service and stores the last known
// availability. Safe for concurrent use.
type Monitor struct {
	prober   Prober
	interval time.Duration
	retryCfg retry.Config
	logger   *slog.Logger

	mu        sync.Mutex
	available bool
	checking  bool
	stop      func()
}

// NewMonitor creates a Monitor. interval <= 0 selects the default.
func NewMonitor(prober Prober, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		retryCfg: retry.Config{Attempts: 2, Delay: time.Second},
		logger:   logger,
	}
}

// Start launches the probe loop. It probes immediately, then on every
// interval tick until the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	m.mu.Unlock()

	go m.loop(loopCtx)
}

// Stop terminates the probe loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// IsAvailable returns the last known upstream availability.
func (m *Monitor) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// IsChecking reports whether a probe is currently in flight.
func (m *Monitor) IsChecking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checking
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// check runs one probe through the retry executor and records the result.
func (m *Monitor) check(ctx context.Context) {
	m.mu.Lock()
	m.checking = true
	m.mu.Unlock()

	_, err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) (struct{}, error) {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return struct{}{}, m.prober.CheckHealth(probeCtx)
	})

	available := err == nil
	m.mu.Lock()
	previous := m.available
	m.available = available
	m.checking = false
	m.mu.Unlock()

	metrics.RecordUpstreamAvailability(available)
	if available != previous {
		m.logger.Info("upstream availability changed",
			slog.Bool("available", available),
			slog.Any("error", err))
	}
}
