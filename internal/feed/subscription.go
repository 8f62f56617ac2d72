package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/observability/metrics"
)

const (
	// DefaultPollInterval is how often the poll ticker fires.
	DefaultPollInterval = 60 * time.Second

	// DefaultFreshWindow is how recently a push event must have arrived for
	// a poll tick to be skipped. Two poll intervals, so one late push does
	// not immediately trigger a redundant bulk fetch.
	DefaultFreshWindow = 2 * DefaultPollInterval
)

// Subscription runs the dual delivery paths: push events forwarded one by
// one, and a poll ticker that bulk-fetches whenever push cannot be trusted.
// Both paths feed the same Sink, which is responsible for reconciliation.
type Subscription struct {
	sink    Sink
	fetcher BulkFetcher
	push    PushChannel
	logger  *slog.Logger

	pollInterval time.Duration
	freshWindow  time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    SubscriptionState
	lastPush time.Time
	started  bool
	cancel   context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// SubscriptionOption customizes a Subscription.
type SubscriptionOption func(*Subscription)

// WithPollInterval overrides the poll ticker period.
func WithPollInterval(d time.Duration) SubscriptionOption {
	return func(s *Subscription) { s.pollInterval = d }
}

// WithFreshWindow overrides how long a push event keeps polling dormant.
func WithFreshWindow(d time.Duration) SubscriptionOption {
	return func(s *Subscription) { s.freshWindow = d }
}

// WithSubscriptionClock overrides the time source. Test use.
func WithSubscriptionClock(now func() time.Time) SubscriptionOption {
	return func(s *Subscription) { s.now = now }
}

// NewSubscription builds a Subscription. push may be nil, in which case the
// feed runs on polling alone.
func NewSubscription(sink Sink, fetcher BulkFetcher, push PushChannel, logger *slog.Logger, opts ...SubscriptionOption) *Subscription {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscription{
		sink:         sink,
		fetcher:      fetcher,
		push:         push,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		freshWindow:  DefaultFreshWindow,
		now:          time.Now,
		state:        StateDisconnected,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs the initial bulk load, opens the push channel and launches
// the poll loop. Calling Start more than once is a no-op.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	// Initial load so subscribers see data before the first tick.
	if err := s.pollOnce(ctx, false); err != nil {
		s.logger.Warn("initial bulk load failed, poll loop will retry",
			slog.String("error", err.Error()))
	}

	if s.push != nil {
		s.setState(StateConnecting, nil)
		err := s.push.Open(ctx, s.handleEvent, s.setState)
		if err != nil {
			// Push is an optimization. Polling carries the feed.
			s.setState(StateError, err)
			s.logger.Warn("push channel unavailable, relying on polling",
				slog.String("error", err.Error()))
		}
	}

	go s.pollLoop(ctx)
	return nil
}

// State returns the current push channel state.
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close stops the poll loop and the push channel. Idempotent; returns after
// the poll goroutine has exited.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if s.push != nil {
			if err := s.push.Close(); err != nil {
				s.logger.Warn("push channel close failed", slog.String("error", err.Error()))
			}
		}
		if started {
			<-s.done
		} else {
			close(s.done)
		}
		s.setState(StateDisconnected, nil)
	})
	return nil
}

// handleEvent forwards one push event to the sink as a single-article batch.
func (s *Subscription) handleEvent(ev Event) {
	s.mu.Lock()
	s.lastPush = s.now()
	s.mu.Unlock()

	metrics.RecordPushEvent(string(ev.Type))
	s.sink.IngestBatch([]entity.RawArticle{ev.Article}, entity.OriginPush)
}

// setState records a push channel state transition. Used as the PushChannel
// status callback.
func (s *Subscription) setState(state SubscriptionState, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	metrics.RecordSubscriptionState(state.String(), AllStateNames())
	if prev != state {
		attrs := []any{
			slog.String("from", prev.String()),
			slog.String("to", state.String()),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.Info("subscription state changed", attrs...)
	}
}

// pollLoop runs the unconditional ticker until ctx is cancelled.
func (s *Subscription) pollLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.pushIsFresh() {
				metrics.RecordPollCycle("skipped")
				continue
			}
			if err := s.pollOnce(ctx, false); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("poll cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// pushIsFresh reports whether the push channel is subscribed and has
// delivered an event within the fresh window.
func (s *Subscription) pushIsFresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSubscribed &&
		!s.lastPush.IsZero() &&
		s.now().Sub(s.lastPush) < s.freshWindow
}

// pollOnce performs one bulk fetch and forwards the result as a POLL batch.
func (s *Subscription) pollOnce(ctx context.Context, fresh bool) error {
	articles, err := s.fetcher.FetchArticles(ctx, fresh)
	if err != nil {
		metrics.RecordPollCycle("failed")
		return err
	}
	metrics.RecordPollCycle("fetched")
	s.sink.IngestBatch(articles, entity.OriginPoll)
	return nil
}

// Refresh forces an immediate bulk fetch bypassing upstream caches. Used by
// the scheduled daily full refresh.
func (s *Subscription) Refresh(ctx context.Context) error {
	return s.pollOnce(ctx, true)
}
