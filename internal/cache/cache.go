package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/observability/metrics"
	"marketfeed/internal/repository"
)

// Default bounds for the local tier.
const (
	DefaultMaxSize = 500
	DefaultMaxAge  = 7 * 24 * time.Hour
)

// ComputeFunc is the expensive analysis call. Callers wrap it in their own
// retry configuration before handing it to the cache.
type ComputeFunc func(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error)

// Config holds the cache configuration.
type Config struct {
	// Prefix namespaces local keys, mirroring how cache domains are kept
	// apart in a shared store.
	Prefix string

	// MaxSize bounds the local tier; exceeding it evicts entries in
	// ascending storedAt order.
	MaxSize int

	// MaxAge is the TTL applied to local entries.
	MaxAge time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:  "analysis",
		MaxSize: DefaultMaxSize,
		MaxAge:  DefaultMaxAge,
	}
}

// AnalysisCache guards the at-most-once expensive analysis computation with a
// two-tier read path: the durable shared repository first, the bounded local
// tier second, the expensive call last.
//
// Concurrent GetOrCompute calls for the same identity may each invoke the
// compute function before the durable write lands; the repository's
// uniqueness constraint is the final arbiter and the stored value wins.
type AnalysisCache struct {
	store   Store
	durable repository.AnalysisRepository
	cfg     Config
	logger  *slog.Logger

	mu  sync.Mutex // serializes set+evict so the size bound holds after every set
	now func() time.Time
}

// Option configures an AnalysisCache.
type Option func(*AnalysisCache)

// WithClock overrides the cache clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *AnalysisCache) { c.now = now }
}

// New creates an AnalysisCache over the given local store and durable
// repository. durable may be nil, in which case only the local tier is used.
func New(store Store, durable repository.AnalysisRepository, cfg Config, logger *slog.Logger, opts ...Option) *AnalysisCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "analysis"
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &AnalysisCache{
		store:   store,
		durable: durable,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the analysis result for the article, computing it at
// most once per identity under normal operation.
//
// Read path: durable repository, then fresh local entry, then computeFn.
// A computed result is written to the local tier always and to the durable
// tier best-effort; a durable uniqueness conflict yields the already-stored
// value. A cancelled computation never writes to either tier.
func (c *AnalysisCache) GetOrCompute(ctx context.Context, article *entity.Article, computeFn ComputeFunc) (*entity.AnalysisResult, error) {
	if article == nil || article.Identity == "" {
		return nil, &entity.ValidationError{Field: "identity", Message: "article identity is required"}
	}
	key := c.key(article.Identity)

	// Durable tier: cross-session persistence is authoritative. Read errors
	// degrade to the local tier rather than failing the request.
	if c.durable != nil {
		stored, err := c.durable.Get(ctx, article.Identity)
		switch {
		case err == nil:
			c.setLocal(Entry{Key: key, Value: stored, StoredAt: c.now(), TTL: c.cfg.MaxAge})
			metrics.RecordCacheHit("durable")
			return stored, nil
		case errors.Is(err, entity.ErrNotFound):
			// fall through
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			c.logger.Warn("durable store read failed, degrading to local tier",
				slog.String("identity", article.Identity),
				slog.Any("error", err))
		}
	}

	// Local tier: expired entries are treated as absent and evicted lazily.
	if entry, ok := c.store.Get(key); ok {
		if entry.expiredAt(c.now()) {
			c.store.Delete(key)
			metrics.RecordCacheEviction("ttl", 1)
		} else {
			metrics.RecordCacheHit("local")
			return entry.Value, nil
		}
	}

	result, err := computeFn(ctx, article)
	if err != nil {
		return nil, fmt.Errorf("compute analysis for %s: %w", article.Identity, err)
	}
	// A cancelled request must not race a partial write into either tier.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	metrics.RecordCacheHit("computed")

	c.setLocal(Entry{Key: key, Value: result, StoredAt: c.now(), TTL: c.cfg.MaxAge})

	// Durable persistence is a best-effort optimization; the computed result
	// is valid for the caller even when the write fails. On a uniqueness
	// conflict the repository returns the winner, which replaces ours.
	if c.durable != nil {
		stored, err := c.durable.InsertIfAbsent(context.WithoutCancel(ctx), article.Identity, result)
		if err != nil {
			c.logger.Warn("durable store write failed, returning computed result",
				slog.String("identity", article.Identity),
				slog.Any("error", err))
			return result, nil
		}
		if stored != result {
			c.setLocal(Entry{Key: key, Value: stored, StoredAt: c.now(), TTL: c.cfg.MaxAge})
		}
		return stored, nil
	}

	return result, nil
}

// Invalidate removes the local entry for an identity. The durable tier is
// untouched; durable deletion is an administrative action.
func (c *AnalysisCache) Invalidate(identity string) {
	c.store.Delete(c.key(identity))
	metrics.UpdateCacheEntries(c.store.Len())
}

// Len returns the current local-tier size.
func (c *AnalysisCache) Len() int {
	return c.store.Len()
}

// StartSweep launches the periodic sweep that proactively evicts expired
// local entries. The returned stop function cancels the sweep and is safe to
// call multiple times.
func (c *AnalysisCache) StartSweep(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// Sweep evicts all expired local entries and returns how many were removed.
func (c *AnalysisCache) Sweep() int {
	now := c.now()
	evicted := 0
	for _, entry := range c.store.ScanPrefix(c.cfg.Prefix + ":") {
		if entry.expiredAt(now) {
			c.store.Delete(entry.Key)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.RecordCacheEviction("ttl", evicted)
		c.logger.Debug("cache sweep evicted expired entries", slog.Int("evicted", evicted))
	}
	metrics.UpdateCacheEntries(c.store.Len())
	return evicted
}

// setLocal stores an entry and enforces the size bound, evicting entries in
// ascending storedAt order until the tier is at or below MaxSize.
func (c *AnalysisCache) setLocal(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Set(entry)

	if c.store.Len() > c.cfg.MaxSize {
		entries := c.store.ScanPrefix(c.cfg.Prefix + ":")
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].StoredAt.Before(entries[j].StoredAt)
		})
		evicted := 0
		for _, victim := range entries {
			if c.store.Len() <= c.cfg.MaxSize {
				break
			}
			c.store.Delete(victim.Key)
			evicted++
		}
		metrics.RecordCacheEviction("size", evicted)
	}
	metrics.UpdateCacheEntries(c.store.Len())
}

func (c *AnalysisCache) key(identity string) string {
	return c.cfg.Prefix + ":" + identity
}
