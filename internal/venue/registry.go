package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orbitcex/exchange-core/internal/metrics"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// Registry is the static venue-name -> adapter mapping, plus the
// degraded-tracking and staleness bookkeeping layered on top of a
// plain map.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	degraded map[string]time.Time // venue -> when it was marked degraded
	limiter  *RateLimiter
	cache    *redis.Client // cross-instance book snapshot cache
	freshness time.Duration
	logger   *zap.Logger
}

func NewRegistry(limiter *RateLimiter, cache *redis.Client, freshness time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		adapters:  make(map[string]Adapter),
		degraded:  make(map[string]time.Time),
		limiter:   limiter,
		cache:     cache,
		freshness: freshness,
		logger:    logger,
	}
}

// Register adds an adapter to the registry under its own Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a venue name, or NotFound.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "venue %q not registered", name)
	}
	return a, nil
}

// Active returns every registered venue name that is not currently
// degraded, in no particular order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		if _, bad := r.degraded[name]; !bad {
			names = append(names, name)
		}
	}
	return names
}

// MarkDegraded excludes a venue from aggregation until Probe recovers it.
func (r *Registry) MarkDegraded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, already := r.degraded[name]; !already {
		r.logger.Warn("venue marked degraded", zap.String("venue", name))
		metrics.VenueDegradedTotal.WithLabelValues(name).Inc()
	}
	r.degraded[name] = time.Now()
}

// IsDegraded reports whether a venue is currently excluded.
func (r *Registry) IsDegraded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, bad := r.degraded[name]
	return bad
}

// Probe attempts a lightweight SnapshotBook call against a degraded
// venue's first supported market; success clears the degraded mark.
func (r *Registry) Probe(ctx context.Context, name, symbol string) error {
	a, err := r.Get(name)
	if err != nil {
		return err
	}
	markets := a.SupportedMarkets()
	if len(markets) == 0 {
		return errors.New(errors.KindValidationFailed, "venue %q supports no markets", name)
	}
	if _, err := a.SnapshotBook(ctx, symbol, markets[0]); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.degraded, name)
	r.mu.Unlock()
	r.logger.Info("venue recovered from degraded", zap.String("venue", name))
	return nil
}

// FetchBook calls a venue's SnapshotBook, enforcing the venue's rate
// limit, retrying transient errors with backoff+jitter, marking the
// venue degraded once the budget is exhausted, and caching the result
// in Redis for other instances to read without another round trip.
// It also stamps latency_ms and the freshness-bound stale flag.
func (r *Registry) FetchBook(ctx context.Context, name, symbol string, market MarketKind) (*Book, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if r.IsDegraded(name) {
		return nil, errors.New(errors.KindVenueDegraded, "venue %q is degraded", name)
	}

	bo := DefaultBackoff()
	var lastErr error
	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			allowed, lerr := r.limiter.Allow(ctx, name)
			if lerr == nil && !allowed {
				return nil, errors.New(errors.KindRateLimited, "venue %q rate limit exhausted", name)
			}
		}

		start := time.Now()
		book, err := a.SnapshotBook(ctx, symbol, market)
		if err == nil {
			book.LatencyMs = time.Since(start).Milliseconds()
			book.Stale = time.Since(book.Ts) > r.freshness
			r.cacheBook(ctx, book)
			return book, nil
		}
		lastErr = err
		if bo.Exhausted(attempt) {
			r.MarkDegraded(name)
			return nil, errors.Wrap(errors.KindVenueDegraded, lastErr, "venue %q exhausted retries", name)
		}
		select {
		case <-time.After(bo.Delay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) cacheBook(ctx context.Context, b *Book) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	key := fmt.Sprintf("venue:book:%s:%s:%s", b.Venue, b.Market, b.Symbol)
	r.cache.Set(ctx, key, data, r.freshness)
}

// CachedBook reads another instance's cached snapshot, for symbols this
// instance has no direct subscription to.
func (r *Registry) CachedBook(ctx context.Context, venueName, symbol string, market MarketKind) (*Book, error) {
	if r.cache == nil {
		return nil, errors.New(errors.KindNotFound, "no book cache configured")
	}
	key := fmt.Sprintf("venue:book:%s:%s:%s", venueName, market, symbol)
	data, err := r.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil, errors.New(errors.KindNotFound, "no cached book for %s %s %s", venueName, market, symbol)
	}
	var b Book
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(errors.KindValidationFailed, err, "corrupt cached book")
	}
	return &b, nil
}
