// Package statuscache is a short-TTL read accelerator over order status.
// Only the terminal paid state is cacheable: caching unpaid or in-progress
// states could mask a completed payment performed by a concurrent caller,
// so the API cannot express them. The cache is never the source of truth
// for whether a charge occurred.
package statuscache

import (
	"context"
	"sync"
	"time"

	sharedclock "github.com/snapcart/capture-api/internal/shared/clock"
)

// DefaultTTL keeps entries just long enough to absorb request bursts.
const DefaultTTL = 2 * time.Second

// Cache remembers which orders are known paid.
// Implementations must be safe for concurrent use.
type Cache interface {
	// IsPaid reports whether the order is cached as paid. A miss means
	// "unknown", never "unpaid"; callers must fall through to the store.
	IsPaid(ctx context.Context, orderID string) (bool, error)

	// MarkPaid caches the terminal paid status for the TTL window.
	MarkPaid(ctx context.Context, orderID string) error
}

// Options configures a cache backend.
type Options struct {
	// TTL is the entry lifetime. Defaults to DefaultTTL.
	TTL time.Duration

	// Clock supplies time for expiry checks. Defaults to the system clock.
	Clock sharedclock.Clock
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Clock == nil {
		o.Clock = sharedclock.SystemClock{}
	}
	return o
}

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is an in-process cache with lazy expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	opts    Options
}

// NewMemoryCache creates an in-memory status cache.
func NewMemoryCache(opts Options) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]time.Time),
		opts:    opts.withDefaults(),
	}
}

func (c *MemoryCache) IsPaid(ctx context.Context, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt, ok := c.entries[orderID]
	if !ok {
		return false, nil
	}

	if c.opts.Clock.Now().After(expiresAt) {
		delete(c.entries, orderID)
		return false, nil
	}

	return true, nil
}

func (c *MemoryCache) MarkPaid(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[orderID] = c.opts.Clock.Now().Add(c.opts.TTL)
	return nil
}
