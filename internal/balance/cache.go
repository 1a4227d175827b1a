// Package balance implements the time-bounded memoization of account
// equity (spec C4): the venue is called only when the cached value is
// missing or older than the TTL, and the value is shared across every gate
// and sizing call that needs current equity. The lock is not held during
// the fetch, so concurrent callers that all miss each fetch.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fxengine/internal/clock"
)

// TTL is the cache lifetime before a lookup falls through to the fetcher.
const TTL = 30 * time.Second

// Fetcher is the subset of the venue client the cache depends on.
type Fetcher interface {
	GetBalance(ctx context.Context, quote string) (decimal.Decimal, error)
}

// Cache holds (equity, fetched_at) for one quote currency.
type Cache struct {
	fetcher Fetcher
	clock   clock.Clock
	quote   string

	mu        sync.Mutex
	equity    decimal.Decimal
	fetchedAt time.Time
	hasValue  bool
}

// New constructs a Cache for the given quote currency (e.g. "USDT").
func New(fetcher Fetcher, clk clock.Clock, quote string) *Cache {
	return &Cache{fetcher: fetcher, clock: clk, quote: quote}
}

// Get returns the cached equity if younger than TTL, else calls the
// fetcher. On fetcher failure the cache is left untouched and ok is false
// — callers decide admission policy on a miss (spec §4.4).
func (c *Cache) Get(ctx context.Context) (equity decimal.Decimal, ok bool) {
	c.mu.Lock()
	if c.hasValue && c.clock.Now().Sub(c.fetchedAt) < TTL {
		equity = c.equity
		c.mu.Unlock()
		return equity, true
	}
	c.mu.Unlock()

	fetched, err := c.fetcher.GetBalance(ctx, c.quote)
	if err != nil {
		return decimal.Zero, false
	}

	c.mu.Lock()
	c.equity = fetched
	c.fetchedAt = c.clock.Now()
	c.hasValue = true
	c.mu.Unlock()
	return fetched, true
}

// Invalidate forces the next Get to re-fetch regardless of age.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.hasValue = false
	c.mu.Unlock()
}
