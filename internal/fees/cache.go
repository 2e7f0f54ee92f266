package fees

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"custody-wallet-go/internal/models"

	"github.com/shopspring/decimal"
)

// Cache stores fee quotes for a short window.
type Cache interface {
	Get(key string) (models.FeeQuote, bool)
	Set(key string, quote models.FeeQuote)
}

// CacheKey identifies a quote by asset, amount rounded to 8 decimals and a
// masked destination, so near-identical requests share an upstream call.
func CacheKey(asset string, amount decimal.Decimal, destination string) string {
	return fmt.Sprintf("%s|%s|%s", asset, amount.Round(8).String(), MaskAddress(destination))
}

// MaskAddress keeps the first and last four characters of an address.
func MaskAddress(address string) string {
	if address == "" {
		return ""
	}
	head := address[:min(4, len(address))]
	tail := address[max(0, len(address)-4):]
	return head + "..." + tail
}

type cacheEntry struct {
	mu      sync.Mutex
	quote   models.FeeQuote
	expires time.Time
	set     bool
}

// TTLCache is a bounded in-process Cache. Each key has its own lock, so
// lookups for different keys never contend.
type TTLCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	entries sync.Map // string -> *cacheEntry
	size    atomic.Int64
}

// NewTTLCache returns a cache whose entries live for ttl. now may be nil.
func NewTTLCache(ttl time.Duration, maxEntries int, now func() time.Time) *TTLCache {
	if maxEntries <= 0 {
		maxEntries = 2048
	}
	if now == nil {
		now = time.Now
	}
	return &TTLCache{ttl: ttl, maxEntries: maxEntries, now: now}
}

func (c *TTLCache) Get(key string) (models.FeeQuote, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return models.FeeQuote{}, false
	}
	e := v.(*cacheEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set && c.now().Before(e.expires) {
		return e.quote, true
	}
	if e.set {
		e.set = false
		c.remove(key, e)
	}
	return models.FeeQuote{}, false
}

func (c *TTLCache) Set(key string, quote models.FeeQuote) {
	v, loaded := c.entries.LoadOrStore(key, &cacheEntry{})
	if !loaded {
		if c.size.Add(1) > int64(c.maxEntries) {
			c.evict()
		}
	}
	e := v.(*cacheEntry)

	e.mu.Lock()
	e.quote = quote
	e.expires = c.now().Add(c.ttl)
	e.set = true
	e.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache) Len() int {
	return int(c.size.Load())
}

func (c *TTLCache) remove(key string, e *cacheEntry) {
	if c.entries.CompareAndDelete(key, e) {
		c.size.Add(-1)
	}
}

// evict drops expired entries first, then arbitrary ones until the cache
// is back under its bound.
func (c *TTLCache) evict() {
	now := c.now()
	c.entries.Range(func(k, v any) bool {
		e := v.(*cacheEntry)
		e.mu.Lock()
		expired := e.set && !now.Before(e.expires)
		e.mu.Unlock()
		if expired {
			c.remove(k.(string), e)
		}
		return true
	})

	c.entries.Range(func(k, v any) bool {
		if c.size.Load() <= int64(c.maxEntries) {
			return false
		}
		c.remove(k.(string), v.(*cacheEntry))
		return true
	})
}
