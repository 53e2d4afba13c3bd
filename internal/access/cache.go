package access

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// credentialCache is a read-through cache of resolved credentials keyed by
// token hash. invalidate bumps a generation so loads that started before a
// revocation can never repopulate the cache with pre-revocation state.
type credentialCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	gen     uint64
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cred     credential
	loadedAt time.Time
}

func newCredentialCache(ttl time.Duration, now func() time.Time) *credentialCache {
	return &credentialCache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

func (c *credentialCache) load(key string, fn func() (credential, error)) (credential, error) {
	if c.ttl <= 0 {
		return fn()
	}
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.loadedAt) < c.ttl {
		c.mu.Unlock()
		return e.cred, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		cred, err := fn()
		if err != nil {
			return credential{}, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entries[key] = cacheEntry{cred: cred, loadedAt: c.now()}
		}
		c.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return credential{}, err
	}
	return v.(credential), nil
}

// invalidate drops every entry. It returns only after no stale entry can be
// served or stored.
func (c *credentialCache) invalidate() {
	c.mu.Lock()
	c.gen++
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *credentialCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

const (
	velocityBurst     = 30
	velocityPerSecond = 1
	velocityIdle      = 10 * time.Minute
	velocityMaxKeys   = 10000
)

// velocityTracker keeps a token bucket per token. An exhausted bucket is a
// risk signal, not a denial.
type velocityTracker struct {
	now func() time.Time

	mu       sync.Mutex
	limiters map[string]*velocityEntry
}

type velocityEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newVelocityTracker(now func() time.Time) *velocityTracker {
	return &velocityTracker{now: now, limiters: make(map[string]*velocityEntry)}
}

// exceeded records one request for tokenID and reports whether the rate is
// above the bucket allowance.
func (v *velocityTracker) exceeded(tokenID string) bool {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.limiters[tokenID]
	if !ok {
		if len(v.limiters) >= velocityMaxKeys {
			v.pruneLocked(now)
		}
		e = &velocityEntry{lim: rate.NewLimiter(rate.Limit(velocityPerSecond), velocityBurst)}
		v.limiters[tokenID] = e
	}
	e.seen = now
	return !e.lim.AllowN(now, 1)
}

func (v *velocityTracker) pruneLocked(now time.Time) {
	for k, e := range v.limiters {
		if now.Sub(e.seen) > velocityIdle {
			delete(v.limiters, k)
		}
	}
}
