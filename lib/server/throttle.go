package server

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Throttle tracks recent pre-authentication failures per remote address in
// a bounded LRU. Addresses that keep failing before authenticating are
// refused at accept until their entry ages out of the cache.
type Throttle struct {
	failures  *lru.Cache[string, int]
	threshold int
}

// NewThrottle creates a throttle tracking up to size addresses. Returns nil
// when size is zero, disabling throttling.
func NewThrottle(size, threshold int) *Throttle {
	if size <= 0 {
		return nil
	}
	cache, err := lru.New[string, int](size)
	if err != nil {
		return nil
	}
	return &Throttle{failures: cache, threshold: threshold}
}

// RecordFailure counts one pre-auth failure for the address.
func (t *Throttle) RecordFailure(addr string) {
	if t == nil {
		return
	}
	count, _ := t.failures.Get(addr)
	t.failures.Add(addr, count+1)
}

// Forgive clears the address after a successful authentication.
func (t *Throttle) Forgive(addr string) {
	if t == nil {
		return
	}
	t.failures.Remove(addr)
}

// Blocked returns true when the address has crossed the failure threshold.
func (t *Throttle) Blocked(addr string) bool {
	if t == nil {
		return false
	}
	count, ok := t.failures.Get(addr)
	return ok && count >= t.threshold
}
