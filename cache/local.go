package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU is the default local tier: a bounded least-recently-used map with a
// cache-wide TTL.
type LRU[V any] struct {
	lru *expirable.LRU[string, lruEntry[V]]
	ttl time.Duration
	now func() time.Time
}

// lruEntry carries its own deadline so a Set with a TTL shorter than the
// tier default is honoured.
type lruEntry[V any] struct {
	val       V
	expiresAt time.Time
}

// NewLRU creates an LRU local tier holding at most cfg.MaxEntries entries.
func NewLRU[V any](cfg LocalConfig) *LRU[V] {
	return &LRU[V]{
		lru: expirable.NewLRU[string, lruEntry[V]](cfg.MaxEntries, nil, cfg.TTL),
		ttl: cfg.TTL,
		now: time.Now,
	}
}

// Get returns the value stored under key if it has not expired.
func (l *LRU[V]) Get(key string) (V, bool) {
	e, ok := l.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !e.expiresAt.IsZero() && !l.now().Before(e.expiresAt) {
		l.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set stores val under key. A TTL longer than the tier default is capped by
// the underlying store.
func (l *LRU[V]) Set(key string, val V, ttl time.Duration) {
	e := lruEntry[V]{val: val}
	if ttl > 0 && ttl < l.ttl {
		e.expiresAt = l.now().Add(ttl)
	}
	l.lru.Add(key, e)
}

// Delete removes key.
func (l *LRU[V]) Delete(key string) {
	l.lru.Remove(key)
}

// Len reports the number of entries, including ones not yet purged.
func (l *LRU[V]) Len() int {
	return l.lru.Len()
}

var _ LocalTier[string] = (*LRU[string])(nil)
