package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Ristretto is a local tier backed by ristretto. Each entry has a cost of 1,
// so MaxEntries bounds the entry count. Admission is TinyLFU-based: under
// pressure a new key may be rejected instead of evicting an older one.
type Ristretto[V any] struct {
	rc  *ristretto.Cache[string, V]
	ttl time.Duration
}

// NewRistretto creates a ristretto-backed local tier.
func NewRistretto[V any](cfg LocalConfig) (*Ristretto[V], error) {
	maxCost := int64(cfg.MaxEntries)
	rc, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto[V]{rc: rc, ttl: cfg.TTL}, nil
}

// Get retrieves a value by key.
func (r *Ristretto[V]) Get(key string) (V, bool) {
	return r.rc.Get(key)
}

// Set stores val under key. The write is applied before Set returns.
func (r *Ristretto[V]) Set(key string, val V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	r.rc.SetWithTTL(key, val, 1, ttl)
	r.rc.Wait()
}

// Delete removes key.
func (r *Ristretto[V]) Delete(key string) {
	r.rc.Del(key)
}

// Close stops ristretto's background goroutines.
func (r *Ristretto[V]) Close() {
	r.rc.Close()
}

var _ LocalTier[string] = (*Ristretto[string])(nil)
