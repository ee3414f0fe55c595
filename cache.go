// Package gorawrcache is a transparent two-tier memoization layer. It wraps a
// function and caches its results in a bounded in-process tier backed by a
// shared Redis tier, refreshes entries before they expire, and keeps serving
// when Redis is slow or down.
//
//	tc, err := gorawrcache.New(gorawrcache.WithRedisURL("redis://localhost:6379/0"))
//	if err != nil { ... }
//	defer tc.Close()
//
//	lookup, err := gorawrcache.Wrap(tc, users.Lookup)
//	if err != nil { ... }
//	u, err := lookup.Call(ctx, users.LookupArgs{ID: 7})
package gorawrcache

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Keksclan/goRawrCache/breaker"
	"github.com/Keksclan/goRawrCache/cache"
	"github.com/Keksclan/goRawrCache/policy"
	"github.com/Keksclan/goRawrCache/ratelimit"
	"github.com/Keksclan/goRawrCache/retry"
	"github.com/Keksclan/goRawrCache/tracing"
)

// TransparentCache holds what every wrapped function shares: the Redis
// client, the constructor settings, metrics, the breaker and the refresh
// budget. Create one with New and wrap functions with Wrap.
type TransparentCache struct {
	rdb       redis.UniversalClient
	ownsRedis bool

	settings  Settings
	keyPrefix string
	ristretto bool
	resolver  *policy.Resolver

	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics
	tracing  *tracing.Config
	breaker  *breaker.Breaker
	budget   *ratelimit.Limiter
	retry    retry.Config

	mu      sync.Mutex
	closers []func()
}

// New creates a TransparentCache. Exactly one of WithRedisClient,
// WithRedisOptions or WithRedisURL is required; the first one present in
// that order wins.
func New(opts ...Option) (*TransparentCache, error) {
	cfg := config{settings: DefaultSettings()}
	for _, o := range opts {
		o(&cfg)
	}

	if err := validate(cfg.settings); err != nil {
		return nil, err
	}

	rdb, owned, err := cfg.redisClient()
	if err != nil {
		return nil, err
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}
	if cfg.keyPrefix == "" {
		cfg.keyPrefix = cache.DefaultKeyPrefix
	}

	tc := &TransparentCache{
		rdb:       rdb,
		ownsRedis: owned,
		settings:  cfg.settings,
		keyPrefix: cfg.keyPrefix,
		ristretto: cfg.ristretto,
		resolver:  policy.NewResolver(cfg.groups...),
		log:       cfg.logger,
		registry:  cfg.registry,
		metrics:   newMetrics(cfg.registry),
		tracing:   cfg.tracing,
		budget:    ratelimit.NewLimiter(cfg.refreshRPS, cfg.refreshBurst),
		retry:     cfg.refreshRetry,
	}
	if cfg.breaker != nil {
		tc.breaker = breaker.New(*cfg.breaker)
	}

	tc.log.Debug("transparent cache ready",
		"key_prefix", tc.keyPrefix,
		"local_max_entries", tc.settings.Local.MaxEntries,
		"local_ttl", tc.settings.Local.TTL,
		"remote_max_entries", tc.settings.Remote.MaxEntries,
		"remote_ttl", tc.settings.Remote.TTL,
		"remote_command_timeout", tc.settings.Remote.CommandTimeout,
		"owns_redis", owned,
	)
	return tc, nil
}

func (c *config) redisClient() (redis.UniversalClient, bool, error) {
	switch {
	case c.rdb != nil:
		return c.rdb, false, nil
	case c.redisOpts != nil:
		o := *c.redisOpts
		o.ContextTimeoutEnabled = true
		return redis.NewClient(&o), true, nil
	case c.redisURL != "":
		o, err := redis.ParseURL(c.redisURL)
		if err != nil {
			return nil, false, fmt.Errorf("%w: redis url: %w", ErrInvalidConfig, err)
		}
		o.ContextTimeoutEnabled = true
		return redis.NewClient(o), true, nil
	}
	return nil, false, ErrMissingRemote
}

// Settings returns the constructor settings that wrapped functions inherit.
func (tc *TransparentCache) Settings() Settings {
	return tc.settings
}

// MetricsHandler returns an http.Handler that serves the cache metrics.
func (tc *TransparentCache) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(tc.registry, promhttp.HandlerOpts{})
}

// Close releases local stores that hold background goroutines and closes
// the Redis client if the cache created it.
func (tc *TransparentCache) Close() error {
	tc.mu.Lock()
	closers := tc.closers
	tc.closers = nil
	tc.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
	if !tc.ownsRedis {
		return nil
	}
	if err := tc.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// newLocal builds the private local store of one wrapped function.
func newLocal[V any](tc *TransparentCache, cfg cache.LocalConfig) (cache.LocalTier[V], error) {
	if !tc.ristretto {
		return cache.NewLRU[V](cfg), nil
	}
	r, err := cache.NewRistretto[V](cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: local tier: %w", ErrInvalidConfig, err)
	}
	tc.mu.Lock()
	tc.closers = append(tc.closers, r.Close)
	tc.mu.Unlock()
	return r, nil
}
