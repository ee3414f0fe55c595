package gorawrcache

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Keksclan/goRawrCache/breaker"
	"github.com/Keksclan/goRawrCache/cache"
	"github.com/Keksclan/goRawrCache/policy"
	"github.com/Keksclan/goRawrCache/retry"
	"github.com/Keksclan/goRawrCache/tracing"
)

// Option configures a TransparentCache.
type Option func(*config)

// WithRedisClient shares an existing client. The cache never closes it.
func WithRedisClient(rdb redis.UniversalClient) Option {
	return func(c *config) {
		c.rdb = rdb
	}
}

// WithRedisOptions makes the cache build and own a client from opts.
func WithRedisOptions(opts *redis.Options) Option {
	return func(c *config) {
		c.redisOpts = opts
	}
}

// WithRedisURL makes the cache build and own a client from a redis:// or
// rediss:// URL.
func WithRedisURL(url string) Option {
	return func(c *config) {
		c.redisURL = url
	}
}

// WithKeyPrefix replaces the default "trans-cache-" namespace of remote keys.
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.keyPrefix = prefix
	}
}

// WithLocal overrides the local tier defaults. Zero fields keep the default.
func WithLocal(l cache.LocalConfig) Option {
	return func(c *config) {
		c.settings = merge(c.settings, Settings{Local: l})
	}
}

// WithRemote overrides the remote tier defaults. Zero fields keep the default.
func WithRemote(r cache.RemoteConfig) Option {
	return func(c *config) {
		c.settings = merge(c.settings, Settings{Remote: r})
	}
}

// WithRistrettoLocal backs every local tier with ristretto instead of the
// default expirable LRU.
func WithRistrettoLocal() Option {
	return func(c *config) {
		c.ristretto = true
	}
}

// WithPolicies registers function groups whose tier overrides apply to every
// wrapped function they match.
func WithPolicies(groups ...*policy.GroupBuilder) Option {
	return func(c *config) {
		c.groups = append(c.groups, groups...)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithPrometheus registers the cache metrics on reg instead of a private
// registry. A registry can serve only one TransparentCache.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithTracing enables OpenTelemetry spans for calls and refreshes.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) {
		c.tracing = cfg
	}
}

// WithRemoteBreaker guards the remote tier with a circuit breaker shared by
// every wrapped function.
func WithRemoteBreaker(cfg breaker.Config) Option {
	return func(c *config) {
		c.breaker = &cfg
	}
}

// WithRefreshBudget limits background refreshes across all wrapped functions
// to rps per second with the given burst. A non-positive rps is unlimited.
func WithRefreshBudget(rps float64, burst int) Option {
	return func(c *config) {
		c.refreshRPS = rps
		c.refreshBurst = burst
	}
}

// WithRefreshRetry retries a failing refresh invocation. The default is a
// single attempt.
func WithRefreshRetry(cfg retry.Config) Option {
	return func(c *config) {
		c.refreshRetry = cfg
	}
}
