package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Keksclan/goRawrCache/breaker"
)

// DefaultKeyPrefix namespaces every remote key so the cache can share a
// Redis instance with unrelated data.
const DefaultKeyPrefix = "trans-cache-"

// Redis is the remote tier. All operations fail soft: a command that errors,
// exceeds CommandTimeout, or is skipped by an open breaker is reported as a
// miss (or a discarded write) instead of surfacing to the caller.
type Redis[V any] struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	codec  Codec[V]
	guard  guard
}

// RedisOptions holds the optional collaborators of a Redis tier.
type RedisOptions[V any] struct {
	// Prefix is prepended to every key. Empty means DefaultKeyPrefix.
	Prefix string
	// Codec converts values to the stored form. Nil means JSONCodec.
	Codec Codec[V]
	// Breaker, when set, short-circuits commands after repeated failures.
	Breaker  *breaker.Breaker
	Logger   *slog.Logger
	Observer Observer
}

// NewRedis creates a remote tier on top of a shared client. The client is
// not owned; closing it is the caller's job.
func NewRedis[V any](rdb redis.UniversalClient, cfg RemoteConfig, opts RedisOptions[V]) *Redis[V] {
	if opts.Prefix == "" {
		opts.Prefix = DefaultKeyPrefix
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec[V]{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Redis[V]{
		rdb:    rdb,
		prefix: opts.Prefix,
		ttl:    cfg.TTL,
		codec:  opts.Codec,
		guard: guard{
			timeout: cfg.CommandTimeout,
			breaker: opts.Breaker,
			log:     opts.Logger,
			obs:     opts.Observer,
		},
	}
}

// Get retrieves and decodes the value stored under key.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, ok := failSafe(ctx, &r.guard, "get", key, func(ctx context.Context) ([]byte, error) {
		return r.rdb.Get(ctx, r.prefix+key).Bytes()
	})
	if !ok {
		return zero, false
	}
	v, err := decodeEnvelope(r.codec, data)
	if err != nil {
		r.guard.log.Warn("remote cache entry undecodable", "key", key, "err", err)
		return zero, false
	}
	return v, true
}

// Set encodes val and stores it with ttl, or the tier TTL when ttl is not
// positive.
func (r *Redis[V]) Set(ctx context.Context, key string, val V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	data, err := encodeEnvelope(r.codec, val)
	if err != nil {
		r.guard.log.Warn("remote cache entry unencodable", "key", key, "err", err)
		return
	}
	failSafe(ctx, &r.guard, "set", key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.rdb.Set(ctx, r.prefix+key, data, ttl).Err()
	})
}

// Delete removes key.
func (r *Redis[V]) Delete(ctx context.Context, key string) {
	failSafe(ctx, &r.guard, "del", key, func(ctx context.Context) (int64, error) {
		return r.rdb.Del(ctx, r.prefix+key).Result()
	})
}

// RemainingTTL returns the remaining lifetime of key as reported by PTTL.
func (r *Redis[V]) RemainingTTL(ctx context.Context, key string) (time.Duration, bool) {
	d, ok := failSafe(ctx, &r.guard, "pttl", key, func(ctx context.Context) (time.Duration, error) {
		return r.rdb.PTTL(ctx, r.prefix+key).Result()
	})
	// PTTL answers -2 for a missing key and -1 for a key without expiry.
	if !ok || d <= 0 {
		return 0, false
	}
	return d, true
}

var _ RemoteTier[string] = (*Redis[string])(nil)

// guard is the fail-safe envelope shared by every remote command.
type guard struct {
	timeout time.Duration
	breaker *breaker.Breaker
	log     *slog.Logger
	obs     Observer
}

type opResult[T any] struct {
	val T
	err error
}

// failSafe runs fn bounded by the command timeout. It reports false whenever
// no value came back, including when the breaker rejects the command or the
// caller is gone. After a timeout the command is abandoned, not awaited.
func failSafe[T any](ctx context.Context, g *guard, op, key string, fn func(context.Context) (T, error)) (T, bool) {
	var zero T
	if err := ctx.Err(); err != nil {
		canceled(g, op, key, err)
		return zero, false
	}
	if !g.breaker.Allow() {
		g.obs.ObserveRemote(op, OutcomeRejected)
		return zero, false
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan opResult[T], 1)
	go func() {
		val, err := fn(ctx)
		done <- opResult[T]{val: val, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case errors.Is(res.err, redis.Nil):
			g.breaker.Record(nil)
			g.obs.ObserveRemote(op, OutcomeMiss)
			return zero, false
		case res.err != nil && parent.Err() != nil:
			canceled(g, op, key, parent.Err())
			return zero, false
		case res.err != nil && ctx.Err() != nil:
			g.breaker.Record(res.err)
			g.obs.ObserveRemote(op, OutcomeTimeout)
			g.log.Warn("remote cache command timed out", "op", op, "key", key, "timeout", g.timeout, "err", res.err)
			return zero, false
		case res.err != nil:
			g.breaker.Record(res.err)
			g.obs.ObserveRemote(op, OutcomeError)
			g.log.Warn("remote cache command failed", "op", op, "key", key, "err", res.err)
			return zero, false
		}
		g.breaker.Record(nil)
		g.obs.ObserveRemote(op, OutcomeOK)
		return res.val, true
	case <-ctx.Done():
		if parent.Err() != nil {
			canceled(g, op, key, parent.Err())
			return zero, false
		}
		g.breaker.Record(ctx.Err())
		g.obs.ObserveRemote(op, OutcomeTimeout)
		g.log.Warn("remote cache command timed out", "op", op, "key", key, "timeout", g.timeout, "err", ctx.Err())
		return zero, false
	}
}

// canceled accounts for a command abandoned because the caller went away.
// The server said nothing about its health, so the breaker is left alone.
func canceled(g *guard, op, key string, err error) {
	g.obs.ObserveRemote(op, OutcomeCanceled)
	g.log.Debug("remote cache command canceled by caller", "op", op, "key", key, "err", err)
}
