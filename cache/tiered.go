package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Keksclan/goRawrCache/ratelimit"
	"github.com/Keksclan/goRawrCache/retry"
	"github.com/Keksclan/goRawrCache/tracing"
)

// Loader computes the value for one key. It is the wrapped function with
// its arguments already bound.
type Loader[V any] func(ctx context.Context) (V, error)

// TieredConfig holds everything a Tiered needs besides its two tiers.
type TieredConfig struct {
	FunctionID string
	// LocalTTL and RemoteTTL are the tier lifetimes; their difference is the
	// refresh-ahead threshold.
	LocalTTL  time.Duration
	RemoteTTL time.Duration
	// WaitForRefresh makes Get wait for the refresh-ahead check instead of
	// running it in the background.
	WaitForRefresh bool

	// RefreshBudget bounds how often refreshes may run. Nil is unlimited.
	RefreshBudget *ratelimit.Limiter
	// RefreshRetry controls re-invocation of a failing refresh.
	RefreshRetry retry.Config

	Logger   *slog.Logger
	Observer Observer
	Tracing  *tracing.Config
}

// Tiered reads L1 first, then L2, then the loader. Writes populate both
// tiers. After every served value it checks the remote TTL and refreshes the
// entry ahead of expiry.
type Tiered[V any] struct {
	local  LocalTier[V]
	remote RemoteTier[V]
	cfg    TieredConfig

	loads     singleflight.Group
	refreshes singleflight.Group
}

// loaded boxes a loader result so interface-typed V survives the trip
// through singleflight's any.
type loaded[V any] struct{ val V }

// NewTiered creates a two-level cache for one wrapped function.
func NewTiered[V any](local LocalTier[V], remote RemoteTier[V], cfg TieredConfig) *Tiered[V] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	cfg.Logger = cfg.Logger.With("function_id", cfg.FunctionID)
	return &Tiered[V]{
		local:  local,
		remote: remote,
		cfg:    cfg,
	}
}

// Get returns the value for key, loading and storing it on a miss. Loader
// errors are returned unchanged and nothing is cached; concurrent misses for
// the same key share one loader invocation.
func (t *Tiered[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	ctx, span := t.cfg.Tracing.Start(ctx, tracing.SpanCall, t.cfg.FunctionID)
	v, res, err := t.get(ctx, key, load)
	t.cfg.Observer.ObserveCall(t.cfg.FunctionID, res)
	tracing.Finish(span, string(res), err)
	if err != nil {
		return v, err
	}

	refreshCtx := context.WithoutCancel(ctx)
	if t.cfg.WaitForRefresh {
		t.refresh(refreshCtx, key, load)
	} else {
		go t.refresh(refreshCtx, key, load)
	}
	return v, nil
}

func (t *Tiered[V]) get(ctx context.Context, key string, load Loader[V]) (V, Result, error) {
	if v, ok := t.local.Get(key); ok {
		t.cfg.Logger.Debug("local cache hit", "key", key)
		return v, ResultLocalHit, nil
	}

	if v, ok := t.remote.Get(ctx, key); ok {
		t.cfg.Logger.Debug("remote cache hit", "key", key)
		t.local.Set(key, v, t.cfg.LocalTTL)
		return v, ResultRemoteHit, nil
	}

	// The flight outlives any single caller: joined callers must not inherit
	// the cancellation of whoever started it.
	flightCtx := context.WithoutCancel(ctx)
	ch := t.loads.DoChan(key, func() (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &loadPanic{value: r}
			}
		}()
		start := time.Now()
		v, err := load(flightCtx)
		t.cfg.Observer.ObserveLoad(t.cfg.FunctionID, time.Since(start))
		if err != nil {
			return nil, err
		}
		t.store(flightCtx, key, v)
		return loaded[V]{val: v}, nil
	})

	var zero V
	select {
	case res := <-ch:
		if lp, ok := res.Err.(*loadPanic); ok {
			panic(lp.value)
		}
		if res.Err != nil {
			return zero, ResultError, res.Err
		}
		t.cfg.Logger.Debug("cache miss populated", "key", key, "shared", res.Shared)
		return res.Val.(loaded[V]).val, ResultMiss, nil
	case <-ctx.Done():
		return zero, ResultError, ctx.Err()
	}
}

// loadPanic carries a loader panic out of the flight goroutine so it is
// raised again in each caller instead of crashing the process.
type loadPanic struct{ value any }

func (p *loadPanic) Error() string { return fmt.Sprintf("cache loader panicked: %v", p.value) }

// store writes v to both tiers. Remote failures are absorbed by the tier.
func (t *Tiered[V]) store(ctx context.Context, key string, v V) {
	t.local.Set(key, v, t.cfg.LocalTTL)
	t.remote.Set(ctx, key, v, t.cfg.RemoteTTL)
}

// Delete removes key from both tiers. Each deletion is best-effort.
func (t *Tiered[V]) Delete(ctx context.Context, key string) {
	t.loads.Forget(key)
	t.local.Delete(key)
	t.remote.Delete(ctx, key)
}

// Threshold is the remaining remote TTL below which an entry is refreshed.
func (t *Tiered[V]) Threshold() time.Duration {
	return t.cfg.RemoteTTL - t.cfg.LocalTTL
}

// refresh re-runs the loader when the remote entry is close to expiry or
// its TTL is unknown. It never panics and never returns an error; failures
// are logged and counted.
func (t *Tiered[V]) refresh(ctx context.Context, key string, load Loader[V]) (outcome RefreshOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = RefreshFailed
			t.cfg.Logger.Error("cache refresh panicked", "key", key, "panic", fmt.Sprint(r))
		}
		t.cfg.Observer.ObserveRefresh(t.cfg.FunctionID, outcome)
	}()

	remaining, ok := t.remote.RemainingTTL(ctx, key)
	if ok && remaining >= t.Threshold() {
		t.cfg.Logger.Debug("no cache refresh required", "key", key, "remaining", remaining)
		return RefreshNotNeeded
	}
	if !t.cfg.RefreshBudget.Allow() {
		t.cfg.Logger.Debug("cache refresh throttled", "key", key)
		return RefreshThrottled
	}

	_, err, _ := t.refreshes.Do(key, func() (any, error) {
		ctx, span := t.cfg.Tracing.Start(ctx, tracing.SpanRefresh, t.cfg.FunctionID)
		v, err := retry.Do(ctx, t.cfg.RefreshRetry, func(ctx context.Context) (V, error) {
			return load(ctx)
		})
		if err != nil {
			tracing.Finish(span, string(RefreshFailed), err)
			return nil, err
		}
		t.store(ctx, key, v)
		tracing.Finish(span, string(RefreshDone), nil)
		return nil, nil
	})
	if err != nil {
		t.cfg.Logger.Error("cache refresh failed", "key", key, "err", err)
		return RefreshFailed
	}
	t.cfg.Logger.Debug("cache refreshed", "key", key, "remaining", remaining, "known", ok)
	return RefreshDone
}
