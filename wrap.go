package gorawrcache

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"

	"github.com/Keksclan/goRawrCache/cache"
)

// WrapOption configures one wrapped function.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	settings       Settings
	waitForRefresh *bool
	functionID     string
	codec          any
	keyFn          cache.KeyFunc
}

// WithLocalOverride overrides the local tier for this function. Zero fields
// inherit.
func WithLocalOverride(l cache.LocalConfig) WrapOption {
	return func(w *wrapConfig) {
		w.settings = merge(w.settings, Settings{Local: l})
	}
}

// WithRemoteOverride overrides the remote tier for this function. Zero
// fields inherit. A local TTL inherited from a lower layer is lowered to the
// new remote TTL when it would exceed it.
func WithRemoteOverride(r cache.RemoteConfig) WrapOption {
	return func(w *wrapConfig) {
		w.settings = merge(w.settings, Settings{Remote: r})
	}
}

// WithWaitForRefresh makes Call wait for the refresh-ahead check and any
// refresh it triggers before returning.
func WithWaitForRefresh(wait bool) WrapOption {
	return func(w *wrapConfig) {
		w.waitForRefresh = &wait
	}
}

// WithFunctionID sets the key namespace of the function. It is required for
// anonymous functions and closures.
func WithFunctionID(id string) WrapOption {
	return func(w *wrapConfig) {
		w.functionID = id
	}
}

// WithCodec sets how values are converted for the remote tier. codec must
// implement cache.Codec[V] for the wrapped function's V.
func WithCodec(codec any) WrapOption {
	return func(w *wrapConfig) {
		w.codec = codec
	}
}

// WithKeyFunc replaces the JSON encoding of the arguments in the cache key.
func WithKeyFunc(fn cache.KeyFunc) WrapOption {
	return func(w *wrapConfig) {
		w.keyFn = fn
	}
}

// Cached is a function with transparent two-tier caching.
type Cached[A, V any] struct {
	id       string
	fn       func(context.Context, A) (V, error)
	keyFn    cache.KeyFunc
	settings Settings
	tiered   *cache.Tiered[V]
}

// Wrap returns a cached version of fn. Settings are resolved from the
// constructor layer, then the best matching policy group, then opts. Every
// configuration problem is reported here, never at call time. Without
// WithKeyFunc, an argument type carrying fields the JSON key would drop fails
// with cache.ErrInvalidKey.
func Wrap[A, V any](tc *TransparentCache, fn func(context.Context, A) (V, error), opts ...WrapOption) (*Cached[A, V], error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: function is nil", ErrInvalidConfig)
	}
	var wc wrapConfig
	for _, o := range opts {
		o(&wc)
	}

	id := strings.TrimSpace(wc.functionID)
	if id == "" {
		var err error
		if id, err = functionName(fn); err != nil {
			return nil, err
		}
	}

	if wc.keyFn == nil {
		if err := cache.CheckArgs(reflect.TypeFor[A]()); err != nil {
			return nil, fmt.Errorf("wrap %s: %w", id, err)
		}
	}

	layers := []Settings{tc.settings}
	wait := false
	if group, pol, ok := tc.resolver.Resolve(id); ok {
		tc.log.Debug("policy group matched", "function_id", id, "group", group)
		layers = append(layers, Settings{Local: pol.Local, Remote: pol.Remote})
		wait = pol.WaitForRefresh
	}
	layers = append(layers, wc.settings)
	if wc.waitForRefresh != nil {
		wait = *wc.waitForRefresh
	}

	s, err := resolve(layers...)
	if err != nil {
		return nil, fmt.Errorf("wrap %s: %w", id, err)
	}

	codec := cache.Codec[V](cache.JSONCodec[V]{})
	if wc.codec != nil {
		c, ok := wc.codec.(cache.Codec[V])
		if !ok {
			var zero V
			return nil, fmt.Errorf("wrap %s: %w: codec %T cannot encode %T", id, ErrInvalidConfig, wc.codec, zero)
		}
		codec = c
	}

	local, err := newLocal[V](tc, s.Local)
	if err != nil {
		return nil, fmt.Errorf("wrap %s: %w", id, err)
	}
	remote := cache.NewRedis[V](tc.rdb, s.Remote, cache.RedisOptions[V]{
		Prefix:   tc.keyPrefix,
		Codec:    codec,
		Breaker:  tc.breaker,
		Logger:   tc.log,
		Observer: tc.metrics,
	})
	tiered := cache.NewTiered[V](local, remote, cache.TieredConfig{
		FunctionID:     id,
		LocalTTL:       s.Local.TTL,
		RemoteTTL:      s.Remote.TTL,
		WaitForRefresh: wait,
		RefreshBudget:  tc.budget,
		RefreshRetry:   tc.retry,
		Logger:         tc.log,
		Observer:       tc.metrics,
		Tracing:        tc.tracing,
	})

	return &Cached[A, V]{
		id:       id,
		fn:       fn,
		keyFn:    wc.keyFn,
		settings: s,
		tiered:   tiered,
	}, nil
}

// Call returns the cached result of fn(ctx, args), invoking fn on a miss.
// Errors from fn are returned unchanged and are never cached.
func (c *Cached[A, V]) Call(ctx context.Context, args A) (V, error) {
	key, err := c.Key(args)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.tiered.Get(ctx, key, func(ctx context.Context) (V, error) {
		return c.fn(ctx, args)
	})
}

// Delete evicts the entry for args from both tiers. Tier failures are
// absorbed; only a key derivation error is returned.
func (c *Cached[A, V]) Delete(ctx context.Context, args A) error {
	key, err := c.Key(args)
	if err != nil {
		return err
	}
	c.tiered.Delete(ctx, key)
	return nil
}

// Key returns the cache key for args.
func (c *Cached[A, V]) Key(args A) (string, error) {
	return cache.Key(c.id, args, c.keyFn)
}

// FunctionID returns the key namespace of the function.
func (c *Cached[A, V]) FunctionID() string { return c.id }

// Settings returns the resolved tier settings.
func (c *Cached[A, V]) Settings() Settings { return c.settings }

// Func returns Call with the signature of the wrapped function.
func (c *Cached[A, V]) Func() func(context.Context, A) (V, error) { return c.Call }

// anonymousFunc matches the runtime names of closures, e.g. "main.main.func1"
// or "pkg.(*T).M.func2.3".
var anonymousFunc = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

// functionName derives a function id from the runtime symbol name.
func functionName(fn any) (string, error) {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return "", ErrMissingFunctionID
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if name == "" || anonymousFunc.MatchString(name) {
		return "", fmt.Errorf("%w: %s", ErrMissingFunctionID, name)
	}
	return name, nil
}
