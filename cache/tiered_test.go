package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Keksclan/goRawrCache/ratelimit"
	"github.com/Keksclan/goRawrCache/retry"
	"github.com/Keksclan/goRawrCache/tracing"
)

type tieredFixture struct {
	tiered *Tiered[string]
	local  *LRU[string]
	remote *spyRemote[string]
	mr     *miniredis.Miniredis
	obs    *recordingObserver
}

func newTieredFixture(t *testing.T, localTTL, remoteTTL time.Duration, mutate func(*TieredConfig)) *tieredFixture {
	t.Helper()
	mr, rdb := newMiniredis(t)
	obs := newRecordingObserver()
	local := NewLRU[string](LocalConfig{MaxEntries: 100, TTL: localTTL})
	remote := &spyRemote[string]{RemoteTier: NewRedis[string](rdb,
		RemoteConfig{TTL: remoteTTL, CommandTimeout: time.Second},
		RedisOptions[string]{Logger: discardLogger, Observer: obs})}

	cfg := TieredConfig{
		FunctionID:     "test.fn",
		LocalTTL:       localTTL,
		RemoteTTL:      remoteTTL,
		WaitForRefresh: true,
		Logger:         discardLogger,
		Observer:       obs,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &tieredFixture{
		tiered: NewTiered[string](local, remote, cfg),
		local:  local,
		remote: remote,
		mr:     mr,
		obs:    obs,
	}
}

// countingLoader returns "v1", "v2", ... on successive invocations.
func countingLoader(calls *atomic.Int32) Loader[string] {
	return func(context.Context) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("v%d", n), nil
	}
}

func mustGet(t *testing.T, f *tieredFixture, key string, load Loader[string]) string {
	t.Helper()
	v, err := f.tiered.Get(t.Context(), key, load)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return v
}

func TestTiered_MissPopulatesBothTiers(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	var calls atomic.Int32

	if v := mustGet(t, f, "k", countingLoader(&calls)); v != "v1" {
		t.Fatalf("got %q, want v1", v)
	}
	if f.obs.lastCall() != ResultMiss {
		t.Fatalf("result = %q, want miss", f.obs.lastCall())
	}
	if v, ok := f.local.Get("k"); !ok || v != "v1" {
		t.Fatalf("local = %q, %v", v, ok)
	}
	if got, _ := f.mr.Get(DefaultKeyPrefix + "k"); got != `{"value":"v1"}` {
		t.Fatalf("remote = %q", got)
	}
}

func TestTiered_LocalHitSkipsRemoteAndLoader(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	var calls atomic.Int32
	load := countingLoader(&calls)

	mustGet(t, f, "k", load)
	gets := f.remote.gets.Load()

	if v := mustGet(t, f, "k", load); v != "v1" {
		t.Fatalf("got %q, want v1", v)
	}
	if f.obs.lastCall() != ResultLocalHit {
		t.Fatalf("result = %q, want local_hit", f.obs.lastCall())
	}
	if n := f.remote.gets.Load(); n != gets {
		t.Fatalf("remote gets = %d, want %d", n, gets)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
}

func TestTiered_RemoteHitRepopulatesLocal(t *testing.T) {
	f := newTieredFixture(t, 50*time.Millisecond, 10*time.Second, nil)
	var calls atomic.Int32
	load := countingLoader(&calls)

	mustGet(t, f, "k", load)
	time.Sleep(80 * time.Millisecond) // local entry expires; miniredis time stands still

	if v := mustGet(t, f, "k", load); v != "v1" {
		t.Fatalf("got %q, want v1", v)
	}
	if f.obs.lastCall() != ResultRemoteHit {
		t.Fatalf("result = %q, want remote_hit", f.obs.lastCall())
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
	if _, ok := f.local.Get("k"); !ok {
		t.Fatal("expected local tier to be repopulated")
	}
}

func TestTiered_DeleteForcesRecompute(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	var calls atomic.Int32
	load := countingLoader(&calls)

	if v := mustGet(t, f, "k", load); v != "v1" {
		t.Fatalf("got %q, want v1", v)
	}
	f.tiered.Delete(t.Context(), "k")
	if f.mr.Exists(DefaultKeyPrefix + "k") {
		t.Fatal("remote entry survived Delete")
	}
	if v := mustGet(t, f, "k", load); v != "v2" {
		t.Fatalf("got %q, want v2", v)
	}
}

func TestTiered_LoaderErrorIsNotCached(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	errBoom := errors.New("boom")
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		calls.Add(1)
		return "", errBoom
	}

	for range 2 {
		if _, err := f.tiered.Get(t.Context(), "k", load); !errors.Is(err, errBoom) {
			t.Fatalf("error = %v, want errBoom", err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("loader called %d times, want 2", n)
	}
	if f.obs.lastCall() != ResultError {
		t.Fatalf("result = %q, want error", f.obs.lastCall())
	}
	if _, ok := f.local.Get("k"); ok {
		t.Fatal("failed load must not be cached locally")
	}
	if f.mr.Exists(DefaultKeyPrefix + "k") {
		t.Fatal("failed load must not be cached remotely")
	}
}

func TestTiered_ConcurrentMissesShareOneLoad(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.tiered.Get(context.Background(), "k", load)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range n {
		if errs[i] != nil || results[i] != "shared" {
			t.Fatalf("caller %d: %q, %v", i, results[i], errs[i])
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("loader called %d times, want 1", got)
	}
}

func TestTiered_RefreshAheadBelowThreshold(t *testing.T) {
	f := newTieredFixture(t, time.Second, 10*time.Second, nil)
	var calls atomic.Int32
	load := countingLoader(&calls)

	mustGet(t, f, "k", load)
	if got := f.obs.refreshes(); len(got) != 1 || got[0] != RefreshNotNeeded {
		t.Fatalf("refreshes = %v, want [not_needed]", got)
	}

	// 8s left is below the 9s threshold.
	f.mr.FastForward(2 * time.Second)

	if v := mustGet(t, f, "k", load); v != "v1" {
		t.Fatalf("served %q, want the cached v1", v)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("loader called %d times, want 2", n)
	}
	if v, _ := f.local.Get("k"); v != "v2" {
		t.Fatalf("local = %q, want v2", v)
	}
	if got, _ := f.mr.Get(DefaultKeyPrefix + "k"); got != `{"value":"v2"}` {
		t.Fatalf("remote = %q", got)
	}
	if ttl := f.mr.TTL(DefaultKeyPrefix + "k"); ttl != 10*time.Second {
		t.Fatalf("remote TTL = %v, want 10s", ttl)
	}

	// Freshly written, so the next call does not refresh again.
	mustGet(t, f, "k", load)
	if n := calls.Load(); n != 2 {
		t.Fatalf("loader called %d times, want 2", n)
	}
}

func TestTiered_EqualTTLsRefreshOnlyWhenUnknown(t *testing.T) {
	f := newTieredFixture(t, time.Minute, time.Minute, nil)
	var calls atomic.Int32
	load := countingLoader(&calls)

	if th := f.tiered.Threshold(); th != 0 {
		t.Fatalf("Threshold = %v, want 0", th)
	}

	mustGet(t, f, "k", load)
	f.mr.FastForward(59 * time.Second)
	mustGet(t, f, "k", load)
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}

	// A vanished remote entry has no TTL, which always triggers a refresh.
	f.mr.Del(DefaultKeyPrefix + "k")
	mustGet(t, f, "k", load)
	if n := calls.Load(); n != 2 {
		t.Fatalf("loader called %d times, want 2", n)
	}
}

func TestTiered_BackgroundRefreshIsNotAwaited(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, func(c *TieredConfig) {
		c.WaitForRefresh = false
	})
	var calls atomic.Int32
	release := make(chan struct{})
	done := make(chan struct{})
	load := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		<-release
		defer close(done)
		return "v2", nil
	}

	mustGet(t, f, "k", load)
	f.mr.Del(DefaultKeyPrefix + "k")

	// The refresh blocks on release, the call must not.
	if v := mustGet(t, f, "k", load); v != "v1" {
		t.Fatalf("got %q, want v1", v)
	}
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background refresh never ran")
	}
}

func TestTiered_RefreshFailureIsSwallowed(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		return "", errors.New("upstream down")
	}

	mustGet(t, f, "k", load)
	f.mr.Del(DefaultKeyPrefix + "k")

	v, err := f.tiered.Get(t.Context(), "k", load)
	if err != nil || v != "v1" {
		t.Fatalf("Get = %q, %v; want v1, nil", v, err)
	}
	got := f.obs.refreshes()
	if got[len(got)-1] != RefreshFailed {
		t.Fatalf("refreshes = %v, want last failed", got)
	}
}

func TestTiered_RefreshRetries(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, func(c *TieredConfig) {
		c.RefreshRetry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}
	})
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		switch calls.Add(1) {
		case 1:
			return "v1", nil
		case 2:
			return "", errors.New("transient")
		default:
			return "v2", nil
		}
	}

	mustGet(t, f, "k", load)
	f.mr.Del(DefaultKeyPrefix + "k")
	mustGet(t, f, "k", load)

	if n := calls.Load(); n != 3 {
		t.Fatalf("loader called %d times, want 3", n)
	}
	if v, _ := f.local.Get("k"); v != "v2" {
		t.Fatalf("local = %q, want v2", v)
	}
}

func TestTiered_RefreshPanicIsRecovered(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		panic("loader exploded")
	}

	mustGet(t, f, "k", load)
	f.mr.Del(DefaultKeyPrefix + "k")

	if v := mustGet(t, f, "k", load); v != "v1" {
		t.Fatalf("got %q, want v1", v)
	}
	got := f.obs.refreshes()
	if got[len(got)-1] != RefreshFailed {
		t.Fatalf("refreshes = %v, want last failed", got)
	}
}

func TestTiered_RefreshBudgetThrottles(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, func(c *TieredConfig) {
		c.RefreshBudget = ratelimit.NewLimiter(0.001, 1)
	})
	var calls atomic.Int32
	load := countingLoader(&calls)

	mustGet(t, f, "k", load)

	f.mr.Del(DefaultKeyPrefix + "k")
	mustGet(t, f, "k", load) // spends the only token
	f.mr.Del(DefaultKeyPrefix + "k")
	mustGet(t, f, "k", load) // throttled

	if n := calls.Load(); n != 2 {
		t.Fatalf("loader called %d times, want 2", n)
	}
	want := []RefreshOutcome{RefreshNotNeeded, RefreshDone, RefreshThrottled}
	got := f.obs.refreshes()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("refreshes = %v, want %v", got, want)
	}
}

func TestTiered_HangingRemoteStillServes(t *testing.T) {
	local := NewLRU[string](LocalConfig{MaxEntries: 100, TTL: time.Minute})
	remote := NewRedis[string](hangingRedis(t),
		RemoteConfig{TTL: 10 * time.Minute, CommandTimeout: 20 * time.Millisecond},
		RedisOptions[string]{Logger: discardLogger})
	tiered := NewTiered[string](local, remote, TieredConfig{
		FunctionID:     "test.fn",
		LocalTTL:       time.Minute,
		RemoteTTL:      10 * time.Minute,
		WaitForRefresh: true,
		Logger:         discardLogger,
	})
	var calls atomic.Int32
	load := countingLoader(&calls)

	start := time.Now()
	v, err := tiered.Get(t.Context(), "k", load)
	if err != nil || v != "v1" {
		t.Fatalf("Get = %q, %v; want v1, nil", v, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("first call took %v", elapsed)
	}

	// Served locally; the remote never answers.
	v, err = tiered.Get(t.Context(), "k", load)
	if err != nil || v == "" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	if _, ok := local.Get("k"); !ok {
		t.Fatal("expected local entry")
	}
}

func TestTiered_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(sr))
	f := newTieredFixture(t, time.Minute, 10*time.Minute, func(c *TieredConfig) {
		c.Tracing = &tracing.Config{TracerProvider: tp}
	})
	var calls atomic.Int32

	mustGet(t, f, "k", countingLoader(&calls))
	f.mr.Del(DefaultKeyPrefix + "k")
	mustGet(t, f, "k", countingLoader(&calls))

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	want := []string{tracing.SpanCall, tracing.SpanCall, tracing.SpanRefresh}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("spans = %v, want %v", names, want)
	}
}

func TestTiered_CanceledLeaderDoesNotFailFollower(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		close(started)
		<-release
		return "shared", ctx.Err()
	}

	leaderCtx, cancelLeader := context.WithCancel(t.Context())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.tiered.Get(leaderCtx, "k", load)
		leaderErr <- err
	}()
	<-started

	type result struct {
		val string
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := f.tiered.Get(t.Context(), "k", load)
		follower <- result{v, err}
	}()
	// Let the follower join the flight before the leader goes away.
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader error = %v, want context.Canceled", err)
	}
	close(release)

	got := <-follower
	if got.err != nil || got.val != "shared" {
		t.Fatalf("follower got %q, %v", got.val, got.err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
	if v, ok := f.local.Get("k"); !ok || v != "shared" {
		t.Fatalf("local tier = %q, %v; want the loaded value", v, ok)
	}
}

func TestTiered_LoaderPanicReachesCaller(t *testing.T) {
	f := newTieredFixture(t, time.Minute, 10*time.Minute, nil)
	defer func() {
		if r := recover(); r != "loader exploded" {
			t.Fatalf("recovered %v, want the loader panic", r)
		}
	}()
	_, _ = f.tiered.Get(t.Context(), "k", func(context.Context) (string, error) {
		panic("loader exploded")
	})
	t.Fatal("Get returned instead of panicking")
}
