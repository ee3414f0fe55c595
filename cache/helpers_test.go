package cache

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// hangingRedis returns a client whose server accepts connections and never
// answers, so every command blocks until its context gives up.
func hangingRedis(t *testing.T) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:         ln.Addr().String(),
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		MaxRetries:   -1,
	})
	t.Cleanup(func() {
		_ = rdb.Close()
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return rdb
}

// spyRemote counts calls into a RemoteTier.
type spyRemote[V any] struct {
	RemoteTier[V]
	gets, sets, dels, ttls atomic.Int32
}

func (s *spyRemote[V]) Get(ctx context.Context, key string) (V, bool) {
	s.gets.Add(1)
	return s.RemoteTier.Get(ctx, key)
}

func (s *spyRemote[V]) Set(ctx context.Context, key string, val V, ttl time.Duration) {
	s.sets.Add(1)
	s.RemoteTier.Set(ctx, key, val, ttl)
}

func (s *spyRemote[V]) Delete(ctx context.Context, key string) {
	s.dels.Add(1)
	s.RemoteTier.Delete(ctx, key)
}

func (s *spyRemote[V]) RemainingTTL(ctx context.Context, key string) (time.Duration, bool) {
	s.ttls.Add(1)
	return s.RemoteTier.RemainingTTL(ctx, key)
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu       sync.Mutex
	calls    []Result
	refresh  []RefreshOutcome
	remote   map[string][]Outcome
	loadsRun int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{remote: make(map[string][]Outcome)}
}

func (o *recordingObserver) ObserveCall(_ string, r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, r)
}

func (o *recordingObserver) ObserveLoad(string, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loadsRun++
}

func (o *recordingObserver) ObserveRefresh(_ string, out RefreshOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refresh = append(o.refresh, out)
}

func (o *recordingObserver) ObserveRemote(op string, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remote[op] = append(o.remote[op], out)
}

func (o *recordingObserver) lastCall() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.calls) == 0 {
		return ""
	}
	return o.calls[len(o.calls)-1]
}

func (o *recordingObserver) refreshes() []RefreshOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RefreshOutcome(nil), o.refresh...)
}

func (o *recordingObserver) remoteOutcomes(op string) []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.remote[op]...)
}
