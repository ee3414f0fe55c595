// Package cache implements the two cache tiers behind a wrapped function and
// the orchestration between them.
//
// The local tier ([LocalTier]) is a bounded in-process store with per-entry
// expiry. The remote tier ([RemoteTier]) is a shared Redis instance reached
// through a fail-safe envelope: every remote command is bounded by a timeout
// and any failure degrades to a miss. [Tiered] ties the two together with
// refresh-ahead and single-flight population.
package cache

import (
	"context"
	"time"
)

// LocalConfig configures the in-process tier.
type LocalConfig struct {
	// MaxEntries bounds the number of entries; the least recently used entry
	// is evicted when it is exceeded.
	MaxEntries int
	// TTL is the lifetime of an entry written without an explicit TTL.
	TTL time.Duration
}

// RemoteConfig configures the Redis tier.
type RemoteConfig struct {
	// MaxEntries is advisory. Redis applies its own eviction policy.
	MaxEntries int
	// TTL is the lifetime of an entry written without an explicit TTL.
	TTL time.Duration
	// CommandTimeout bounds every remote command.
	CommandTimeout time.Duration
}

// LocalTier is the contract of the in-process tier. Implementations never
// fail; a missing or expired entry is reported as (zero, false).
type LocalTier[V any] interface {
	Get(key string) (V, bool)
	// Set stores val for ttl. A non-positive ttl means the tier default.
	Set(key string, val V, ttl time.Duration)
	Delete(key string)
}

// RemoteTier is the contract of the shared tier. Every method is total: it
// returns within a bounded time and reports failures as a miss or no-op.
type RemoteTier[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	// Set stores val for ttl. A non-positive ttl means the tier default.
	Set(ctx context.Context, key string, val V, ttl time.Duration)
	Delete(ctx context.Context, key string)
	// RemainingTTL reports how long key has left in the remote store. It
	// returns false when the key is missing, has no expiry, or the store
	// could not be asked.
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool)
}

// Outcome classifies the result of a remote command.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeMiss     Outcome = "miss"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected" // skipped by an open breaker
	OutcomeCanceled Outcome = "canceled" // abandoned by the caller
)

// Result classifies how a call was served.
type Result string

const (
	ResultLocalHit  Result = "local_hit"
	ResultRemoteHit Result = "remote_hit"
	ResultMiss      Result = "miss"
	ResultError     Result = "error"
)

// RefreshOutcome classifies one refresh-ahead evaluation.
type RefreshOutcome string

const (
	RefreshNotNeeded RefreshOutcome = "not_needed"
	RefreshDone      RefreshOutcome = "refreshed"
	RefreshFailed    RefreshOutcome = "failed"
	RefreshThrottled RefreshOutcome = "throttled"
)

// Observer receives cache events for metrics. Implementations must be safe
// for concurrent use and return quickly.
type Observer interface {
	ObserveCall(functionID string, result Result)
	ObserveLoad(functionID string, elapsed time.Duration)
	ObserveRefresh(functionID string, outcome RefreshOutcome)
	ObserveRemote(op string, outcome Outcome)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ObserveCall(string, Result)            {}
func (NopObserver) ObserveLoad(string, time.Duration)     {}
func (NopObserver) ObserveRefresh(string, RefreshOutcome) {}
func (NopObserver) ObserveRemote(string, Outcome)         {}

var _ Observer = NopObserver{}
