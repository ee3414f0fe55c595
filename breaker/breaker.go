// Package breaker provides the circuit breaker that guards the remote cache
// tier. While the breaker is open, remote operations are skipped and reported
// as misses, so a dead Redis costs nothing instead of one command timeout per
// call.
//
// States:
//   - Closed: commands are issued; consecutive failures are counted.
//   - Open: commands are skipped until OpenTimeout has elapsed.
//   - HalfOpen: up to HalfOpenMaxSuccess probe commands are let through. If
//     all of them succeed the breaker closes; any failure reopens it.
package breaker

import (
	"sync"
	"time"
)

// State represents the current circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker parameters. Zero fields are replaced by
// the values from DefaultConfig.
type Config struct {
	// FailureThreshold is the number of consecutive failed remote commands
	// that trips the breaker.
	FailureThreshold int

	// OpenTimeout is how long remote commands are skipped before probing.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccess is the number of consecutive successful probes
	// needed to close the breaker again.
	HalfOpenMaxSuccess int
}

// DefaultConfig trips after 5 consecutive failures and probes again after
// one second.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		OpenTimeout:        time.Second,
		HalfOpenMaxSuccess: 1,
	}
}

// Breaker is a minimal circuit breaker. All methods are safe for concurrent
// use. A nil *Breaker always allows and ignores results.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state     State
	failures  int // consecutive failures in Closed
	successes int // consecutive successes in HalfOpen
	openedAt  time.Time
	nowFunc   func() time.Time // for testing; defaults to time.Now
}

// New creates a Breaker with the given configuration.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxSuccess <= 0 {
		cfg.HalfOpenMaxSuccess = def.HalfOpenMaxSuccess
	}
	return &Breaker{
		cfg:     cfg,
		state:   Closed,
		nowFunc: time.Now,
	}
}

// State returns the current state. An Open breaker whose timeout has elapsed
// reports HalfOpen.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkOpenTimeout()
	return b.state
}

// Allow reports whether a remote command may be issued.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkOpenTimeout()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return b.successes < b.cfg.HalfOpenMaxSuccess
	default:
		return false
	}
}

// Record feeds the outcome of a remote command into the breaker. A nil err
// counts as a success.
func (b *Breaker) Record(err error) {
	if err != nil {
		b.OnFailure()
		return
	}
	b.OnSuccess()
}

// OnSuccess records a successful remote command.
func (b *Breaker) OnSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxSuccess {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	}
}

// OnFailure records a failed or timed-out remote command.
func (b *Breaker) OnFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case HalfOpen:
		b.toOpen()
	}
}

// checkOpenTimeout moves Open to HalfOpen once OpenTimeout has elapsed.
// Must be called with b.mu held.
func (b *Breaker) checkOpenTimeout() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = HalfOpen
		b.successes = 0
	}
}

func (b *Breaker) toOpen() {
	b.state = Open
	b.openedAt = b.now()
	b.successes = 0
	b.failures = 0
}

func (b *Breaker) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}
