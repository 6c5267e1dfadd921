// Package breaker implements a circuit breaker for one remote dependency.
//
// A Breaker is an explicit value: construct one per protected dependency and
// inject it where the calls are made. Call is the only way to run work
// through it.
package breaker

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is handed to the fallback when a call was short-circuited.
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	// FailureThreshold consecutive failures trip a closed breaker.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before trial calls.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls trial calls are admitted while half-open; that many
	// successes close the breaker again.
	HalfOpenMaxCalls int
	// OnStateChange, when set, is called with the lock held.
	OnStateChange func(name string, from, to State)
	// Now is the clock; tests replace it.
	Now func() time.Time
}

type Breaker struct {
	name string
	cfg  Settings

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
	// gen changes on every state change; outcomes of calls admitted under
	// an older generation are dropped.
	gen uint64
}

func New(name string, cfg Settings) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: name, cfg: cfg}
}

func (b *Breaker) Name() string { return b.name }

// State reports the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireOpen()
	return b.state
}

// Call runs fn through the breaker. fallback receives fn's error, or ErrOpen
// when the call was rejected, and its result is returned instead.
func Call[T any](b *Breaker, fn func() (T, error), fallback func(error) T) T {
	gen, err := b.acquire()
	if err != nil {
		return fallback(err)
	}
	v, err := fn()
	b.release(gen, err == nil)
	if err != nil {
		return fallback(err)
	}
	return v
}

func (b *Breaker) acquire() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireOpen()
	switch b.state {
	case Open:
		return 0, ErrOpen
	case HalfOpen:
		if b.inFlight+b.successes >= b.cfg.HalfOpenMaxCalls {
			return 0, ErrOpen
		}
		b.inFlight++
	}
	return b.gen, nil
}

func (b *Breaker) release(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		// admitted before the last state change
		return
	}
	switch b.state {
	case Closed:
		if ok {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.inFlight--
		if !ok {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxCalls {
			b.setState(Closed)
		}
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.cfg.Now()
	b.setState(Open)
}

func (b *Breaker) expireOpen() {
	if b.state == Open && b.cfg.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.setState(HalfOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	b.gen++
	b.failures = 0
	b.inFlight = 0
	b.successes = 0
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
