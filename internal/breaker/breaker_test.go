package breaker

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var errUpstream = errors.New("upstream down")

func fail() (string, error)    { return "", errUpstream }
func succeed() (string, error) { return "ok", nil }

func fallbackTo(got *error) func(error) string {
	return func(err error) string {
		*got = err
		return "fallback"
	}
}

func newTestBreaker(c *clock, transitions *[]State) *Breaker {
	return New("directory", Settings{
		FailureThreshold: 3,
		OpenTimeout:      time.Second,
		HalfOpenMaxCalls: 2,
		Now:              c.now,
		OnStateChange:    func(_ string, _, to State) { *transitions = append(*transitions, to) },
	})
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var seen []State
	b := newTestBreaker(c, &seen)

	var gotErr error
	for i := 0; i < 3; i++ {
		if v := Call(b, fail, fallbackTo(&gotErr)); v != "fallback" {
			t.Fatalf("call %d returned %q", i, v)
		}
		if !errors.Is(gotErr, errUpstream) {
			t.Fatalf("fallback got %v", gotErr)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want OPEN", b.State())
	}

	called := false
	Call(b, func() (string, error) { called = true; return "ok", nil }, fallbackTo(&gotErr))
	if called {
		t.Fatal("open breaker must not call upstream")
	}
	if !errors.Is(gotErr, ErrOpen) {
		t.Fatalf("fallback got %v, want ErrOpen", gotErr)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var seen []State
	b := newTestBreaker(c, &seen)
	var gotErr error

	Call(b, fail, fallbackTo(&gotErr))
	Call(b, fail, fallbackTo(&gotErr))
	Call(b, succeed, fallbackTo(&gotErr))
	Call(b, fail, fallbackTo(&gotErr))
	Call(b, fail, fallbackTo(&gotErr))
	if b.State() != Closed {
		t.Fatalf("state = %v, want CLOSED", b.State())
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var seen []State
	b := newTestBreaker(c, &seen)
	var gotErr error
	for i := 0; i < 3; i++ {
		Call(b, fail, fallbackTo(&gotErr))
	}

	c.advance(time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", b.State())
	}
	if v := Call(b, succeed, fallbackTo(&gotErr)); v != "ok" {
		t.Fatalf("trial call returned %q", v)
	}
	if b.State() != HalfOpen {
		t.Fatalf("one success of two must keep HALF_OPEN, got %v", b.State())
	}
	Call(b, succeed, fallbackTo(&gotErr))
	if b.State() != Closed {
		t.Fatalf("state = %v, want CLOSED", b.State())
	}

	want := []State{Open, HalfOpen, Closed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var seen []State
	b := newTestBreaker(c, &seen)
	var gotErr error
	for i := 0; i < 3; i++ {
		Call(b, fail, fallbackTo(&gotErr))
	}
	c.advance(2 * time.Second)

	Call(b, fail, fallbackTo(&gotErr))
	if b.State() != Open {
		t.Fatalf("state = %v, want OPEN", b.State())
	}
	c.advance(500 * time.Millisecond)
	if b.State() != Open {
		t.Fatal("reopened breaker must wait a full timeout")
	}
}

func TestBreakerHalfOpenLimitsTrialCalls(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var seen []State
	b := newTestBreaker(c, &seen)
	var gotErr error
	for i := 0; i < 3; i++ {
		Call(b, fail, fallbackTo(&gotErr))
	}
	c.advance(time.Second)

	// two trial slots; the third concurrent call is rejected
	first, err := b.acquire()
	if err != nil {
		t.Fatalf("first trial rejected: %v", err)
	}
	second, err := b.acquire()
	if err != nil {
		t.Fatalf("second trial rejected: %v", err)
	}
	if _, err := b.acquire(); !errors.Is(err, ErrOpen) {
		t.Fatalf("third trial = %v, want ErrOpen", err)
	}
	b.release(first, true)
	b.release(second, true)
	if b.State() != Closed {
		t.Fatalf("state = %v, want CLOSED", b.State())
	}
}

func TestBreakerDropsOutcomeOfCallAdmittedBeforeTrip(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var seen []State
	b := newTestBreaker(c, &seen)
	var gotErr error

	slow, err := b.acquire()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		Call(b, fail, fallbackTo(&gotErr))
	}
	c.advance(time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", b.State())
	}

	b.release(slow, true)
	b.mu.Lock()
	inFlight, successes := b.inFlight, b.successes
	b.mu.Unlock()
	if inFlight != 0 || successes != 0 {
		t.Fatalf("late success counted as a trial: inFlight=%d successes=%d", inFlight, successes)
	}

	b.release(slow, false)
	if b.State() != HalfOpen {
		t.Fatalf("late failure reopened the breaker: %v", b.State())
	}

	Call(b, succeed, fallbackTo(&gotErr))
	Call(b, succeed, fallbackTo(&gotErr))
	if b.State() != Closed {
		t.Fatalf("state = %v, want CLOSED after two real trials", b.State())
	}
}

func TestBreakerDropsOutcomeOfTrialAfterReopen(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var seen []State
	b := newTestBreaker(c, &seen)
	var gotErr error
	for i := 0; i < 3; i++ {
		Call(b, fail, fallbackTo(&gotErr))
	}
	c.advance(time.Second)

	trial, err := b.acquire()
	if err != nil {
		t.Fatal(err)
	}
	Call(b, fail, fallbackTo(&gotErr))
	if b.State() != Open {
		t.Fatalf("state = %v, want OPEN", b.State())
	}
	b.release(trial, true)
	if b.State() != Open {
		t.Fatalf("stale trial success moved the breaker to %v", b.State())
	}
}
