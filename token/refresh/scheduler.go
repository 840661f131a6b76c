package refresh

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-auth-client/token/jwt"
)

// DefaultSkew is how long before expiry the proactive refresh fires.
const DefaultSkew = 10 * time.Second

// Delay returns how long to wait before refreshing a token expiring at exp.
// It never returns a negative duration.
func Delay(exp, now time.Time, skew time.Duration) time.Duration {
	d := exp.Sub(now) - skew
	if d < 0 {
		return 0
	}
	return d
}

// Scheduler owns at most one pending proactive-refresh timer.
type Scheduler struct {
	clock clockwork.Clock
	skew  time.Duration
	fire  func()

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64 // bumped on every cancel; a callback from an older generation is a no-op
	pending bool
}

func NewScheduler(clock clockwork.Clock, skew time.Duration, fire func()) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, skew: skew, fire: fire}
}

// Schedule cancels any pending timer and arms a new one for token. When the
// token cannot be decoded nothing is armed and the jwt.ErrDecode is returned.
func (s *Scheduler) Schedule(token string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	exp, err := jwt.DecodeExpiry(token)
	if err != nil {
		return 0, err
	}

	delay := Delay(exp, s.clock.Now(), s.skew)
	gen := s.gen
	s.pending = true
	// The callback hops to its own goroutine: a fake clock may run it inline
	// while mu is still held here.
	s.timer = s.clock.AfterFunc(delay, func() { go s.onFire(gen) })
	return delay, nil
}

// Cancel clears the pending timer. Safe to call repeatedly.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Pending reports whether a timer is armed and has not fired yet.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler) cancelLocked() {
	s.gen++
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) onFire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	if s.fire != nil {
		s.fire()
	}
}
