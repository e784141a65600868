package scheduler

import (
	"sync"
	"time"

	"quizbot-service/internal/domain"
)

const defaultBuffer = 64

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a single-shot timer. time.AfterFunc is the production implementation.
type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Scheduler)

// WithAfterFunc replaces the timer source, used by tests to control time.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Scheduler) { s.afterFunc = f }
}

// WithBuffer sets the capacity of the expiry channel.
func WithBuffer(n int) Option {
	return func(s *Scheduler) { s.buffer = n }
}

// Scheduler keeps at most one armed timer per user and delivers expiries on a channel.
// Cancellation is advisory: a timer that already fired may still be delivered, so consumers
// must check the token.
type Scheduler struct {
	afterFunc AfterFunc
	buffer    int

	mu     sync.Mutex
	timers map[string]*armed

	out       chan domain.EventTimeoutExpired
	done      chan struct{}
	closeOnce sync.Once
}

type armed struct {
	token string
	timer Timer
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		buffer:    defaultBuffer,
		timers:    make(map[string]*armed),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.out = make(chan domain.EventTimeoutExpired, s.buffer)
	return s
}

// Arm schedules a timeout for the user tagged with token, replacing any previous timer.
func (s *Scheduler) Arm(userID, token string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	if prev, ok := s.timers[userID]; ok {
		prev.timer.Stop()
	}
	a := &armed{token: token}
	s.timers[userID] = a
	a.timer = s.afterFunc(delay, func() { s.fire(userID, a) })
}

// Cancel stops the user's timer if it has not fired yet.
func (s *Scheduler) Cancel(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.timers[userID]; ok {
		a.timer.Stop()
		delete(s.timers, userID)
	}
}

// armedToken returns the token of the user's live timer.
func (s *Scheduler) armedToken(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.timers[userID]
	if !ok {
		return "", false
	}
	return a.token, true
}

// Expired delivers fired timers.
func (s *Scheduler) Expired() <-chan domain.EventTimeoutExpired {
	return s.out
}

// Close stops all timers and unblocks pending deliveries. Arm is a no-op afterwards.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		for userID, a := range s.timers {
			a.timer.Stop()
			delete(s.timers, userID)
		}
		close(s.done)
		s.mu.Unlock()
	})
}

func (s *Scheduler) fire(userID string, a *armed) {
	s.mu.Lock()
	if s.timers[userID] != a {
		// replaced or cancelled after the timer already started running
		s.mu.Unlock()
		return
	}
	delete(s.timers, userID)
	s.mu.Unlock()

	select {
	case s.out <- domain.EventTimeoutExpired{UserID: userID, Token: a.token}:
	case <-s.done:
	}
}
