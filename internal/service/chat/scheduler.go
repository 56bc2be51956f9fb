package chat

import (
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
)

// DefaultComposeWindow is the silence required before a turn is considered complete.
const DefaultComposeWindow = 10 * time.Second

// FinalizeFunc receives a drained question. It is called at most once per turn.
type FinalizeFunc func(key chat.SessionKey, question, turnID string)

type stopper interface {
	Stop() bool
}

// Scheduler implements trailing-edge debounce by racing checks instead of
// cancelling timers: every fragment arms a check, and only the check armed
// for the latest stamp finds the session still idle and drains it.
type Scheduler struct {
	store    *Store
	window   time.Duration
	finalize FinalizeFunc
	metrics  *Metrics

	// afterFunc is injectable for testing. Defaults to time.AfterFunc.
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	pending map[*armedCheck]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type armedCheck struct {
	timer stopper
}

// NewScheduler creates a scheduler. window <= 0 selects DefaultComposeWindow.
func NewScheduler(store *Store, window time.Duration, finalize FinalizeFunc, metrics *Metrics) *Scheduler {
	if window <= 0 {
		window = DefaultComposeWindow
	}
	return &Scheduler{
		store:    store,
		window:   window,
		finalize: finalize,
		metrics:  metrics,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		pending: make(map[*armedCheck]struct{}),
	}
}

// Window returns the configured debounce window.
func (s *Scheduler) Window() time.Duration {
	return s.window
}

// Arm schedules a finalize check for the fragment stamped at stamp.
// Checks armed earlier for the same session are left to run and no-op.
func (s *Scheduler) Arm(key chat.SessionKey, stamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	armed := &armedCheck{}
	s.pending[armed] = struct{}{}
	s.wg.Add(1)
	armed.timer = s.afterFunc(s.window, func() {
		defer s.wg.Done()
		if !s.release(armed) {
			return
		}
		s.check(key, stamp)
	})
}

// release removes armed from the pending set. It reports false if Close
// already claimed it.
func (s *Scheduler) release(armed *armedCheck) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[armed]; !ok {
		return false
	}
	delete(s.pending, armed)
	return !s.closed
}

func (s *Scheduler) check(key chat.SessionKey, stamp time.Time) {
	if s.store.LastUpdate(key).After(stamp) {
		s.metrics.staleCheck()
		return
	}

	question, turnID, outcome := s.store.DrainIfIdle(key, stamp)
	switch outcome {
	case DrainDeferred:
		s.metrics.turnDeferred()
		log.Printf("[compose] session=%s turn complete, waiting for the in-flight turn", key)
		return
	case DrainStale:
		// A newer fragment landed between the read and the drain, or another
		// check already drained this turn.
		s.metrics.staleCheck()
		return
	}

	s.metrics.turnFinalized()
	s.finalize(key, question, turnID)
}

// Close stops all pending checks and waits for running ones to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for armed := range s.pending {
		if armed.timer != nil && armed.timer.Stop() {
			s.wg.Done()
		}
		delete(s.pending, armed)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
