package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
)

// fakeClock drives both the store stamps and the scheduler timers.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: len(c.timers), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and fires every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.f()
	}
}

// stubGenerator answers synchronously and records every question it sees.
type stubGenerator struct {
	mu        sync.Mutex
	questions []string
	histories [][]chat.Turn
	fail      bool
	hook      func(question string)
}

var errStubGeneration = errors.New("model unavailable")

func (g *stubGenerator) Generate(_ context.Context, question string, history []chat.Turn) (string, error) {
	g.mu.Lock()
	g.questions = append(g.questions, question)
	g.histories = append(g.histories, history)
	fail := g.fail
	hook := g.hook
	g.mu.Unlock()

	if hook != nil {
		hook(question)
	}
	if fail {
		return "", errStubGeneration
	}
	return "answer: " + question, nil
}

func (g *stubGenerator) Questions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.questions...)
}

type recordingRecorder struct {
	mu      sync.Mutex
	entries []chat.Interaction
}

func (r *recordingRecorder) Record(_ context.Context, interaction chat.Interaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, interaction)
}

func (r *recordingRecorder) Entries() []chat.Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Interaction(nil), r.entries...)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("turn-%d", n)
	}
}

// newTestStore returns a store stamped by clock with predictable turn ids.
func newTestStore(clock *fakeClock, historyLimit int) *Store {
	store := NewStore(historyLimit)
	store.now = clock.Now
	store.newID = sequentialIDs()
	return store
}

// newTestService wires a service whose time only moves via clock.Advance.
func newTestService(clock *fakeClock, gen Generator, window time.Duration, opts ...Option) *Service {
	opts = append([]Option{WithStore(newTestStore(clock, 0))}, opts...)
	svc, err := NewService(gen, Config{ComposeWindow: window}, opts...)
	if err != nil {
		panic(err)
	}
	svc.scheduler.afterFunc = clock.AfterFunc
	return svc
}
