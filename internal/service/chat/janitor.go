package chat

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle-session sweep every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// Janitor periodically evicts sessions that have been idle longer than maxIdle.
type Janitor struct {
	store    *Store
	metrics  *Metrics
	maxIdle  time.Duration
	schedule string

	mu   sync.Mutex
	cron *cron.Cron
	lock sync.Mutex
}

// NewJanitor creates a janitor. An empty schedule selects DefaultSweepSchedule.
func NewJanitor(store *Store, maxIdle time.Duration, schedule string, metrics *Metrics) *Janitor {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Janitor{
		store:    store,
		metrics:  metrics,
		maxIdle:  maxIdle,
		schedule: schedule,
	}
}

// Start registers the sweep and starts the cron runner.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(j.schedule, j.tick); err != nil {
		return fmt.Errorf("janitor: invalid schedule %q: %w", j.schedule, err)
	}

	c.Start()
	j.cron = c
	log.Printf("[janitor] started schedule=%q maxIdle=%s", j.schedule, j.maxIdle)
	return nil
}

// tick skips a run while the previous sweep is still in progress.
func (j *Janitor) tick() {
	if !j.lock.TryLock() {
		log.Println("[janitor] previous sweep still running, skipping tick")
		return
	}
	defer j.lock.Unlock()
	j.Sweep()
}

// Sweep prunes idle sessions once and returns how many were removed.
func (j *Janitor) Sweep() int {
	pruned := j.store.Prune(j.maxIdle)
	j.metrics.pruned(pruned)
	if pruned > 0 {
		log.Printf("[janitor] pruned %d idle sessions", pruned)
	}
	return pruned
}

// Stop halts the cron runner and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
	log.Println("[janitor] stopped")
}
