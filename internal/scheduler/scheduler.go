package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"media-acquirer/internal/metrics"
)

// TaskFunc is one sweep run.
type TaskFunc func(ctx context.Context) error

// Task is a named recurring job. Its running flag makes runs exclusive:
// a trigger arriving while a run is in flight is skipped, not queued.
type Task struct {
	Name     string
	Interval time.Duration

	fn      TaskFunc
	running atomic.Bool
	log     *logrus.Logger
	metrics *metrics.Metrics
}

// Trigger runs the task unless a run is already in flight. It reports
// whether the task ran.
func (t *Task) Trigger(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		t.log.WithField("sweep", t.Name).Debug("previous run still in flight, skipping")
		t.metrics.SweepSkipped(t.Name)
		return false
	}
	defer t.running.Store(false)

	start := time.Now()
	err := t.fn(ctx)
	elapsed := time.Since(start)
	t.metrics.ObserveSweep(t.Name, elapsed)

	entry := t.log.WithFields(logrus.Fields{"sweep": t.Name, "elapsed": elapsed.Round(time.Millisecond)})
	if err != nil {
		entry.WithError(err).Warn("sweep failed")
	} else {
		entry.Debug("sweep finished")
	}
	return true
}

func (t *Task) Running() bool {
	return t.running.Load()
}

// Scheduler drives registered tasks from tickers.
type Scheduler struct {
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	tasks []*Task
	wg    sync.WaitGroup
}

func New(log *logrus.Logger, m *metrics.Metrics) *Scheduler {
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{log: log, metrics: m}
}

// RunEvery registers fn to run every interval once Start is called.
func (s *Scheduler) RunEvery(name string, interval time.Duration, fn TaskFunc) *Task {
	t := &Task{Name: name, Interval: interval, fn: fn, log: s.log, metrics: s.metrics}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return t
}

// Start launches one loop per task. Each loop fires immediately and then on
// every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

// Wait blocks until every loop and in-flight run has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t *Task) {
	defer s.wg.Done()
	s.log.WithFields(logrus.Fields{"sweep": t.Name, "interval": t.Interval}).Info("scheduler started")

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	var runs sync.WaitGroup
	defer runs.Wait()

	fire := func() {
		runs.Add(1)
		go func() {
			defer runs.Done()
			t.Trigger(ctx)
		}()
	}

	fire()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}
