// Package scheduler runs the recurring jobs: pipeline polling, cache cleanup
// and the daily digest.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job receives a context that is cancelled only after Stop has waited for
// running jobs, so an in-flight run always finishes its stages.
type Job func(ctx context.Context)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a 5-field cron expression or a descriptor such as
// "@every 1m" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	return parser.Parse(spec)
}

type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	entries map[string]cron.EntryID
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		loc:     loc,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a named job. An overlapping tick is skipped while the
// previous invocation of the same job is still running.
func (s *Scheduler) Add(name, spec string, job Job) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		start := time.Now()
		job(s.ctx)
		log.Printf("scheduler: job=%s finished in %s", name, time.Since(start).Round(time.Millisecond))
	}))
	s.mu.Lock()
	s.entries[name] = id
	s.mu.Unlock()
	log.Printf("scheduler: job=%s scheduled (%s)", name, spec)
	return nil
}

// Next reports when a named job fires next. Zero if unknown or not started.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	for name, id := range s.entries {
		next := s.cron.Entry(id).Next
		if !next.IsZero() {
			log.Printf("scheduler: next %s at %s", name, next.In(s.loc).Format("Mon Jan 2 15:04:05"))
		}
	}
}

// Stop halts the timer and waits for running jobs to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		s.cancel()
		return nil
	}
	done := s.cron.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		log.Printf("scheduler: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		log.Printf("scheduler: skipped tick, previous run still active")
	}
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Printf("scheduler: %s: %v %v", msg, err, keysAndValues)
}
