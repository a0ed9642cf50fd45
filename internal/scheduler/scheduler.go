package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"cartbroker/internal/metrics"

	"github.com/rs/zerolog"
)

// JobFunc is one unit of periodic work. now is the tick time.
type JobFunc func(ctx context.Context, now time.Time) error

type job struct {
	name    string
	every   time.Duration
	fn      JobFunc
	lastRun time.Time
	running bool
}

// Scheduler drives periodic jobs off one ticker. Under Start every job runs
// on its own goroutine, so a slow refresh does not hold back reminders.
type Scheduler struct {
	tick   time.Duration
	clock  func() time.Time
	logger *zerolog.Logger

	mu   sync.Mutex
	jobs []*job
}

type Option func(*Scheduler)

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func New(tick time.Duration, logger *zerolog.Logger, opts ...Option) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	l := logger.With().Str("component", "scheduler").Logger()
	s := &Scheduler{tick: tick, clock: time.Now, logger: &l}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. A job with every <= 0 runs on each tick.
func (s *Scheduler) Add(name string, every time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{name: name, every: every, fn: fn})
}

// Start blocks until ctx is cancelled and every started job has returned.
// A job still running from an earlier tick is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info().Dur("tick", s.tick).Int("jobs", len(s.jobs)).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			now := s.clock()
			for _, j := range s.claim(now) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer s.release(j)
					_ = s.run(ctx, j, now)
				}()
			}
		}
	}
}

// RunDue runs every job whose interval has elapsed since its last run, one
// after another, and returns how many ran. Jobs never run before are due.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	ran := 0
	for _, j := range s.claim(now) {
		if ctx.Err() == nil {
			_ = s.run(ctx, j, now)
			ran++
		}
		s.release(j)
	}
	return ran
}

// RunNow runs the named job immediately, regardless of its interval.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *job
	for _, j := range s.jobs {
		if j.name == name {
			target = j
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, target, s.clock())
}

// claim marks the due jobs as running and returns them.
func (s *Scheduler) claim(now time.Time) []*job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*job
	for _, j := range s.jobs {
		if j.running {
			continue
		}
		// допуск в полсекунды, чтобы тикер с дрожанием не пропускал запуск
		if j.lastRun.IsZero() || now.Sub(j.lastRun) >= j.every-500*time.Millisecond {
			j.running = true
			out = append(out, j)
		}
	}
	return out
}

func (s *Scheduler) release(j *job) {
	s.mu.Lock()
	j.running = false
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, j *job, now time.Time) (err error) {
	s.mu.Lock()
	j.lastRun = now
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
			metrics.IncJob(j.name, "panic")
			s.logger.Error().
				Str("job", j.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panicked")
		}
	}()

	started := time.Now()
	if err = j.fn(ctx, now); err != nil {
		metrics.IncJob(j.name, "error")
		s.logger.Error().Err(err).Str("job", j.name).Msg("job failed")
		return err
	}
	metrics.IncJob(j.name, "ok")
	s.logger.Debug().Str("job", j.name).Dur("took", time.Since(started)).Msg("job done")
	return nil
}
