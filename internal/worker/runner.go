package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ETAnderson/pricewatch/internal/crawl"
	"github.com/ETAnderson/pricewatch/internal/runstate"
)

// Trigger starts a scheduled crawl and returns its task id.
type Trigger interface {
	Scheduled(ctx context.Context) (string, error)
}

// Runner is the periodic crawl scheduler. It re-reads scheduler_enabled and
// scrape_interval_minutes on every tick, so changes apply without a restart.
type Runner struct {
	Store     crawl.ConfigStore
	Trigger   Trigger
	RunState  *runstate.Coordinator
	PollEvery time.Duration
	Logger    *log.Logger

	Now func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	nextRun time.Time
}

func (r *Runner) Run(ctx context.Context) error {
	if r.Store == nil {
		return errors.New("store is nil")
	}
	if r.Trigger == nil {
		return errors.New("trigger is nil")
	}
	if r.PollEvery <= 0 {
		r.PollEvery = 30 * time.Second
	}

	r.mu.Lock()
	if r.lastRun.IsZero() {
		// The first scheduled crawl is one interval after startup.
		r.lastRun = r.now()
	}
	r.mu.Unlock()

	ticker := time.NewTicker(r.PollEvery)
	defer ticker.Stop()

	// one immediate pass
	if err := r.tick(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// NextRun is when the next crawl is due, zero while the scheduler is off.
func (r *Runner) NextRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextRun
}

func (r *Runner) tick(ctx context.Context) error {
	sched, err := crawl.LoadSchedule(ctx, r.Store)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// storage hiccup; try again next tick
		r.logf("scheduler: load schedule: %v", err)
		return nil
	}

	now := r.now()

	r.mu.Lock()
	if !sched.Enabled {
		r.nextRun = time.Time{}
		r.mu.Unlock()
		return nil
	}
	r.nextRun = r.lastRun.Add(sched.Interval)
	due := !now.Before(r.nextRun)
	if due {
		r.lastRun = now
		r.nextRun = now.Add(sched.Interval)
	}
	r.mu.Unlock()

	if !due {
		return nil
	}

	if r.RunState != nil && r.RunState.IsRunning() {
		r.logf("scheduler: crawl already running; skipping this slot")
		return nil
	}

	id, err := r.Trigger.Scheduled(ctx)
	switch {
	case errors.Is(err, crawl.ErrAlreadyRunning):
		r.logf("scheduler: crawl already running; skipping this slot")
	case err != nil:
		r.logf("scheduler: start crawl: %v", err)
	default:
		r.logf("scheduler: started scheduled crawl task=%s max_pages=%d", id, sched.MaxPages)
	}
	return nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) logf(format string, args ...any) {
	l := r.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}
