// Package control is the trigger surface over crawls and validity checks.
// Every operation returns immediately with a task id; progress and results
// land in the task registry.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ETAnderson/pricewatch/internal/crawl"
	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/recheck"
	"github.com/ETAnderson/pricewatch/internal/runstate"
	"github.com/ETAnderson/pricewatch/internal/state"
)

const (
	TriggerManual     = "manual"
	TriggerContinuous = "continuous"
	TriggerScheduled  = "scheduled"
	TriggerRestart    = "restart"

	ManualPages  = 1
	RestartPages = 100

	defaultRestartTimeout = 30 * time.Second
	defaultRestartPoll    = 500 * time.Millisecond
)

// ErrAlreadyRunning mirrors crawl.ErrAlreadyRunning for API callers.
var ErrAlreadyRunning = crawl.ErrAlreadyRunning

// ErrRestartTimeout means the previous crawl did not stop in time.
var ErrRestartTimeout = errors.New("control: previous crawl did not stop in time")

// Scheduler reports when the next scheduled crawl is due.
type Scheduler interface {
	NextRun() time.Time
}

type Service struct {
	Orchestrator *crawl.Orchestrator
	Checker      *recheck.Checker
	RunState     *runstate.Coordinator
	Tasks        *runstate.Tasks
	Store        state.Store
	Scheduler    Scheduler
	Logger       *log.Logger

	RestartTimeout time.Duration
	RestartPoll    time.Duration

	// base outlives request contexts; background work derives from it.
	base context.Context
	wg   sync.WaitGroup
}

func NewService(base context.Context, o *crawl.Orchestrator, c *recheck.Checker, tasks *runstate.Tasks, store state.Store, logger *log.Logger) *Service {
	return &Service{
		Orchestrator: o,
		Checker:      c,
		RunState:     o.RunState,
		Tasks:        tasks,
		Store:        store,
		Logger:       logger,
		base:         base,
	}
}

// StartCrawl claims the run slot and crawls in the background. It fails
// with ErrAlreadyRunning, registering nothing, when a crawl is active.
func (s *Service) StartCrawl(trigger string, maxPages int) (string, error) {
	run, err := s.Orchestrator.Start(crawl.RunOptions{
		Trigger:  trigger,
		MaxPages: maxPages,
	})
	if err != nil {
		return "", err
	}

	id := s.Tasks.Register("crawl", crawlDescription(trigger, maxPages))
	s.goCrawl(id, run, maxPages)
	return id, nil
}

func (s *Service) Manual() (string, error) {
	return s.StartCrawl(TriggerManual, ManualPages)
}

func (s *Service) Continuous() (string, error) {
	return s.StartCrawl(TriggerContinuous, crawl.Unbounded)
}

// Scheduled starts a crawl bounded by auto_scrape_max_pages.
func (s *Service) Scheduled(ctx context.Context) (string, error) {
	sched, err := crawl.LoadSchedule(ctx, s.Store)
	if err != nil {
		return "", err
	}
	return s.StartCrawl(TriggerScheduled, sched.MaxPages)
}

// Stop requests a cooperative stop. It reports whether a crawl was running.
func (s *Service) Stop() bool {
	running := s.RunState.IsRunning()
	s.RunState.RequestStop()
	s.logf("stop requested (crawl running=%v)", running)
	return running
}

// Restart stops the current crawl, waits for it to exit, then starts a
// RestartPages crawl so new configuration takes effect.
func (s *Service) Restart() string {
	id := s.Tasks.Register("restart", "restart crawl with current configuration")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if s.RunState.IsRunning() {
			s.RunState.RequestStop()
			msg := "waiting for the current crawl to stop"
			s.Tasks.Update(id, runstate.TaskUpdate{Message: &msg})

			if !s.waitIdle(s.ctx()) {
				s.Tasks.Finish(id, runstate.TaskStatusFailed, ErrRestartTimeout.Error())
				return
			}
		}

		run, err := s.Orchestrator.Start(crawl.RunOptions{Trigger: TriggerRestart, MaxPages: RestartPages})
		if err != nil {
			s.Tasks.Finish(id, runstate.TaskStatusFailed, err.Error())
			return
		}
		s.runCrawl(id, run, RestartPages)
	}()

	return id
}

// CheckValidity re-verifies the listings of one SKU in the background.
func (s *Service) CheckValidity(goodsID int64) string {
	id := s.Tasks.Register("validity", fmt.Sprintf("validity check goods_id=%d", goodsID))

	// A stop left over from a finished crawl would skip every check.
	if !s.RunState.IsRunning() {
		s.RunState.ClearStop()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		res, err := s.Checker.CheckWithProgress(s.ctx(), goodsID, func(checked, budget int) {
			s.Tasks.Update(id, runstate.TaskUpdate{Progress: &checked, Total: &budget})
		})
		if err != nil {
			s.Tasks.Finish(id, runstate.TaskStatusFailed, err.Error())
			return
		}

		msg := fmt.Sprintf("checked %d, removed %d", res.Checked, res.Removed)
		status := runstate.TaskStatusCompleted
		if res.Stopped {
			status = runstate.TaskStatusStopped
		}
		s.Tasks.Finish(id, status, msg)
	}()

	return id
}

// Status is the snapshot served to the control API.
type Status struct {
	IsRunning        bool             `json:"is_running"`
	StopRequested    bool             `json:"stop_requested"`
	SchedulerEnabled bool             `json:"scheduler_enabled"`
	IntervalMinutes  int              `json:"scrape_interval_minutes"`
	MaxPages         int              `json:"auto_scrape_max_pages"`
	NextRun          *time.Time       `json:"next_run,omitempty"`
	LastRun          *state.RunRecord `json:"last_run,omitempty"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	sched, err := crawl.LoadSchedule(ctx, s.Store)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		IsRunning:        s.RunState.IsRunning(),
		StopRequested:    s.RunState.StopRequested(),
		SchedulerEnabled: sched.Enabled,
		IntervalMinutes:  int(sched.Interval / time.Minute),
		MaxPages:         sched.MaxPages,
	}

	if s.Scheduler != nil && sched.Enabled {
		if next := s.Scheduler.NextRun(); !next.IsZero() {
			st.NextRun = &next
		}
	}

	runs, err := s.Store.ListRuns(ctx, 1)
	if err != nil {
		return Status{}, err
	}
	if len(runs) > 0 {
		st.LastRun = &runs[0]
	}
	return st, nil
}

func (s *Service) ListTasks() []runstate.Task {
	return s.Tasks.ListActive()
}

// Wait blocks until background work has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) goCrawl(id string, run func(context.Context) (crawl.RunResult, error), maxPages int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCrawl(id, run, maxPages)
	}()
}

func (s *Service) runCrawl(id string, run func(context.Context) (crawl.RunResult, error), maxPages int) {
	if maxPages > 0 {
		s.Tasks.Update(id, runstate.TaskUpdate{Total: &maxPages})
	}

	res, err := run(s.ctx())

	msg := fmt.Sprintf("pages %d, new %d, changed %d, rejected %d", res.Pages, res.New, res.Changed, res.Rejected)
	switch {
	case err != nil && errors.Is(err, crawl.ErrMissingCookie):
		s.Tasks.Finish(id, runstate.TaskStatusFailed, "no valid cookie configured")
	case err != nil:
		s.Tasks.Finish(id, runstate.TaskStatusFailed, fmt.Sprintf("%s: %v", msg, err))
	case res.Status == domain.RunStatusStopped:
		s.Tasks.Update(id, runstate.TaskUpdate{Progress: &res.Pages})
		s.Tasks.Finish(id, runstate.TaskStatusStopped, msg)
	default:
		s.Tasks.Update(id, runstate.TaskUpdate{Progress: &res.Pages})
		s.Tasks.Finish(id, runstate.TaskStatusCompleted, msg)
	}
}

// waitIdle polls until no crawl is running or the restart timeout passes.
func (s *Service) waitIdle(ctx context.Context) bool {
	timeout := s.RestartTimeout
	if timeout <= 0 {
		timeout = defaultRestartTimeout
	}
	poll := s.RestartPoll
	if poll <= 0 {
		poll = defaultRestartPoll
	}

	deadline := time.Now().Add(timeout)
	for s.RunState.IsRunning() {
		if time.Now().After(deadline) {
			return false
		}
		if err := feed.SleepContext(ctx, poll); err != nil {
			return false
		}
	}
	return true
}

func (s *Service) ctx() context.Context {
	if s.base != nil {
		return s.base
	}
	return context.Background()
}

func (s *Service) logf(format string, args ...any) {
	l := s.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}

func crawlDescription(trigger string, maxPages int) string {
	if maxPages == crawl.Unbounded {
		return fmt.Sprintf("%s crawl (unbounded)", trigger)
	}
	return fmt.Sprintf("%s crawl (%d pages)", trigger, maxPages)
}
