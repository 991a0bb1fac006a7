// Package crawl drives one paginated pass over the listing feed.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/ingest"
	"github.com/ETAnderson/pricewatch/internal/metrics"
	"github.com/ETAnderson/pricewatch/internal/runstate"
	"github.com/ETAnderson/pricewatch/internal/state"
)

var (
	// ErrAlreadyRunning is returned when another crawl holds the run slot.
	ErrAlreadyRunning = errors.New("crawl: already running")

	// ErrMissingCookie means no usable cookie is configured; the run is refused.
	ErrMissingCookie = errors.New("crawl: missing or invalid cookie")
)

// Unbounded as a page limit crawls until the feed runs out or a stop.
const Unbounded = -1

const (
	defaultPoll        = 100 * time.Millisecond
	defaultCooldown    = 5 * time.Second
	defaultBackoffStep = time.Second
	defaultMaxJitter   = time.Second
)

// Lister is the part of the feed client the crawl needs.
type Lister interface {
	ListPage(ctx context.Context, req feed.Request, s feed.Settings) (feed.Page, error)
}

// RunResult is the final record of one crawl run.
type RunResult = state.RunRecord

// PageStats are the counters for one fetched page.
type PageStats struct {
	Page      int `json:"page"`
	Items     int `json:"items"`
	New       int `json:"new"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// RunOptions tune one Run.
type RunOptions struct {
	Trigger  string
	MaxPages int

	// OnPage is called after each processed page.
	OnPage func(RunResult, PageStats)
}

type Orchestrator struct {
	Store      state.Store
	Feed       Lister
	Reconciler *ingest.Reconciler
	RunState   *runstate.Coordinator
	Logger     *log.Logger

	// Test seams; zero values use real time and randomness.
	Sleep       func(ctx context.Context, d time.Duration) error
	Rand        func() float64
	Now         func() time.Time
	Poll        time.Duration
	Cooldown    time.Duration
	BackoffStep time.Duration
	MaxJitter   time.Duration
}

// Run crawls up to maxPages pages (Unbounded for no limit).
func (o *Orchestrator) Run(ctx context.Context, maxPages int) (RunResult, error) {
	return o.RunWith(ctx, RunOptions{Trigger: "manual", MaxPages: maxPages})
}

// RunWith executes one crawl: Running, then Completed, Stopped or Failed.
// It returns ErrAlreadyRunning without side effects when a crawl is active.
func (o *Orchestrator) RunWith(ctx context.Context, opts RunOptions) (RunResult, error) {
	run, err := o.Start(opts)
	if err != nil {
		return RunResult{}, err
	}
	return run(ctx)
}

// Start claims the run slot now and returns the crawl to execute, so callers
// can reject a second trigger synchronously and run the crawl elsewhere.
// The returned function must be called exactly once; it clears the running
// flag on every exit path.
func (o *Orchestrator) Start(opts RunOptions) (func(ctx context.Context) (RunResult, error), error) {
	if !o.RunState.TrySetRunning() {
		return nil, ErrAlreadyRunning
	}
	o.RunState.ClearStop()
	metrics.CrawlRunning.Set(1)

	return func(ctx context.Context) (RunResult, error) {
		defer func() {
			// A stop aimed at this run must not leak into the next one.
			o.RunState.ClearStop()
			o.RunState.SetRunning(false)
			metrics.CrawlRunning.Set(0)
		}()
		return o.execute(ctx, opts)
	}, nil
}

func (o *Orchestrator) execute(ctx context.Context, opts RunOptions) (RunResult, error) {
	runID, err := NewRunID()
	if err != nil {
		return RunResult{}, err
	}

	rec := RunResult{
		RunID:     runID,
		Trigger:   opts.Trigger,
		Status:    domain.RunStatusRunning,
		MaxPages:  opts.MaxPages,
		StartedAt: o.now(),
	}

	settings, err := LoadSettings(ctx, o.Store)
	if err != nil {
		return o.finish(ctx, rec, domain.RunStatusFailed, fmt.Errorf("load settings: %w", err))
	}
	if err := settings.Feed.Validate(); err != nil {
		o.logf("run %s refused: no valid cookie configured", runID)
		return o.finish(ctx, rec, domain.RunStatusFailed, fmt.Errorf("%w: %v", ErrMissingCookie, err))
	}

	rec.Category = ResolveCategory(settings.Category, settings.CategoryWeights, o.rand())
	o.persist(ctx, rec)
	o.logf("run %s started trigger=%s category=%s max_pages=%d", runID, opts.Trigger, rec.Category, opts.MaxPages)

	runCtx, cancel := o.RunState.Context(ctx)
	defer cancel()

	status, loopErr := o.loop(runCtx, &rec, settings, opts)
	return o.finish(ctx, rec, status, loopErr)
}

func (o *Orchestrator) loop(ctx context.Context, rec *RunResult, s Settings, opts RunOptions) (domain.RunStatus, error) {
	interval := s.Interval
	cursor := ""

	for {
		if opts.MaxPages != Unbounded && rec.Pages >= opts.MaxPages {
			o.logf("run %s reached page limit %d", rec.RunID, opts.MaxPages)
			return domain.RunStatusCompleted, nil
		}
		if o.stopped(ctx) {
			o.logf("run %s stopped before page %d", rec.RunID, rec.Pages+1)
			return domain.RunStatusStopped, nil
		}

		page, err := o.Feed.ListPage(ctx, feed.Request{
			Cursor:          cursor,
			Category:        rec.Category,
			PriceFilters:    s.PriceFilters,
			DiscountFilters: s.DiscountFilters,
			Template:        s.Template,
		}, s.Feed)

		switch {
		case err == nil:
		case errors.Is(err, feed.ErrRateLimited):
			rec.RateLimited++
			metrics.RateLimited.Inc()
			interval += o.backoffStep()
			o.logf("run %s rate limited; interval now %s, cooling down %s", rec.RunID, interval, o.cooldown())
			if !o.pause(ctx, o.cooldown()) {
				return domain.RunStatusStopped, nil
			}
			continue
		case o.stopped(ctx):
			return domain.RunStatusStopped, nil
		default:
			o.logf("run %s failed on page %d: %v", rec.RunID, rec.Pages+1, err)
			return domain.RunStatusFailed, err
		}

		rec.Pages++
		metrics.PagesFetched.Inc()

		if len(page.Items) == 0 {
			o.logf("run %s: page %d empty; done", rec.RunID, rec.Pages)
			return domain.RunStatusCompleted, nil
		}

		stats := o.processPage(ctx, rec, page.Items)
		o.logf("run %s page %d: items=%d new=%d changed=%d rejected=%d failed=%d",
			rec.RunID, stats.Page, stats.Items, stats.New, stats.Changed, stats.Rejected, stats.Failed)
		if opts.OnPage != nil {
			opts.OnPage(*rec, stats)
		}

		if page.NextCursor == "" {
			o.logf("run %s reached end of feed", rec.RunID)
			return domain.RunStatusCompleted, nil
		}
		cursor = page.NextCursor

		if opts.MaxPages != Unbounded && rec.Pages >= opts.MaxPages {
			o.logf("run %s reached page limit %d", rec.RunID, opts.MaxPages)
			return domain.RunStatusCompleted, nil
		}

		if !o.pause(ctx, interval+o.jitter()) {
			return domain.RunStatusStopped, nil
		}
	}
}

func (o *Orchestrator) processPage(ctx context.Context, rec *RunResult, items []feed.RawItem) PageStats {
	stats := PageStats{Page: rec.Pages, Items: len(items)}

	for _, raw := range items {
		if o.stopped(ctx) {
			break
		}

		c, rej := ingest.Normalize(raw)
		if rej != "" {
			if rej == ingest.RejectMalformed {
				o.logf("run %s: skip record c2c_id=%q: %v", rec.RunID, raw.C2CItemsID, raw.DecodeErr)
			}
			stats.Rejected++
			metrics.ItemsProcessed.WithLabelValues(string(domain.ItemDispositionRejected)).Inc()
			continue
		}

		out, err := o.Reconciler.Reconcile(ctx, c, rec.Category)
		if err != nil {
			stats.Failed++
			metrics.ItemsProcessed.WithLabelValues(string(domain.ItemDispositionFailed)).Inc()
			o.logf("run %s: %v", rec.RunID, err)
			continue
		}

		d := ingest.Disposition(out)
		metrics.ItemsProcessed.WithLabelValues(string(d)).Inc()
		switch d {
		case domain.ItemDispositionNew:
			stats.New++
		case domain.ItemDispositionChanged:
			stats.Changed++
		default:
			stats.Unchanged++
		}
	}

	rec.Received += stats.Items
	rec.New += stats.New
	rec.Changed += stats.Changed
	rec.Unchanged += stats.Unchanged
	rec.Rejected += stats.Rejected
	rec.Failed += stats.Failed
	return stats
}

// pause sleeps d in poll-sized steps, returning false as soon as a stop is
// requested or ctx ends.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	poll := o.Poll
	if poll <= 0 {
		poll = defaultPoll
	}
	sleep := o.Sleep
	if sleep == nil {
		sleep = feed.SleepContext
	}

	for d > 0 {
		if o.stopped(ctx) {
			return false
		}
		step := min(poll, d)
		if err := sleep(ctx, step); err != nil {
			return false
		}
		d -= step
	}
	return !o.stopped(ctx)
}

func (o *Orchestrator) finish(ctx context.Context, rec RunResult, status domain.RunStatus, err error) (RunResult, error) {
	rec.Status = status
	rec.FinishedAt = o.now()
	if err != nil {
		rec.Error = err.Error()
	}

	o.persist(context.WithoutCancel(ctx), rec)
	metrics.CrawlRuns.WithLabelValues(string(status)).Inc()
	o.logf("run %s finished status=%s pages=%d new=%d changed=%d rejected=%d failed=%d",
		rec.RunID, status, rec.Pages, rec.New, rec.Changed, rec.Rejected, rec.Failed)
	return rec, err
}

func (o *Orchestrator) persist(ctx context.Context, rec RunResult) {
	if rec.RunID == "" {
		return
	}
	if err := o.Store.InsertRun(ctx, rec); err != nil {
		o.logf("run %s: persist run record: %v", rec.RunID, err)
	}
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	return ctx.Err() != nil || o.RunState.StopRequested()
}

func (o *Orchestrator) jitter() time.Duration {
	spread := o.MaxJitter
	if spread <= 0 {
		spread = defaultMaxJitter
	}
	return time.Duration(o.rand() * float64(spread))
}

func (o *Orchestrator) rand() float64 {
	if o.Rand != nil {
		return o.Rand()
	}
	return rand.Float64()
}

func (o *Orchestrator) cooldown() time.Duration {
	if o.Cooldown > 0 {
		return o.Cooldown
	}
	return defaultCooldown
}

func (o *Orchestrator) backoffStep() time.Duration {
	if o.BackoffStep > 0 {
		return o.BackoffStep
	}
	return defaultBackoffStep
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logf(format string, args ...any) {
	l := o.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}
