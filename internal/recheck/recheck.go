// Package recheck re-verifies stored listings against the live feed and
// drops the ones that are gone.
package recheck

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/ingest"
	"github.com/ETAnderson/pricewatch/internal/metrics"
	"github.com/ETAnderson/pricewatch/internal/runstate"
	"github.com/ETAnderson/pricewatch/internal/state"
)

const (
	DefaultTargetValid = 3
	DefaultMaxChecks   = 5
	DefaultWorkers     = 5
)

// Verifier is the part of the feed client the checker needs.
type Verifier interface {
	CheckItemStatus(ctx context.Context, c2cID string, s feed.Settings) feed.Verdict
}

// Result summarizes one Check.
type Result struct {
	GoodsID    int64    `json:"goods_id"`
	Checked    int      `json:"checked"`
	Valid      int      `json:"valid"`
	Removed    int      `json:"removed"`
	RemovedIDs []string `json:"removed_ids,omitempty"`
	Stopped    bool     `json:"stopped"`

	Aggregate *ingest.AggregateChange `json:"aggregate,omitempty"`
}

type Checker struct {
	Store      state.Store
	Verifier   Verifier
	Reconciler *ingest.Reconciler
	RunState   *runstate.Coordinator
	Logger     *log.Logger

	// Settings supplies headers and cookie for detail calls.
	Settings func(ctx context.Context) (feed.Settings, error)

	TargetValid int
	MaxChecks   int
	Workers     int

	// Progress, when set, is called after each applied verdict.
	Progress func(checked, budget int)

	locks sync.Map // goods_id -> *sync.Mutex
}

// Check walks the SKU's listings cheapest first until TargetValid listings
// are confirmed or MaxChecks detail calls were made. Invalid listings are
// deleted; unknown verdicts count as valid.
func (c *Checker) Check(ctx context.Context, goodsID int64) (Result, error) {
	return c.CheckWithProgress(ctx, goodsID, c.Progress)
}

// CheckWithProgress is Check with a per-call progress callback.
func (c *Checker) CheckWithProgress(ctx context.Context, goodsID int64, progress func(checked, budget int)) (Result, error) {
	res := Result{GoodsID: goodsID}

	settings, err := c.settings(ctx)
	if err != nil {
		return res, err
	}

	listings, err := c.Store.ListListingsByPrice(ctx, goodsID)
	if err != nil {
		return res, fmt.Errorf("list listings goods_id=%d: %w", goodsID, err)
	}

	target, budget, workers := c.limits()
	if budget > len(listings) {
		budget = len(listings)
	}

	mu := c.lockFor(goodsID)
	next := 0
	for res.Valid < target && res.Checked < budget && next < len(listings) {
		if c.stopped(ctx) {
			res.Stopped = true
			break
		}

		// Never dispatch more than could still be needed, so the check
		// budget holds even though the window runs in parallel.
		n := min(target-res.Valid, budget-res.Checked, len(listings)-next, workers)
		window := listings[next : next+n]
		next += n

		verdicts, err := c.verifyWindow(ctx, window, settings, workers)
		if err != nil {
			return res, err
		}

		mu.Lock()
		err = c.apply(ctx, window, verdicts, &res, budget, progress)
		mu.Unlock()
		if err != nil {
			return res, err
		}
	}

	if res.Removed > 0 {
		mu.Lock()
		defer mu.Unlock()

		var agg ingest.AggregateChange
		err := c.Store.WithTx(ctx, func(tx state.Tx) error {
			var err error
			agg, err = c.Reconciler.RecomputeAggregate(ctx, tx, goodsID)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("recompute goods_id=%d: %w", goodsID, err)
		}
		res.Aggregate = &agg
		c.Reconciler.NotifyDrop(ctx, goodsID, agg)
	}

	c.logf("recheck goods_id=%d checked=%d valid=%d removed=%d stopped=%v",
		goodsID, res.Checked, res.Valid, res.Removed, res.Stopped)
	return res, nil
}

type verdictResult struct {
	index   int
	verdict feed.Verdict
	skipped bool
}

func (c *Checker) verifyWindow(ctx context.Context, window []domain.Listing, s feed.Settings, workers int) ([]verdictResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))
	results := make(chan verdictResult, len(window))

	for i, l := range window {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if c.stopped(gctx) {
				results <- verdictResult{index: i, skipped: true}
				return nil
			}
			results <- verdictResult{index: i, verdict: c.Verifier.CheckItemStatus(gctx, l.C2CID, s)}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}

	out := make([]verdictResult, len(window))
	for r := range results {
		out[r.index] = r
	}
	return out, nil
}

func (c *Checker) apply(ctx context.Context, window []domain.Listing, verdicts []verdictResult, res *Result, budget int, progress func(checked, budget int)) error {
	for i, v := range verdicts {
		if v.skipped {
			res.Stopped = true
			continue
		}
		res.Checked++

		if v.verdict != feed.VerdictInvalid {
			res.Valid++
		} else {
			id := window[i].C2CID
			removed, err := c.Store.DeleteListing(ctx, id)
			if err != nil {
				return fmt.Errorf("delete listing %s: %w", id, err)
			}
			if removed {
				res.Removed++
				res.RemovedIDs = append(res.RemovedIDs, id)
				metrics.ListingsRemoved.Inc()
				c.logf("listing %s of goods_id=%d is gone; removed", id, window[i].GoodsID)
			}
		}

		if progress != nil {
			progress(res.Checked, budget)
		}
	}
	return nil
}

func (c *Checker) settings(ctx context.Context) (feed.Settings, error) {
	if c.Settings == nil {
		return feed.Settings{}, nil
	}
	return c.Settings(ctx)
}

func (c *Checker) limits() (target, budget, workers int) {
	target, budget, workers = c.TargetValid, c.MaxChecks, c.Workers
	if target <= 0 {
		target = DefaultTargetValid
	}
	if budget <= 0 {
		budget = DefaultMaxChecks
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return target, budget, workers
}

func (c *Checker) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.RunState != nil && c.RunState.StopRequested()
}

func (c *Checker) lockFor(goodsID int64) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(goodsID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (c *Checker) logf(format string, args ...any) {
	l := c.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}
