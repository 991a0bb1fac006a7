package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/pricewatch/internal/crawl"
	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/ingest"
	"github.com/ETAnderson/pricewatch/internal/recheck"
	"github.com/ETAnderson/pricewatch/internal/runstate"
	"github.com/ETAnderson/pricewatch/internal/state"
)

type oneItemFeed struct {
	mu       sync.Mutex
	calls    int
	verdicts map[string]feed.Verdict
}

func (f *oneItemFeed) ListPage(ctx context.Context, req feed.Request, s feed.Settings) (feed.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return feed.Page{Items: []feed.RawItem{{
		C2CItemsID:    "c2c-1",
		ShowPrice:     decimal.NewFromInt(10),
		DetailDtoList: []feed.RawDetail{{ItemsID: 1001, Name: "Figure"}},
	}}}, nil
}

func (f *oneItemFeed) CheckItemStatus(ctx context.Context, c2cID string, s feed.Settings) feed.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.verdicts[c2cID]; ok {
		return v
	}
	return feed.VerdictValid
}

type fixedScheduler time.Time

func (f fixedScheduler) NextRun() time.Time { return time.Time(f) }

func newService(t *testing.T) (*Service, *state.MemoryStore, *oneItemFeed) {
	t.Helper()
	store := state.NewMemoryStore()
	require.NoError(t, store.SetConfig(context.Background(), crawl.KeyUserCookie, "SESSDATA=0123456789", ""))

	f := &oneItemFeed{verdicts: map[string]feed.Verdict{}}
	run := runstate.New()
	rec := ingest.NewReconciler(store, nil, nil)

	o := &crawl.Orchestrator{
		Store:      store,
		Feed:       f,
		Reconciler: rec,
		RunState:   run,
		Sleep:      func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
	c := &recheck.Checker{
		Store:      store,
		Verifier:   f,
		Reconciler: rec,
		RunState:   run,
	}

	s := NewService(context.Background(), o, c, runstate.NewTasks(), store, nil)
	s.RestartPoll = 5 * time.Millisecond
	return s, store, f
}

func TestManual_RunsOnePageAndFinishesTask(t *testing.T) {
	s, store, f := newService(t)

	id, err := s.Manual()
	require.NoError(t, err)
	require.NotEmpty(t, id)
	s.Wait()

	task, ok := s.Tasks.Get(id)
	require.True(t, ok)
	require.Equal(t, runstate.TaskStatusCompleted, task.Status)
	require.Equal(t, "crawl", task.Kind)
	require.Equal(t, 1, task.Progress)
	require.Equal(t, 1, task.Total)
	require.Contains(t, task.Message, "new 1")
	require.Equal(t, 1, f.calls)

	_, found, _ := store.GetProduct(context.Background(), 1001)
	require.True(t, found)
	require.False(t, s.RunState.IsRunning())
}

func TestStartCrawl_RejectsWhileRunning(t *testing.T) {
	s, _, f := newService(t)
	require.True(t, s.RunState.TrySetRunning())

	_, err := s.Continuous()
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Empty(t, s.ListTasks())
	require.Equal(t, 0, f.calls)
	require.True(t, s.RunState.IsRunning())
}

func TestStartCrawl_MissingCookieFailsTask(t *testing.T) {
	s, store, _ := newService(t)
	require.NoError(t, store.SetConfig(context.Background(), crawl.KeyUserCookie, "x", ""))

	id, err := s.Manual()
	require.NoError(t, err)
	s.Wait()

	task, _ := s.Tasks.Get(id)
	require.Equal(t, runstate.TaskStatusFailed, task.Status)
	require.Equal(t, "no valid cookie configured", task.Message)
}

func TestStop_ReportsRunning(t *testing.T) {
	s, _, _ := newService(t)
	require.False(t, s.Stop())
	require.True(t, s.RunState.StopRequested())

	require.True(t, s.RunState.TrySetRunning())
	require.True(t, s.Stop())
}

func TestRestart_TimesOutWhenCrawlWontStop(t *testing.T) {
	s, _, f := newService(t)
	s.RestartTimeout = 30 * time.Millisecond
	require.True(t, s.RunState.TrySetRunning())

	id := s.Restart()
	s.Wait()

	task, _ := s.Tasks.Get(id)
	require.Equal(t, runstate.TaskStatusFailed, task.Status)
	require.Equal(t, ErrRestartTimeout.Error(), task.Message)
	require.Equal(t, 0, f.calls)
}

func TestRestart_StartsAfterPreviousExits(t *testing.T) {
	s, _, f := newService(t)
	require.True(t, s.RunState.TrySetRunning())

	go func() {
		for !s.RunState.StopRequested() {
			time.Sleep(time.Millisecond)
		}
		s.RunState.SetRunning(false)
	}()

	id := s.Restart()
	s.Wait()

	task, _ := s.Tasks.Get(id)
	require.Equal(t, runstate.TaskStatusCompleted, task.Status)
	require.Equal(t, RestartPages, task.Total)
	require.Equal(t, 1, f.calls)
}

func TestCheckValidity_RemovesInvalidListing(t *testing.T) {
	s, store, f := newService(t)
	_, err := s.Manual()
	require.NoError(t, err)
	s.Wait()

	f.mu.Lock()
	f.verdicts["c2c-1"] = feed.VerdictInvalid
	f.mu.Unlock()

	// a stale stop from an earlier crawl must not skip the check
	s.RunState.RequestStop()

	id := s.CheckValidity(1001)
	s.Wait()

	task, _ := s.Tasks.Get(id)
	require.Equal(t, runstate.TaskStatusCompleted, task.Status)
	require.Equal(t, "checked 1, removed 1", task.Message)
	require.Equal(t, 1, task.Progress)

	p, _, _ := store.GetProduct(context.Background(), 1001)
	require.True(t, p.IsOutOfStock)
}

func TestStatus(t *testing.T) {
	s, store, _ := newService(t)
	next := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.Scheduler = fixedScheduler(next)

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	require.False(t, st.IsRunning)
	require.True(t, st.SchedulerEnabled)
	require.Equal(t, 60, st.IntervalMinutes)
	require.Equal(t, crawl.DefaultMaxPages, st.MaxPages)
	require.NotNil(t, st.NextRun)
	require.True(t, st.NextRun.Equal(next))
	require.Nil(t, st.LastRun)

	_, err = s.Manual()
	require.NoError(t, err)
	s.Wait()

	require.NoError(t, store.SetConfig(context.Background(), crawl.KeySchedulerEnabled, "false", ""))
	st, err = s.Status(context.Background())
	require.NoError(t, err)
	require.False(t, st.SchedulerEnabled)
	require.Nil(t, st.NextRun)
	require.NotNil(t, st.LastRun)
	require.Equal(t, domain.RunStatusCompleted, st.LastRun.Status)
}
