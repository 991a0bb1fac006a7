package runstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestTasks() (*Tasks, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	tasks := NewTasks()
	tasks.now = clk.now
	return tasks, clk
}

func TestTasks_RegisterAndUpdate(t *testing.T) {
	tasks, _ := newTestTasks()

	id := tasks.Register("validity_check", "check 1001")
	require.NotEmpty(t, id)

	progress, total := 2, 5
	msg := "checking"
	tasks.Update(id, TaskUpdate{Progress: &progress, Total: &total, Message: &msg})

	got, ok := tasks.Get(id)
	require.True(t, ok)
	require.Equal(t, TaskStatusRunning, got.Status)
	require.Equal(t, 2, got.Progress)
	require.Equal(t, 5, got.Total)
	require.Equal(t, "checking", got.Message)
	require.Nil(t, got.FinishedAt)
}

func TestTasks_ListActiveVisibilityAndEviction(t *testing.T) {
	tasks, clk := newTestTasks()

	running := tasks.Register("crawl", "continuous")
	done := tasks.Register("validity_check", "check 2002")
	tasks.Finish(done, TaskStatusCompleted, "checked=3 removed=1")

	require.Len(t, tasks.ListActive(), 2)

	clk.t = clk.t.Add(11 * time.Second)
	active := tasks.ListActive()
	require.Len(t, active, 1)
	require.Equal(t, running, active[0].ID)

	_, ok := tasks.Get(done)
	require.True(t, ok, "finished task is hidden but retained before 60s")

	clk.t = clk.t.Add(50 * time.Second)
	tasks.ListActive()

	_, ok = tasks.Get(done)
	require.False(t, ok, "finished task should be evicted after 60s")

	_, ok = tasks.Get(running)
	require.True(t, ok)
}

func TestTasks_UpdateUnknownIsNoop(t *testing.T) {
	tasks, _ := newTestTasks()

	st := TaskStatusFailed
	tasks.Update("missing", TaskUpdate{Status: &st})

	require.Empty(t, tasks.ListActive())
}
