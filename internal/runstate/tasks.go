package runstate

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// Finished tasks stay visible to pollers for this long.
	taskVisibleFor = 10 * time.Second
	// Finished tasks are dropped from the registry after this long.
	taskRetainFor = 60 * time.Second
)

type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusStopped   TaskStatus = "stopped"
	TaskStatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) terminal() bool {
	return s != TaskStatusRunning
}

type Task struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	Message     string     `json:"message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TaskUpdate carries the fields to change; nil fields are left alone.
type TaskUpdate struct {
	Status   *TaskStatus
	Progress *int
	Total    *int
	Message  *string
}

// Tasks is an in-memory registry of background tasks with TTL eviction on read.
type Tasks struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewTasks() *Tasks {
	return &Tasks{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// Register adds a running task and returns its id.
func (t *Tasks) Register(kind, description string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	id := uuid.NewString()
	t.tasks[id] = &Task{
		ID:          id,
		Kind:        kind,
		Description: description,
		Status:      TaskStatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id
}

// Update applies u to the task. Unknown ids are ignored.
func (t *Tasks) Update(id string, u TaskUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return
	}

	now := t.now().UTC()
	if u.Status != nil {
		task.Status = *u.Status
		if task.Status.terminal() && task.FinishedAt == nil {
			task.FinishedAt = &now
		}
	}
	if u.Progress != nil {
		task.Progress = *u.Progress
	}
	if u.Total != nil {
		task.Total = *u.Total
	}
	if u.Message != nil {
		task.Message = *u.Message
	}
	task.UpdatedAt = now
}

// Finish is shorthand for a terminal status update with a message.
func (t *Tasks) Finish(id string, status TaskStatus, message string) {
	t.Update(id, TaskUpdate{Status: &status, Message: &message})
}

// Get returns a copy of the task.
func (t *Tasks) Get(id string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// ListActive returns running tasks and tasks finished within the visibility
// window, oldest first. Tasks finished longer than the retention window ago
// are evicted.
func (t *Tasks) ListActive() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	out := make([]Task, 0, len(t.tasks))

	for id, task := range t.tasks {
		if task.FinishedAt != nil {
			age := now.Sub(*task.FinishedAt)
			if age > taskRetainFor {
				delete(t.tasks, id)
				continue
			}
			if age > taskVisibleFor {
				continue
			}
		}
		out = append(out, *task)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}
