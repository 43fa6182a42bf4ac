package a2a

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errTaskCanceled = errors.New("task canceled")

type taskEntry struct {
	task   Task
	cancel context.CancelCauseFunc
}

// taskTable keeps the most recent tasks for tasks/get and the cancel
// functions of running ones.
type taskTable struct {
	mu    sync.Mutex
	max   int
	order []string
	tasks map[string]*taskEntry
}

func newTaskTable(max int) *taskTable {
	if max <= 0 {
		max = 1
	}

	return &taskTable{
		max:   max,
		tasks: make(map[string]*taskEntry),
	}
}

// start registers a running task. The returned done func releases the
// task's context; the task itself stays retrievable.
func (t *taskTable) start(ctx context.Context, id, sessionID string) (context.Context, func(), *Error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.tasks[id]; ok && e.cancel != nil {
		return nil, nil, &Error{Code: CodeInvalidRequest, Message: "Task is already running", Data: id}
	}

	ctx, cancel := context.WithCancelCause(ctx)

	if _, ok := t.tasks[id]; !ok {
		t.order = append(t.order, id)
	}

	t.tasks[id] = &taskEntry{
		task: Task{
			ID:        id,
			SessionID: sessionID,
			Status:    TaskStatus{State: StateSubmitted, Timestamp: time.Now().UTC()},
		},
		cancel: cancel,
	}

	t.evict()

	return ctx, func() {
		cancel(nil)

		t.mu.Lock()
		defer t.mu.Unlock()

		if e, ok := t.tasks[id]; ok {
			e.cancel = nil
		}
	}, nil
}

func (t *taskTable) setStatus(id string, status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.tasks[id]; ok {
		e.task.Status = status
	}
}

// complete records the final status unless the task was canceled first.
func (t *taskTable) complete(id string, status TaskStatus, artifacts []Artifact) Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.tasks[id]
	if !ok {
		return Task{ID: id, Status: status, Artifacts: artifacts}
	}

	if e.task.Status.State != StateCanceled {
		e.task.Status = status
		e.task.Artifacts = artifacts
	}

	return e.task
}

func (t *taskTable) get(id string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}

	return e.task, true
}

func (t *taskTable) cancel(id string) (Task, *Error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.tasks[id]
	if !ok {
		return Task{}, &Error{Code: CodeTaskNotFound, Message: "Task not found", Data: id}
	}

	if e.cancel == nil || e.task.Status.State.Final() {
		return Task{}, &Error{Code: CodeNotCancelable, Message: "Task cannot be canceled", Data: id}
	}

	e.cancel(errTaskCanceled)
	e.task.Status = TaskStatus{State: StateCanceled, Timestamp: time.Now().UTC()}

	return e.task, nil
}

// evict drops the oldest finished tasks beyond max. Running tasks are kept.
func (t *taskTable) evict() {
	for len(t.tasks) > t.max {
		evicted := false

		for i, id := range t.order {
			if e := t.tasks[id]; e != nil && e.cancel != nil {
				continue
			}

			delete(t.tasks, id)
			t.order = append(t.order[:i], t.order[i+1:]...)
			evicted = true

			break
		}

		if !evicted {
			return
		}
	}
}
