package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/lock"
	"github.com/msageha/autosteer/internal/model"
)

// Board moves tasks between status columns with an optimistic cache update.
type Board struct {
	cache    *Cache
	client   backend.Client
	lockMap  *lock.MutexMap
	logger   *log.Logger
	logLevel model.LogLevel
}

func NewBoard(cache *Cache, client backend.Client, lockMap *lock.MutexMap, logger *log.Logger, logLevel model.LogLevel) *Board {
	return &Board{cache: cache, client: client, lockMap: lockMap, logger: logger, logLevel: logLevel}
}

// moveStatus returns a copy of the task list with taskID in status to.
func moveStatus(taskID string, to model.TaskStatus) CommandFunc[[]model.Task] {
	return func(base []model.Task) ([]model.Task, error) {
		out := make([]model.Task, len(base))
		copy(out, base)
		for i := range out {
			if out[i].ID == taskID {
				out[i].Status = to
				return out, nil
			}
		}
		return nil, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
}

func setStatus(to model.TaskStatus) CommandFunc[model.Task] {
	return func(base model.Task) (model.Task, error) {
		base.Status = to
		return base, nil
	}
}

// MoveTask changes the status of taskID. The cached task list (and the cached
// task, when present) show the new column immediately; a refused or failed
// remote call restores them. Success is confirmed by a refetch.
func (b *Board) MoveTask(ctx context.Context, taskID string, to model.TaskStatus) error {
	b.lockMap.Lock("task:" + taskID)
	defer b.lockMap.Unlock("task:" + taskID)

	view := b.cache.Get(ctx, TasksKey())
	tasks, ok := Typed[[]model.Task](view)
	if !ok {
		if view.Err != nil {
			return fmt.Errorf("move task %s: %w", taskID, view.Err)
		}
		return fmt.Errorf("move task %s: task list unavailable", taskID)
	}

	var from model.TaskStatus
	found := false
	for _, t := range tasks {
		if t.ID == taskID {
			from, found = t.Status, true
			break
		}
	}
	if !found {
		return fmt.Errorf("move task %s: %w", taskID, model.ErrNotFound)
	}
	if err := model.ValidateTaskStatusTransition(from, to); err != nil {
		return fmt.Errorf("move task %s: %w", taskID, err)
	}
	if from == to {
		return nil
	}

	listPending, err := Apply[[]model.Task](b.cache, TasksKey(), tasks, moveStatus(taskID, to))
	if err != nil {
		return fmt.Errorf("move task %s: %w", taskID, err)
	}
	var taskPending *Pending[model.Task]
	if cached, ok := b.cache.Peek(TaskKey(taskID)); ok {
		if task, ok := Typed[model.Task](cached); ok {
			taskPending, _ = Apply[model.Task](b.cache, TaskKey(taskID), task, setStatus(to))
		}
	}

	if _, err := b.client.UpdateTaskStatus(ctx, taskID, to); err != nil {
		rolledBack := listPending.Rollback()
		if taskPending != nil {
			taskPending.Rollback()
		}
		b.log(model.LogLevelWarn, "move task=%s %s->%s failed rolled_back=%t error=%v", taskID, from, to, rolledBack, err)
		return fmt.Errorf("move task %s: %w", taskID, err)
	}

	b.log(model.LogLevelInfo, "move task=%s %s->%s", taskID, from, to)
	b.cache.Invalidate(TasksKey(), TaskKey(taskID))
	if err := listPending.Confirm(ctx); err != nil {
		b.log(model.LogLevelWarn, "confirm task list after move task=%s error=%v", taskID, err)
	}
	return nil
}

func (b *Board) log(level model.LogLevel, format string, args ...any) {
	if level < b.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	b.logger.Printf("%s %s board: %s", time.Now().Format(time.RFC3339), level, msg)
}
