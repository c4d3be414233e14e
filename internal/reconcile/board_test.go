package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/backend/backendtest"
	"github.com/msageha/autosteer/internal/lock"
	"github.com/msageha/autosteer/internal/model"
)

func newBoardFixture(t *testing.T) (*backendtest.Fake, *Cache, *Board) {
	t.Helper()
	fake := backendtest.New()
	fake.PutTask(model.Task{ID: "task_1", Status: model.TaskStatusTodo})
	fake.PutTask(model.Task{ID: "task_2", Status: model.TaskStatusReview})
	cache := newTestCache(BackendFetcher(fake))
	board := NewBoard(cache, fake, lock.NewMutexMap(), quietLogger(), model.LogLevelDebug)
	return fake, cache, board
}

func cachedStatus(t *testing.T, c *Cache, taskID string) model.TaskStatus {
	t.Helper()
	v, ok := c.Peek(TasksKey())
	require.True(t, ok)
	tasks, ok := Typed[[]model.Task](v)
	require.True(t, ok)
	for _, task := range tasks {
		if task.ID == taskID {
			return task.Status
		}
	}
	t.Fatalf("task %s not cached", taskID)
	return ""
}

func TestBoard_MoveTaskOptimisticThenConfirmed(t *testing.T) {
	fake, cache, board := newBoardFixture(t)
	ctx := context.Background()
	cache.Get(ctx, TasksKey())

	release := fake.Gate(backend.CmdUpdateTaskStatus)
	done := make(chan error, 1)
	go func() { done <- board.MoveTask(ctx, "task_1", model.TaskStatusInProgress) }()

	require.Eventually(t, func() bool {
		return fake.Calls(backend.CmdUpdateTaskStatus) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.TaskStatusInProgress, cachedStatus(t, cache, "task_1"), "optimistic value shown while in flight")

	release()
	require.NoError(t, <-done)
	assert.Equal(t, model.TaskStatusInProgress, cachedStatus(t, cache, "task_1"))
	assert.Equal(t, 2, fake.Calls(backend.CmdListTasks), "success is confirmed by a refetch")
}

func TestBoard_MoveTaskRollsBackOnFailure(t *testing.T) {
	fake, cache, board := newBoardFixture(t)
	ctx := context.Background()
	cache.Get(ctx, TasksKey())
	cache.Get(ctx, TaskKey("task_1"))

	fake.FailNext(backend.CmdUpdateTaskStatus, model.NewTransportError(backend.CmdUpdateTaskStatus, errors.New("broken pipe")))
	err := board.MoveTask(ctx, "task_1", model.TaskStatusInProgress)
	require.Error(t, err)
	assert.True(t, model.IsTransportError(err))

	assert.Equal(t, model.TaskStatusTodo, cachedStatus(t, cache, "task_1"))
	v, ok := cache.Peek(TaskKey("task_1"))
	require.True(t, ok)
	task, _ := Typed[model.Task](v)
	assert.Equal(t, model.TaskStatusTodo, task.Status)
}

func TestBoard_MoveTaskRejectsInvalidTransition(t *testing.T) {
	fake, _, board := newBoardFixture(t)

	err := board.MoveTask(context.Background(), "task_1", model.TaskStatusReview)
	require.Error(t, err)
	assert.Equal(t, 0, fake.Calls(backend.CmdUpdateTaskStatus))

	err = board.MoveTask(context.Background(), "task_9", model.TaskStatusDone)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBoard_MoveTaskSameColumnIsNoop(t *testing.T) {
	fake, _, board := newBoardFixture(t)
	require.NoError(t, board.MoveTask(context.Background(), "task_2", model.TaskStatusReview))
	assert.Equal(t, 0, fake.Calls(backend.CmdUpdateTaskStatus))
}

func TestOptimistic_CommandError(t *testing.T) {
	c := newTestCache(func(ctx context.Context, key Key) (any, error) { return 1, nil })
	_, err := Apply[int](c, TasksKey(), 1, CommandFunc[int](func(int) (int, error) {
		return 0, errors.New("refused")
	}))
	assert.Error(t, err)
	_, ok := c.Peek(TasksKey())
	assert.False(t, ok, "a refused command writes nothing")
}
