package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/events"
	"github.com/msageha/autosteer/internal/lock"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/reconcile"
)

// Notifier shows a toast-style notice to the operator.
type Notifier interface {
	Notify(title, message string)
}

type SeekRequest struct {
	TaskID         string `json:"task_id"`
	PhaseIndex     int    `json:"phase_index"`
	PhaseIteration int    `json:"phase_iteration"`
	// ProfileID, when set, must match the task's bound profile.
	ProfileID       string `json:"profile_id,omitempty"`
	ScenarioContext string `json:"scenario_context,omitempty"`
}

// Controller applies operator Seek and Reset through the backend. Nothing is
// changed locally before the backend confirms; the displayed state is updated
// by refetching it.
type Controller struct {
	client   backend.Client
	cache    *reconcile.Cache
	lockMap  *lock.MutexMap
	bus      *events.Bus
	notifier Notifier
	logger   *log.Logger
	logLevel model.LogLevel
}

func NewController(client backend.Client, cache *reconcile.Cache, lockMap *lock.MutexMap, bus *events.Bus, notifier Notifier, logger *log.Logger, logLevel model.LogLevel) *Controller {
	return &Controller{
		client:   client,
		cache:    cache,
		lockMap:  lockMap,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		logLevel: logLevel,
	}
}

func (c *Controller) Seek(ctx context.Context, req SeekRequest) (model.ExecutionState, error) {
	c.lockMap.Lock("exec:" + req.TaskID)
	defer c.lockMap.Unlock("exec:" + req.TaskID)

	task, err := c.boundTask(ctx, req.TaskID)
	if err != nil {
		return model.ExecutionState{}, fmt.Errorf("seek task %s: %w", req.TaskID, err)
	}
	if req.ProfileID != "" && req.ProfileID != task.AutoSteerProfileID {
		return model.ExecutionState{}, fmt.Errorf("seek task %s: profile %s is not bound (bound: %s): %w",
			req.TaskID, req.ProfileID, task.AutoSteerProfileID, model.ErrPreconditionFailed)
	}
	prof, err := c.profile(ctx, task.AutoSteerProfileID)
	if err != nil {
		return model.ExecutionState{}, fmt.Errorf("seek task %s: %w", req.TaskID, err)
	}
	if len(prof.Phases) == 0 {
		return model.ExecutionState{}, fmt.Errorf("seek task %s: profile %s has no phases: %w",
			req.TaskID, prof.ID, model.ErrPreconditionFailed)
	}

	index, iteration := ClampSeek(prof, req.PhaseIndex, req.PhaseIteration)
	if index != req.PhaseIndex || iteration != req.PhaseIteration {
		c.log(model.LogLevelInfo, "seek task=%s clamped (%d,%d) -> (%d,%d)",
			req.TaskID, req.PhaseIndex, req.PhaseIteration, index, iteration)
	}

	requestID := model.NewID(model.KindRequest)
	state, err := c.client.Seek(ctx, backend.SeekParams{
		TaskID:          req.TaskID,
		PhaseIndex:      index,
		PhaseIteration:  iteration,
		ProfileID:       task.AutoSteerProfileID,
		ScenarioContext: req.ScenarioContext,
	})
	if err != nil {
		c.fail("Seek failed", req.TaskID, err)
		return model.ExecutionState{}, fmt.Errorf("seek task %s: %w", req.TaskID, err)
	}

	c.confirm(ctx, req.TaskID)
	c.publish(events.Event{
		Type:   events.EventSeekApplied,
		TaskID: req.TaskID,
		Data: map[string]any{
			"request_id":      requestID,
			"profile_id":      task.AutoSteerProfileID,
			"phase_index":     state.CurrentPhaseIndex,
			"phase_iteration": state.CurrentPhaseIteration,
		},
	})
	c.log(model.LogLevelInfo, "seek task=%s phase=%d iteration=%d request=%s",
		req.TaskID, state.CurrentPhaseIndex, state.CurrentPhaseIteration, requestID)
	return state, nil
}

// Reset rewinds the task's run to its first phase. The backend discards the
// phase history; this cannot be undone.
func (c *Controller) Reset(ctx context.Context, taskID string) (model.ExecutionState, error) {
	c.lockMap.Lock("exec:" + taskID)
	defer c.lockMap.Unlock("exec:" + taskID)

	task, err := c.boundTask(ctx, taskID)
	if err != nil {
		return model.ExecutionState{}, fmt.Errorf("reset task %s: %w", taskID, err)
	}

	requestID := model.NewID(model.KindRequest)
	state, err := c.client.Reset(ctx, taskID)
	if err != nil {
		c.fail("Reset failed", taskID, err)
		return model.ExecutionState{}, fmt.Errorf("reset task %s: %w", taskID, err)
	}

	c.confirm(ctx, taskID)
	c.publish(events.Event{
		Type:   events.EventResetApplied,
		TaskID: taskID,
		Data:   map[string]any{"request_id": requestID, "profile_id": task.AutoSteerProfileID},
	})
	c.log(model.LogLevelInfo, "reset task=%s request=%s", taskID, requestID)
	return state, nil
}

// State returns the projection of the task's execution state. Stale reports
// that the backend could not be reached and the last known state is shown.
func (c *Controller) State(ctx context.Context, taskID string) (proj Projection, stale bool, err error) {
	task, err := c.boundTask(ctx, taskID)
	if err != nil {
		return Projection{}, false, err
	}
	prof, err := c.profile(ctx, task.AutoSteerProfileID)
	if err != nil {
		return Projection{}, false, err
	}
	view := c.cache.Get(ctx, reconcile.ExecutionStateKey(taskID))
	state, ok := reconcile.Typed[model.ExecutionState](view)
	if !ok {
		if view.Err != nil {
			return Projection{}, false, view.Err
		}
		return Projection{}, false, fmt.Errorf("execution state for %s: unexpected cache value %T", taskID, view.Value)
	}
	return Project(prof, state), view.Stale, nil
}

// boundTask returns the task when it has an Auto Steer profile bound.
func (c *Controller) boundTask(ctx context.Context, taskID string) (model.Task, error) {
	view := c.cache.Get(ctx, reconcile.TaskKey(taskID))
	task, ok := reconcile.Typed[model.Task](view)
	if !ok {
		if view.Err != nil {
			return model.Task{}, view.Err
		}
		return model.Task{}, fmt.Errorf("task %s: unexpected cache value %T", taskID, view.Value)
	}
	if !task.HasProfile() {
		return model.Task{}, fmt.Errorf("task %s has no Auto Steer profile: %w", taskID, model.ErrPreconditionFailed)
	}
	return task, nil
}

func (c *Controller) profile(ctx context.Context, id string) (model.Profile, error) {
	view := c.cache.Get(ctx, reconcile.ProfileKey(id))
	p, ok := reconcile.Typed[model.Profile](view)
	if !ok {
		if view.Err != nil {
			return model.Profile{}, view.Err
		}
		return model.Profile{}, fmt.Errorf("profile %s: unexpected cache value %T", id, view.Value)
	}
	return p, nil
}

// confirm invalidates and refetches the execution state so the displayed
// pointer comes from the backend.
func (c *Controller) confirm(ctx context.Context, taskID string) {
	key := reconcile.ExecutionStateKey(taskID)
	c.cache.Invalidate(key)
	if _, err := c.cache.Refresh(ctx, key); err != nil {
		c.log(model.LogLevelWarn, "refetch %s error=%v", key, err)
	}
}

func (c *Controller) fail(title, taskID string, err error) {
	c.log(model.LogLevelWarn, "%s task=%s error=%v", title, taskID, err)
	if c.notifier != nil {
		c.notifier.Notify(title, fmt.Sprintf("%s: %v", taskID, err))
	}
}

func (c *Controller) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Controller) log(level model.LogLevel, format string, args ...any) {
	if level < c.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("%s %s execution: %s", time.Now().Format(time.RFC3339), level, msg)
}
