// Package backendtest provides an in-memory backend for tests, usable directly
// as a backend.Client or served over a socket.
package backendtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/uds"
)

// Fake is an in-memory backend. Fields may be seeded before use; after that,
// go through the methods.
type Fake struct {
	mu sync.Mutex

	Profiles    map[string]model.Profile
	Templates   []model.Profile
	Tasks       map[string]model.Task
	States      map[string]model.ExecutionState
	Performance []model.ProfilePerformance
	Queue       model.QueueStatus
	Processes   []model.Process
	Settings    model.Settings

	calls    map[string]int
	failures map[string][]error
	gates    map[string]chan struct{}
	saveSeq  int
}

var _ backend.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Profiles: make(map[string]model.Profile),
		Tasks:    make(map[string]model.Task),
		States:   make(map[string]model.ExecutionState),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		gates:    make(map[string]chan struct{}),
	}
}

// FailNext makes the next call of op return err. Calls queue up.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Gate blocks calls of op until the returned function is called.
func (f *Fake) Gate(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, op)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) PutTask(t model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tasks[t.ID] = t
}

func (f *Fake) PutProfile(p model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Profiles[p.ID] = p
}

func (f *Fake) PutState(s model.ExecutionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States[s.TaskID] = s
}

func (f *Fake) SetQueue(q model.QueueStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queue = q
}

// enter records a call of op, waits on its gate, and pops a queued failure.
// It returns with f.mu held when err is nil.
func (f *Fake) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.NewTransportError(op, ctx.Err())
		}
	}

	f.mu.Lock()
	if q := f.failures[op]; len(q) > 0 {
		err := q[0]
		f.failures[op] = q[1:]
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *Fake) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	if err := f.enter(ctx, backend.CmdListProfiles); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()
	out := make([]model.Profile, 0, len(f.Profiles))
	for _, p := range f.Profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	if err := f.enter(ctx, backend.CmdGetProfile); err != nil {
		return model.Profile{}, err
	}
	defer f.mu.Unlock()
	p, ok := f.Profiles[id]
	if !ok {
		return model.Profile{}, notFound(backend.CmdGetProfile, "profile", id)
	}
	return p, nil
}

func (f *Fake) SaveProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	if err := f.enter(ctx, backend.CmdSaveProfile); err != nil {
		return model.Profile{}, err
	}
	defer f.mu.Unlock()
	f.saveSeq++
	p.UpdatedAt = time.Date(2026, 1, 1, 0, 0, f.saveSeq, 0, time.UTC).Format(time.RFC3339)
	f.Profiles[p.ID] = p
	return p, nil
}

func (f *Fake) DeleteProfile(ctx context.Context, id string) error {
	if err := f.enter(ctx, backend.CmdDeleteProfile); err != nil {
		return err
	}
	defer f.mu.Unlock()
	if _, ok := f.Profiles[id]; !ok {
		return notFound(backend.CmdDeleteProfile, "profile", id)
	}
	delete(f.Profiles, id)
	return nil
}

func (f *Fake) ListTemplates(ctx context.Context) ([]model.Profile, error) {
	if err := f.enter(ctx, backend.CmdListTemplates); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()
	return append([]model.Profile(nil), f.Templates...), nil
}

func (f *Fake) GetExecutionState(ctx context.Context, taskID string) (model.ExecutionState, error) {
	if err := f.enter(ctx, backend.CmdGetExecutionState); err != nil {
		return model.ExecutionState{}, err
	}
	defer f.mu.Unlock()
	s, ok := f.States[taskID]
	if !ok {
		return model.ExecutionState{}, notFound(backend.CmdGetExecutionState, "execution state", taskID)
	}
	return s.Clone(), nil
}

// Seek repositions the stored pointer, clamped against the task's profile.
func (f *Fake) Seek(ctx context.Context, params backend.SeekParams) (model.ExecutionState, error) {
	if err := f.enter(ctx, backend.CmdSeek); err != nil {
		return model.ExecutionState{}, err
	}
	defer f.mu.Unlock()
	t, ok := f.Tasks[params.TaskID]
	if !ok || t.AutoSteerProfileID == "" {
		return model.ExecutionState{}, &backend.RemoteError{
			Op: backend.CmdSeek, Code: uds.ErrCodePreconditionFailed, Message: "task has no profile",
		}
	}
	s := f.States[params.TaskID]
	s.TaskID = params.TaskID
	s.ProfileID = t.AutoSteerProfileID
	s.CurrentPhaseIndex = params.PhaseIndex
	s.CurrentPhaseIteration = params.PhaseIteration
	if p, ok := f.Profiles[t.AutoSteerProfileID]; ok && len(p.Phases) > 0 {
		s.CurrentPhaseIndex = clamp(params.PhaseIndex, 0, len(p.Phases)-1)
		s.CurrentPhaseIteration = clamp(params.PhaseIteration, 0, p.Phases[s.CurrentPhaseIndex].MaxIterations)
	}
	s.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	f.States[params.TaskID] = s
	return s.Clone(), nil
}

func (f *Fake) Reset(ctx context.Context, taskID string) (model.ExecutionState, error) {
	if err := f.enter(ctx, backend.CmdReset); err != nil {
		return model.ExecutionState{}, err
	}
	defer f.mu.Unlock()
	t, ok := f.Tasks[taskID]
	if !ok || t.AutoSteerProfileID == "" {
		return model.ExecutionState{}, &backend.RemoteError{
			Op: backend.CmdReset, Code: uds.ErrCodePreconditionFailed, Message: "task has no profile",
		}
	}
	s := model.ExecutionState{
		TaskID:      taskID,
		ProfileID:   t.AutoSteerProfileID,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
	f.States[taskID] = s
	return s, nil
}

func (f *Fake) ListPerformance(ctx context.Context, filter backend.PerformanceFilter) ([]model.ProfilePerformance, error) {
	if err := f.enter(ctx, backend.CmdListPerformance); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()
	var out []model.ProfilePerformance
	for _, p := range f.Performance {
		if filter.ProfileID != "" && p.ProfileID != filter.ProfileID {
			continue
		}
		if filter.Scenario != "" && p.Scenario != filter.Scenario {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) ListTasks(ctx context.Context) ([]model.Task, error) {
	if err := f.enter(ctx, backend.CmdListTasks); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()
	out := make([]model.Task, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) GetTask(ctx context.Context, id string) (model.Task, error) {
	if err := f.enter(ctx, backend.CmdGetTask); err != nil {
		return model.Task{}, err
	}
	defer f.mu.Unlock()
	t, ok := f.Tasks[id]
	if !ok {
		return model.Task{}, notFound(backend.CmdGetTask, "task", id)
	}
	return t, nil
}

func (f *Fake) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	if err := f.enter(ctx, backend.CmdUpdateTaskStatus); err != nil {
		return model.Task{}, err
	}
	defer f.mu.Unlock()
	t, ok := f.Tasks[id]
	if !ok {
		return model.Task{}, notFound(backend.CmdUpdateTaskStatus, "task", id)
	}
	if err := model.ValidateTaskStatusTransition(t.Status, status); err != nil {
		return model.Task{}, &backend.RemoteError{Op: backend.CmdUpdateTaskStatus, Code: uds.ErrCodeValidation, Message: err.Error()}
	}
	t.Status = status
	f.Tasks[id] = t
	return t, nil
}

func (f *Fake) UpdateTaskNotes(ctx context.Context, id, notes string) (model.Task, error) {
	if err := f.enter(ctx, backend.CmdUpdateTaskNotes); err != nil {
		return model.Task{}, err
	}
	defer f.mu.Unlock()
	t, ok := f.Tasks[id]
	if !ok {
		return model.Task{}, notFound(backend.CmdUpdateTaskNotes, "task", id)
	}
	t.Notes = notes
	f.Tasks[id] = t
	return t, nil
}

func (f *Fake) GetQueueStatus(ctx context.Context) (model.QueueStatus, error) {
	if err := f.enter(ctx, backend.CmdGetQueueStatus); err != nil {
		return model.QueueStatus{}, err
	}
	defer f.mu.Unlock()
	return f.Queue, nil
}

func (f *Fake) ListProcesses(ctx context.Context) ([]model.Process, error) {
	if err := f.enter(ctx, backend.CmdListProcesses); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()
	return append([]model.Process(nil), f.Processes...), nil
}

func (f *Fake) GetSettings(ctx context.Context) (model.Settings, error) {
	if err := f.enter(ctx, backend.CmdGetSettings); err != nil {
		return model.Settings{}, err
	}
	defer f.mu.Unlock()
	return f.Settings, nil
}

func notFound(op, kind, id string) error {
	return &backend.RemoteError{Op: op, Code: uds.ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type idParams struct {
	ID string `json:"id"`
}

type taskIDParams struct {
	TaskID string `json:"task_id"`
}

// Register exposes f on srv under the backend command names.
func (f *Fake) Register(srv *uds.Server) {
	ctx := context.Background()
	handle := func(cmd string, fn func(params json.RawMessage) (any, error)) {
		srv.Handle(cmd, func(req *uds.Request) *uds.Response {
			out, err := fn(req.Params)
			if err != nil {
				return errorResponse(err)
			}
			return uds.SuccessResponse(out)
		})
	}
	decode := func(raw json.RawMessage, v any) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return &backend.RemoteError{Code: uds.ErrCodeValidation, Message: err.Error()}
		}
		return nil
	}

	handle(backend.CmdListProfiles, func(json.RawMessage) (any, error) { return f.ListProfiles(ctx) })
	handle(backend.CmdGetProfile, func(raw json.RawMessage) (any, error) {
		var p idParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.GetProfile(ctx, p.ID)
	})
	handle(backend.CmdSaveProfile, func(raw json.RawMessage) (any, error) {
		var p model.Profile
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.SaveProfile(ctx, p)
	})
	handle(backend.CmdDeleteProfile, func(raw json.RawMessage) (any, error) {
		var p idParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.DeleteProfile(ctx, p.ID)
	})
	handle(backend.CmdListTemplates, func(json.RawMessage) (any, error) { return f.ListTemplates(ctx) })
	handle(backend.CmdGetExecutionState, func(raw json.RawMessage) (any, error) {
		var p taskIDParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.GetExecutionState(ctx, p.TaskID)
	})
	handle(backend.CmdSeek, func(raw json.RawMessage) (any, error) {
		var p backend.SeekParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.Seek(ctx, p)
	})
	handle(backend.CmdReset, func(raw json.RawMessage) (any, error) {
		var p taskIDParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.Reset(ctx, p.TaskID)
	})
	handle(backend.CmdListPerformance, func(raw json.RawMessage) (any, error) {
		var p backend.PerformanceFilter
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.ListPerformance(ctx, p)
	})
	handle(backend.CmdListTasks, func(json.RawMessage) (any, error) { return f.ListTasks(ctx) })
	handle(backend.CmdGetTask, func(raw json.RawMessage) (any, error) {
		var p idParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.GetTask(ctx, p.ID)
	})
	handle(backend.CmdUpdateTaskStatus, func(raw json.RawMessage) (any, error) {
		var p struct {
			ID     string           `json:"id"`
			Status model.TaskStatus `json:"status"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.UpdateTaskStatus(ctx, p.ID, p.Status)
	})
	handle(backend.CmdUpdateTaskNotes, func(raw json.RawMessage) (any, error) {
		var p struct {
			ID    string `json:"id"`
			Notes string `json:"notes"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return f.UpdateTaskNotes(ctx, p.ID, p.Notes)
	})
	handle(backend.CmdGetQueueStatus, func(json.RawMessage) (any, error) { return f.GetQueueStatus(ctx) })
	handle(backend.CmdListProcesses, func(json.RawMessage) (any, error) { return f.ListProcesses(ctx) })
	handle(backend.CmdGetSettings, func(json.RawMessage) (any, error) { return f.GetSettings(ctx) })
}

func errorResponse(err error) *uds.Response {
	var re *backend.RemoteError
	switch {
	case errors.As(err, &re):
		return uds.ErrorResponse(re.Code, re.Message)
	case errors.Is(err, model.ErrNotFound):
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	case errors.Is(err, model.ErrPreconditionFailed):
		return uds.ErrorResponse(uds.ErrCodePreconditionFailed, err.Error())
	case model.IsTransportError(err):
		return uds.ErrorResponse(uds.ErrCodeUnavailable, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}
