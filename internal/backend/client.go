// Package backend is the request/response boundary to the remote service that
// owns profiles, tasks and execution state.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/uds"
)

// Commands understood by the backend socket.
const (
	CmdListProfiles      = "profiles.list"
	CmdGetProfile        = "profiles.get"
	CmdSaveProfile       = "profiles.save"
	CmdDeleteProfile     = "profiles.delete"
	CmdListTemplates     = "templates.list"
	CmdGetExecutionState = "execution.get"
	CmdSeek              = "execution.seek"
	CmdReset             = "execution.reset"
	CmdListPerformance   = "performance.list"
	CmdListTasks         = "tasks.list"
	CmdGetTask           = "tasks.get"
	CmdUpdateTaskStatus  = "tasks.update_status"
	CmdUpdateTaskNotes   = "tasks.update_notes"
	CmdGetQueueStatus    = "queue.status"
	CmdListProcesses     = "processes.list"
	CmdGetSettings       = "settings.get"
	// CmdSubscribe opens the push event stream on the event socket.
	CmdSubscribe = "events.subscribe"
)

// Client is everything the dashboard core consumes from the backend.
type Client interface {
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	GetProfile(ctx context.Context, id string) (model.Profile, error)
	SaveProfile(ctx context.Context, p model.Profile) (model.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
	ListTemplates(ctx context.Context) ([]model.Profile, error)

	GetExecutionState(ctx context.Context, taskID string) (model.ExecutionState, error)
	Seek(ctx context.Context, params SeekParams) (model.ExecutionState, error)
	Reset(ctx context.Context, taskID string) (model.ExecutionState, error)
	ListPerformance(ctx context.Context, filter PerformanceFilter) ([]model.ProfilePerformance, error)

	ListTasks(ctx context.Context) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error)
	UpdateTaskNotes(ctx context.Context, id, notes string) (model.Task, error)

	GetQueueStatus(ctx context.Context) (model.QueueStatus, error)
	ListProcesses(ctx context.Context) ([]model.Process, error)
	GetSettings(ctx context.Context) (model.Settings, error)
}

type SeekParams struct {
	TaskID          string `json:"task_id"`
	PhaseIndex      int    `json:"phase_index"`
	PhaseIteration  int    `json:"phase_iteration"`
	ProfileID       string `json:"profile_id,omitempty"`
	ScenarioContext string `json:"scenario_context,omitempty"`
}

type PerformanceFilter struct {
	ProfileID string `json:"profile_id,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

type taskParams struct {
	TaskID string `json:"task_id"`
}

type statusParams struct {
	ID     string           `json:"id"`
	Status model.TaskStatus `json:"status"`
}

type notesParams struct {
	ID    string `json:"id"`
	Notes string `json:"notes"`
}

// RemoteError is a request the backend received and refused.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

// Is maps backend error codes onto the model's sentinel errors.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case model.ErrNotFound:
		return e.Code == uds.ErrCodeNotFound
	case model.ErrPreconditionFailed:
		return e.Code == uds.ErrCodePreconditionFailed
	}
	return false
}

// IsValidation reports whether err is a backend-side validation refusal.
func IsValidation(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == uds.ErrCodeValidation
}

// UDSClient implements Client over the framed JSON protocol.
type UDSClient struct {
	conn *uds.Client
}

func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	c := uds.NewClient(socketPath)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	c.SetHint("Is the backend running? Check backend.socket_path in .autosteer/config.yaml")
	return &UDSClient{conn: c}
}

// call sends command and decodes the response data into out (when non-nil).
// Connection failures and UNAVAILABLE become TransportErrors; other refusals
// become RemoteErrors.
func (c *UDSClient) call(ctx context.Context, command string, params, out any) error {
	resp, err := c.conn.SendCommandContext(ctx, command, params)
	if err != nil {
		return model.NewTransportError(command, err)
	}
	if err := resp.Err(); err != nil {
		var detail *uds.ErrorDetail
		if errors.As(err, &detail) {
			if detail.Code == uds.ErrCodeUnavailable {
				return model.NewTransportError(command, err)
			}
			return &RemoteError{Op: command, Code: detail.Code, Message: detail.Message}
		}
		return &RemoteError{Op: command, Code: uds.ErrCodeInternal, Message: err.Error()}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return model.NewTransportError(command, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *UDSClient) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	var out []model.Profile
	err := c.call(ctx, CmdListProfiles, nil, &out)
	return out, err
}

func (c *UDSClient) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	var out model.Profile
	err := c.call(ctx, CmdGetProfile, idParams{ID: id}, &out)
	return out, err
}

func (c *UDSClient) SaveProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	var out model.Profile
	err := c.call(ctx, CmdSaveProfile, p, &out)
	return out, err
}

func (c *UDSClient) DeleteProfile(ctx context.Context, id string) error {
	return c.call(ctx, CmdDeleteProfile, idParams{ID: id}, nil)
}

func (c *UDSClient) ListTemplates(ctx context.Context) ([]model.Profile, error) {
	var out []model.Profile
	err := c.call(ctx, CmdListTemplates, nil, &out)
	return out, err
}

func (c *UDSClient) GetExecutionState(ctx context.Context, taskID string) (model.ExecutionState, error) {
	var out model.ExecutionState
	err := c.call(ctx, CmdGetExecutionState, taskParams{TaskID: taskID}, &out)
	return out, err
}

func (c *UDSClient) Seek(ctx context.Context, params SeekParams) (model.ExecutionState, error) {
	var out model.ExecutionState
	err := c.call(ctx, CmdSeek, params, &out)
	return out, err
}

func (c *UDSClient) Reset(ctx context.Context, taskID string) (model.ExecutionState, error) {
	var out model.ExecutionState
	err := c.call(ctx, CmdReset, taskParams{TaskID: taskID}, &out)
	return out, err
}

func (c *UDSClient) ListPerformance(ctx context.Context, filter PerformanceFilter) ([]model.ProfilePerformance, error) {
	var out []model.ProfilePerformance
	err := c.call(ctx, CmdListPerformance, filter, &out)
	return out, err
}

func (c *UDSClient) ListTasks(ctx context.Context) ([]model.Task, error) {
	var out []model.Task
	err := c.call(ctx, CmdListTasks, nil, &out)
	return out, err
}

func (c *UDSClient) GetTask(ctx context.Context, id string) (model.Task, error) {
	var out model.Task
	err := c.call(ctx, CmdGetTask, idParams{ID: id}, &out)
	return out, err
}

func (c *UDSClient) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	var out model.Task
	err := c.call(ctx, CmdUpdateTaskStatus, statusParams{ID: id, Status: status}, &out)
	return out, err
}

func (c *UDSClient) UpdateTaskNotes(ctx context.Context, id, notes string) (model.Task, error) {
	var out model.Task
	err := c.call(ctx, CmdUpdateTaskNotes, notesParams{ID: id, Notes: notes}, &out)
	return out, err
}

func (c *UDSClient) GetQueueStatus(ctx context.Context) (model.QueueStatus, error) {
	var out model.QueueStatus
	err := c.call(ctx, CmdGetQueueStatus, nil, &out)
	return out, err
}

func (c *UDSClient) ListProcesses(ctx context.Context) ([]model.Process, error) {
	var out []model.Process
	err := c.call(ctx, CmdListProcesses, nil, &out)
	return out, err
}

func (c *UDSClient) GetSettings(ctx context.Context) (model.Settings, error) {
	var out model.Settings
	err := c.call(ctx, CmdGetSettings, nil, &out)
	return out, err
}
