package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/events"
	"github.com/msageha/autosteer/internal/execution"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/profile"
	"github.com/msageha/autosteer/internal/reconcile"
	"github.com/msageha/autosteer/internal/status"
	"github.com/msageha/autosteer/internal/uds"
)

// Control socket commands.
const (
	CmdPing         = "ping"
	CmdStatus       = "status"
	CmdExecState    = "exec_state"
	CmdSeek         = "seek"
	CmdReset        = "reset"
	CmdReconnect    = "reconnect"
	CmdMoveTask     = "move_task"
	CmdProfileSave  = "profile_save"
	CmdPerformance  = "performance"
	CmdNotesOpen    = "notes_open"
	CmdNotesEdit    = "notes_edit"
	CmdNotesSave    = "notes_save"
	CmdNotesDiscard = "notes_discard"
	CmdShutdown     = "shutdown"
	// CmdWatch streams every bus event to the caller.
	CmdWatch = "watch"
)

type TaskParams struct {
	TaskID string `json:"task_id"`
}

type MoveTaskParams struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

type ProfileSaveParams struct {
	ID string `json:"id"`
}

type PerformanceParams struct {
	ProfileID string `json:"profile_id"`
}

type NotesEditParams struct {
	Text string `json:"text"`
}

// NotesResult describes the notes draft held by the daemon.
type NotesResult struct {
	TaskID         string `json:"task_id"`
	Text           string `json:"text"`
	Dirty          bool   `json:"dirty"`
	ExternalChange bool   `json:"external_change,omitempty"`
}

// ExecStateResult is the exec_state response payload.
type ExecStateResult struct {
	Projection execution.Projection `json:"projection"`
	Stale      bool                 `json:"stale,omitempty"`
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle(CmdPing, func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle(CmdShutdown, func(req *uds.Request) *uds.Response {
		d.log(model.LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle(CmdReconnect, func(req *uds.Request) *uds.Response {
		d.channel.Reconnect()
		return uds.SuccessResponse(d.channel.Status())
	})

	d.server.Handle(CmdStatus, d.handleStatus)
	d.server.Handle(CmdExecState, d.handleExecState)
	d.server.Handle(CmdSeek, d.handleSeek)
	d.server.Handle(CmdReset, d.handleReset)
	d.server.Handle(CmdMoveTask, d.handleMoveTask)
	d.server.Handle(CmdProfileSave, d.handleProfileSave)
	d.server.Handle(CmdPerformance, d.handlePerformance)
	d.server.Handle(CmdNotesOpen, d.handleNotesOpen)
	d.server.Handle(CmdNotesEdit, d.handleNotesEdit)
	d.server.Handle(CmdNotesSave, d.handleNotesSave)
	d.server.Handle(CmdNotesDiscard, func(req *uds.Request) *uds.Response {
		d.notes.Discard()
		return uds.SuccessResponse(d.notesResult())
	})
	d.server.HandleStream(CmdWatch, d.serveWatch)
}

// requestContext bounds one control request by the backend timeout.
func (d *Daemon) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(d.ctx, time.Duration(d.config.Backend.TimeoutSec)*time.Second)
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	ctx, cancel := d.requestContext()
	defer cancel()

	chStatus := d.channel.Status()
	stats := d.cache.Stats()
	report := status.Report{
		Daemon: status.DaemonInfo{
			Running: true,
			Pid:     os.Getpid(),
			Uptime:  time.Since(d.startedAt).Round(time.Second).String(),
		},
		Channel: &chStatus,
		Drafts:  d.drafts.lines(),
		Cache:   &stats,
	}

	qv := d.cache.Get(ctx, reconcile.QueueStatusKey())
	if q, ok := reconcile.Typed[model.QueueStatus](qv); ok {
		report.Queue = &q
		report.QueueStale = qv.Stale
	}
	tv := d.cache.Get(ctx, reconcile.TasksKey())
	if tasks, ok := reconcile.Typed[[]model.Task](tv); ok {
		report.TasksStale = tv.Stale
		for _, t := range tasks {
			report.Tasks = append(report.Tasks, status.TaskLine{
				ID:        t.ID,
				Title:     t.Title,
				Status:    t.Status,
				ProfileID: t.AutoSteerProfileID,
				SteerMode: t.SteerMode,
			})
		}
	}
	return uds.SuccessResponse(report)
}

func (d *Daemon) handleExecState(req *uds.Request) *uds.Response {
	var params TaskParams
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}
	if params.TaskID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "task_id is required")
	}

	ctx, cancel := d.requestContext()
	defer cancel()
	proj, stale, err := d.controller.State(ctx, params.TaskID)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(ExecStateResult{Projection: proj, Stale: stale})
}

func (d *Daemon) handleSeek(req *uds.Request) *uds.Response {
	var params execution.SeekRequest
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}
	if params.TaskID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "task_id is required")
	}

	ctx, cancel := d.requestContext()
	defer cancel()
	state, err := d.controller.Seek(ctx, params)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(state)
}

func (d *Daemon) handleReset(req *uds.Request) *uds.Response {
	var params TaskParams
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}
	if params.TaskID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "task_id is required")
	}

	ctx, cancel := d.requestContext()
	defer cancel()
	state, err := d.controller.Reset(ctx, params.TaskID)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(state)
}

func (d *Daemon) handleMoveTask(req *uds.Request) *uds.Response {
	var params MoveTaskParams
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}
	if params.TaskID == "" || params.Status == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "task_id and status are required")
	}

	ctx, cancel := d.requestContext()
	defer cancel()
	if err := d.board.MoveTask(ctx, params.TaskID, params.Status); err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(map[string]string{"task_id": params.TaskID, "status": string(params.Status)})
}

// handleProfileSave saves the local draft of a profile through the backend.
func (d *Daemon) handleProfileSave(req *uds.Request) *uds.Response {
	var params ProfileSaveParams
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}
	if params.ID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "id is required")
	}
	if n, ok := d.drafts.issueCount(params.ID); ok && n > 0 {
		d.log(model.LogLevelDebug, "profile_save %s: draft has %d known issues", params.ID, n)
	}

	ctx, cancel := d.requestContext()
	defer cancel()
	draft, err := d.editor.Open(ctx, params.ID)
	if err != nil {
		return errorResponse(err)
	}
	saved, err := d.editor.Save(ctx, draft)
	if err != nil {
		d.notifier.Notify("Profile save failed", fmt.Sprintf("%s: %v", params.ID, err))
		return errorResponse(err)
	}
	return uds.SuccessResponse(saved)
}

func (d *Daemon) handlePerformance(req *uds.Request) *uds.Response {
	var params PerformanceParams
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}

	ctx, cancel := d.requestContext()
	defer cancel()
	view := d.cache.Get(ctx, reconcile.PerformanceKey(params.ProfileID))
	records, ok := reconcile.Typed[[]model.ProfilePerformance](view)
	if !ok {
		if view.Err != nil {
			return errorResponse(view.Err)
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("unexpected cache value %T", view.Value))
	}
	return uds.SuccessResponse(records)
}

func (d *Daemon) handleNotesOpen(req *uds.Request) *uds.Response {
	var params TaskParams
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}
	if params.TaskID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "task_id is required")
	}

	ctx, cancel := d.requestContext()
	defer cancel()
	if _, err := d.notes.Open(ctx, params.TaskID); err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(d.notesResult())
}

func (d *Daemon) handleNotesEdit(req *uds.Request) *uds.Response {
	var params NotesEditParams
	if resp := decodeParams(req, &params); resp != nil {
		return resp
	}
	if d.notes.TaskID() == "" {
		return uds.ErrorResponse(uds.ErrCodePreconditionFailed, "no task notes open")
	}
	d.notes.Edit(params.Text)
	return uds.SuccessResponse(d.notesResult())
}

func (d *Daemon) handleNotesSave(req *uds.Request) *uds.Response {
	if d.notes.TaskID() == "" {
		return uds.ErrorResponse(uds.ErrCodePreconditionFailed, "no task notes open")
	}
	ctx, cancel := d.requestContext()
	defer cancel()
	if err := d.notes.Save(ctx); err != nil {
		d.notifier.Notify("Notes save failed", err.Error())
		return errorResponse(err)
	}
	return uds.SuccessResponse(d.notesResult())
}

func (d *Daemon) notesResult() NotesResult {
	return NotesResult{
		TaskID:         d.notes.TaskID(),
		Text:           d.notes.Value(),
		Dirty:          d.notes.Dirty(),
		ExternalChange: d.notes.ExternalChange(),
	}
}

// serveWatch forwards bus events to the peer until it disconnects.
func (d *Daemon) serveWatch(ctx context.Context, req *uds.Request, stream *uds.Stream) {
	ch := make(chan events.Event, 64)
	unsubscribe := d.bus.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if err := stream.Send(e); err != nil {
				d.log(model.LogLevelDebug, "watch stream closed: %v", err)
				return
			}
		}
	}
}

func decodeParams(req *uds.Request, v any) *uds.Response {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

// errorResponse maps the error taxonomy onto response codes.
func errorResponse(err error) *uds.Response {
	var ve *profile.ValidationErrors
	var re *backend.RemoteError
	switch {
	case errors.As(err, &ve):
		return uds.ErrorResponse(uds.ErrCodeValidation, ve.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	case errors.Is(err, model.ErrPreconditionFailed):
		return uds.ErrorResponse(uds.ErrCodePreconditionFailed, err.Error())
	case errors.Is(err, model.ErrNotFound):
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	case model.IsTransportError(err):
		return uds.ErrorResponse(uds.ErrCodeUnavailable, err.Error())
	case errors.As(err, &re):
		return uds.ErrorResponse(re.Code, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}
