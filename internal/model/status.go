package model

import "fmt"

// TaskStatus is a board column.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
)

// Board moves: any column may move to an adjacent one, done may reopen to todo.
var validTaskStatusTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusTodo: {
		TaskStatusInProgress: true,
		TaskStatusDone:       true,
	},
	TaskStatusInProgress: {
		TaskStatusTodo:   true,
		TaskStatusReview: true,
		TaskStatusDone:   true,
	},
	TaskStatusReview: {
		TaskStatusInProgress: true,
		TaskStatusDone:       true,
	},
	TaskStatusDone: {
		TaskStatusTodo:   true,
		TaskStatusReview: true,
	},
}

func ValidateTaskStatusTransition(from, to TaskStatus) error {
	allowed, ok := validTaskStatusTransitions[from]
	if !ok {
		return fmt.Errorf("unknown task status %q", from)
	}
	if from == to {
		return nil
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %q → %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// Task holds at most one of AutoSteerProfileID or SteerMode.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Status             TaskStatus `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	AutoSteerProfileID string     `json:"auto_steer_profile_id,omitempty"`
	SteerMode          PhaseMode  `json:"steer_mode,omitempty"`
	UpdatedAt          string     `json:"updated_at,omitempty"`
}

// BindProfile selects an Auto Steer profile and clears any manual steer mode.
func (t *Task) BindProfile(profileID string) {
	t.AutoSteerProfileID = profileID
	if profileID != "" {
		t.SteerMode = ""
	}
}

// SetSteerMode selects a manual steer mode and clears any profile binding.
func (t *Task) SetSteerMode(mode PhaseMode) {
	t.SteerMode = mode
	if mode != "" {
		t.AutoSteerProfileID = ""
	}
}

func (t Task) HasProfile() bool {
	return t.AutoSteerProfileID != ""
}

type QueueStatus struct {
	Running     bool   `json:"running"`
	Paused      bool   `json:"paused"`
	Pending     int    `json:"pending"`
	InProgress  int    `json:"in_progress"`
	RateLimited bool   `json:"rate_limited"`
	ResetAt     string `json:"reset_at,omitempty"`
}

type Process struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

type Settings struct {
	DefaultProfileID string            `json:"default_profile_id,omitempty"`
	MaxConcurrent    int               `json:"max_concurrent"`
	Extra            map[string]string `json:"extra,omitempty"`
}
