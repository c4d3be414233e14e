// Package execution projects and repositions a task's progress through its
// Auto Steer profile.
//
// The engine that runs phases owns the real state machine. Advance here is the
// same transition, used for previews and tests; Seek and Reset are the
// operator overrides, applied remotely through Controller.
package execution

import (
	"time"

	"github.com/msageha/autosteer/internal/condition"
	"github.com/msageha/autosteer/internal/model"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Projection is the read-only view of an execution state against its profile.
type Projection struct {
	TaskID          string              `json:"task_id"`
	ProfileID       string              `json:"profile_id"`
	Status          Status              `json:"status"`
	PhaseIndex      int                 `json:"phase_index"`
	PhaseCount      int                 `json:"phase_count"`
	Mode            model.PhaseMode     `json:"mode,omitempty"`
	PhaseIteration  int                 `json:"phase_iteration"`
	MaxIterations   int                 `json:"max_iterations"`
	TotalIterations int                 `json:"total_iterations"`
	History         []model.PhaseRecord `json:"history"`
	LastUpdated     string              `json:"last_updated,omitempty"`
}

func Completed(p model.Profile, s model.ExecutionState) bool {
	return s.CurrentPhaseIndex >= len(p.Phases)
}

func Project(p model.Profile, s model.ExecutionState) Projection {
	proj := Projection{
		TaskID:          s.TaskID,
		ProfileID:       s.ProfileID,
		Status:          StatusActive,
		PhaseIndex:      s.CurrentPhaseIndex,
		PhaseCount:      len(p.Phases),
		PhaseIteration:  s.CurrentPhaseIteration,
		TotalIterations: s.TotalIterations(),
		History:         s.Clone().PhaseHistory,
		LastUpdated:     s.LastUpdated,
	}
	if proj.History == nil {
		proj.History = []model.PhaseRecord{}
	}
	if phase, ok := p.PhaseAt(s.CurrentPhaseIndex); ok {
		proj.Mode = phase.Mode
		proj.MaxIterations = phase.MaxIterations
	} else {
		proj.Status = StatusCompleted
		proj.PhaseIndex = len(p.Phases)
	}
	return proj
}

// Advance runs one iteration of the current phase. The phase ends when its
// iteration cap is reached or its stop conditions hold; it is then recorded in
// the history and the next phase starts at iteration 0. Advancing a completed
// run returns it unchanged.
func Advance(p model.Profile, s model.ExecutionState, snap condition.Snapshot, now time.Time) model.ExecutionState {
	if Completed(p, s) {
		return s
	}
	next := s.Clone()
	phase := p.Phases[next.CurrentPhaseIndex]
	stamp := now.UTC().Format(time.RFC3339)
	if next.PhaseStartedAt == "" {
		next.PhaseStartedAt = stamp
	}
	next.CurrentPhaseIteration++
	next.LastUpdated = stamp

	if next.CurrentPhaseIteration < phase.MaxIterations && !condition.EvaluateAll(phase.StopConditions, snap) {
		return next
	}

	var elapsed time.Duration
	if started, err := time.Parse(time.RFC3339, next.PhaseStartedAt); err == nil && now.After(started) {
		elapsed = now.Sub(started)
	}
	// A seek can park the run on the cap; the extra step is not recorded.
	iterations := next.CurrentPhaseIteration
	if phase.MaxIterations > 0 && iterations > phase.MaxIterations {
		iterations = phase.MaxIterations
	}
	next.PhaseHistory = append(next.PhaseHistory, model.PhaseRecord{
		Mode:       phase.Mode,
		Iterations: iterations,
		DurationMs: elapsed.Milliseconds(),
	})
	next.CurrentPhaseIndex++
	next.CurrentPhaseIteration = 0
	next.PhaseStartedAt = stamp
	return next
}

// Reset rewinds s to the first phase with an empty history.
func Reset(s model.ExecutionState, now time.Time) model.ExecutionState {
	stamp := now.UTC().Format(time.RFC3339)
	return model.ExecutionState{
		TaskID:         s.TaskID,
		ProfileID:      s.ProfileID,
		PhaseHistory:   []model.PhaseRecord{},
		PhaseStartedAt: stamp,
		LastUpdated:    stamp,
	}
}

// ClampSeek bounds a seek target to an existing phase and to that phase's
// iteration range. p must have at least one phase.
func ClampSeek(p model.Profile, phaseIndex, phaseIteration int) (int, int) {
	phaseIndex = clamp(phaseIndex, 0, len(p.Phases)-1)
	phaseIteration = clamp(phaseIteration, 0, p.Phases[phaseIndex].MaxIterations)
	return phaseIndex, phaseIteration
}

// Seek moves the pointer of s to the clamped target. The history is left as
// it is, so the total iteration count can drop after seeking backwards.
func Seek(p model.Profile, s model.ExecutionState, phaseIndex, phaseIteration int, now time.Time) (model.ExecutionState, error) {
	if len(p.Phases) == 0 {
		return s, model.ErrPreconditionFailed
	}
	next := s.Clone()
	next.CurrentPhaseIndex, next.CurrentPhaseIteration = ClampSeek(p, phaseIndex, phaseIteration)
	stamp := now.UTC().Format(time.RFC3339)
	next.PhaseStartedAt = stamp
	next.LastUpdated = stamp
	return next, nil
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
