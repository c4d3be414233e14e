package model

import "time"

// PhaseRecord is a phase completed by the execution engine.
type PhaseRecord struct {
	Mode       PhaseMode `json:"mode"`
	Iterations int       `json:"iterations"`
	DurationMs int64     `json:"duration_ms"`
}

func (r PhaseRecord) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// ExecutionState is the engine's pointer into a task's bound profile.
// CurrentPhaseIndex == len(profile.Phases) means the run is completed.
type ExecutionState struct {
	TaskID                string        `json:"task_id"`
	ProfileID             string        `json:"profile_id"`
	CurrentPhaseIndex     int           `json:"current_phase_index"`
	CurrentPhaseIteration int           `json:"current_phase_iteration"`
	PhaseHistory          []PhaseRecord `json:"phase_history"`
	PhaseStartedAt        string        `json:"phase_started_at,omitempty"`
	LastUpdated           string        `json:"last_updated"`
}

// TotalIterations is the overall iteration count: completed phases plus the current one.
func (s ExecutionState) TotalIterations() int {
	total := s.CurrentPhaseIteration
	for _, r := range s.PhaseHistory {
		total += r.Iterations
	}
	return total
}

// Clone returns a copy that shares no history slice with s.
func (s ExecutionState) Clone() ExecutionState {
	out := s
	if s.PhaseHistory != nil {
		out.PhaseHistory = make([]PhaseRecord, len(s.PhaseHistory))
		copy(out.PhaseHistory, s.PhaseHistory)
	}
	return out
}
