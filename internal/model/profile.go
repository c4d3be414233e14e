package model

// PhaseMode is the kind of work an Auto Steer phase steers toward.
type PhaseMode string

const (
	ModeProgress    PhaseMode = "progress"
	ModeUX          PhaseMode = "ux"
	ModeRefactor    PhaseMode = "refactor"
	ModeTest        PhaseMode = "test"
	ModeExplore     PhaseMode = "explore"
	ModePolish      PhaseMode = "polish"
	ModeIntegration PhaseMode = "integration"
	ModePerformance PhaseMode = "performance"
	ModeSecurity    PhaseMode = "security"
)

// PhaseModes lists every mode in display order.
var PhaseModes = []PhaseMode{
	ModeProgress, ModeUX, ModeRefactor, ModeTest, ModeExplore,
	ModePolish, ModeIntegration, ModePerformance, ModeSecurity,
}

func IsValidPhaseMode(m PhaseMode) bool {
	for _, mode := range PhaseModes {
		if mode == m {
			return true
		}
	}
	return false
}

const (
	MinPhaseIterations = 1
	MaxPhaseIterations = 100
)

type Phase struct {
	Mode           PhaseMode       `yaml:"mode" json:"mode"`
	MaxIterations  int             `yaml:"max_iterations" json:"max_iterations"`
	Description    string          `yaml:"description,omitempty" json:"description,omitempty"`
	StopConditions []ConditionNode `yaml:"stop_conditions" json:"stop_conditions"`
}

// Profile is an Auto Steer profile: an ordered sequence of phases.
type Profile struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Phases      []Phase  `yaml:"phases" json:"phases"`
	IsTemplate  bool     `yaml:"is_template,omitempty" json:"is_template,omitempty"`
	UpdatedAt   string   `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// PhaseAt returns the phase at index and whether it exists.
func (p *Profile) PhaseAt(index int) (Phase, bool) {
	if p == nil || index < 0 || index >= len(p.Phases) {
		return Phase{}, false
	}
	return p.Phases[index], true
}

type PerformanceFeedback struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type PhaseBreakdown struct {
	Mode        PhaseMode `json:"mode"`
	Iterations  int       `json:"iterations"`
	DurationSec float64   `json:"duration_sec"`
}

// ProfilePerformance is an append-only record of a completed run.
type ProfilePerformance struct {
	ID             string               `json:"id"`
	ProfileID      string               `json:"profile_id"`
	TaskID         string               `json:"task_id"`
	Scenario       string               `json:"scenario,omitempty"`
	StartMetrics   map[string]float64   `json:"start_metrics"`
	EndMetrics     map[string]float64   `json:"end_metrics"`
	PhaseBreakdown []PhaseBreakdown     `json:"phase_breakdown"`
	UserFeedback   *PerformanceFeedback `json:"user_feedback,omitempty"`
	CreatedAt      string               `json:"created_at"`
}
