// Package profile implements Auto Steer profile editing: phase sequence
// operations, drafts with dirty tracking, save-time validation, and the local
// draft store.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/msageha/autosteer/internal/condition"
	"github.com/msageha/autosteer/internal/model"
)

var ErrPhaseIndex = errors.New("phase index out of range")

// DefaultPhaseIterations is the cap given to newly added phases.
const DefaultPhaseIterations = 10

type Direction int

const (
	Up   Direction = -1
	Down Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	default:
		return 0, fmt.Errorf("unknown direction %q (want up or down)", s)
	}
}

// PhasePatch carries the phase fields to change. Nil fields are left as-is.
type PhasePatch struct {
	Mode           *model.PhaseMode
	MaxIterations  *int
	Description    *string
	StopConditions []model.ConditionNode
	// ReplaceConditions must be set for StopConditions to apply, so that an
	// empty tree can be assigned explicitly.
	ReplaceConditions bool
}

// ClampIterations bounds n to the editable iteration range.
func ClampIterations(n int) int {
	if n < model.MinPhaseIterations {
		return model.MinPhaseIterations
	}
	if n > model.MaxPhaseIterations {
		return model.MaxPhaseIterations
	}
	return n
}

// NewPhase returns a phase with the given mode, the default cap and no stop
// conditions.
func NewPhase(mode model.PhaseMode) model.Phase {
	return model.Phase{Mode: mode, MaxIterations: DefaultPhaseIterations}
}

// AddPhase appends phase to a copy of phases.
func AddPhase(phases []model.Phase, phase model.Phase) []model.Phase {
	phase = ClonePhase(phase)
	phase.MaxIterations = ClampIterations(phase.MaxIterations)
	out := make([]model.Phase, len(phases), len(phases)+1)
	copy(out, phases)
	return append(out, phase)
}

// UpdatePhase returns a copy of phases with patch merged into the phase at index.
func UpdatePhase(phases []model.Phase, index int, patch PhasePatch) ([]model.Phase, error) {
	if err := checkIndex(phases, index); err != nil {
		return nil, fmt.Errorf("update phase: %w", err)
	}
	p := phases[index]
	if patch.Mode != nil {
		p.Mode = *patch.Mode
	}
	if patch.MaxIterations != nil {
		p.MaxIterations = ClampIterations(*patch.MaxIterations)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.ReplaceConditions {
		p.StopConditions = condition.Clone(patch.StopConditions)
	}

	out := make([]model.Phase, len(phases))
	copy(out, phases)
	out[index] = p
	return out, nil
}

// RemovePhase returns a copy of phases without the phase at index.
func RemovePhase(phases []model.Phase, index int) ([]model.Phase, error) {
	if err := checkIndex(phases, index); err != nil {
		return nil, fmt.Errorf("remove phase: %w", err)
	}
	out := make([]model.Phase, 0, len(phases)-1)
	out = append(out, phases[:index]...)
	return append(out, phases[index+1:]...), nil
}

// MovePhase swaps the phase at index with its neighbour in direction dir.
// Moving the first phase up or the last phase down leaves the order unchanged.
func MovePhase(phases []model.Phase, index int, dir Direction) ([]model.Phase, error) {
	if err := checkIndex(phases, index); err != nil {
		return nil, fmt.Errorf("move phase: %w", err)
	}
	if dir != Up && dir != Down {
		return nil, fmt.Errorf("move phase: invalid %s", dir)
	}
	out := make([]model.Phase, len(phases))
	copy(out, phases)
	target := index + int(dir)
	if target < 0 || target >= len(phases) {
		return out, nil
	}
	out[index], out[target] = out[target], out[index]
	return out, nil
}

// DuplicatePhase inserts a deep copy of the phase at index directly after it.
func DuplicatePhase(phases []model.Phase, index int) ([]model.Phase, error) {
	if err := checkIndex(phases, index); err != nil {
		return nil, fmt.Errorf("duplicate phase: %w", err)
	}
	out := make([]model.Phase, 0, len(phases)+1)
	out = append(out, phases[:index+1]...)
	out = append(out, ClonePhase(phases[index]))
	return append(out, phases[index+1:]...), nil
}

func checkIndex(phases []model.Phase, index int) error {
	if index < 0 || index >= len(phases) {
		return fmt.Errorf("%w: %d (have %d phases)", ErrPhaseIndex, index, len(phases))
	}
	return nil
}

// ClonePhase deep-copies a phase, including its condition tree.
func ClonePhase(p model.Phase) model.Phase {
	p.StopConditions = condition.Clone(p.StopConditions)
	return p
}

// Clone deep-copies a profile. The result shares no slices with p.
func Clone(p model.Profile) model.Profile {
	out := p
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	if p.Phases != nil {
		out.Phases = make([]model.Phase, len(p.Phases))
		for i, ph := range p.Phases {
			out.Phases[i] = ClonePhase(ph)
		}
	}
	return out
}

// NormalizeTags trims, drops empties, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
