package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/msageha/autosteer/internal/condition"
	"github.com/msageha/autosteer/internal/model"
)

type ValidationError struct {
	FieldPath string
	Message   string
	// PhaseIndex is the offending phase, or -1 for profile-level fields.
	PhaseIndex int
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

// ValidationErrors collects save-blocking Errors and advisory Warnings.
type ValidationErrors struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

func (ve *ValidationErrors) Add(fieldPath, message string) {
	ve.Errors = append(ve.Errors, ValidationError{FieldPath: fieldPath, Message: message, PhaseIndex: -1})
}

func (ve *ValidationErrors) AddPhase(index int, field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{
		FieldPath:  fmt.Sprintf("phases[%d].%s", index, field),
		Message:    message,
		PhaseIndex: index,
	})
}

// WarnPhase records an issue that does not block saving.
func (ve *ValidationErrors) WarnPhase(index int, field, message string) {
	ve.Warnings = append(ve.Warnings, ValidationError{
		FieldPath:  fmt.Sprintf("phases[%d].%s", index, field),
		Message:    message,
		PhaseIndex: index,
	})
}

func (ve *ValidationErrors) HasErrors() bool {
	return ve != nil && len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

func (ve *ValidationErrors) FormatStderr() string {
	var sb strings.Builder
	for _, e := range ve.Errors {
		fmt.Fprintf(&sb, "error: %s: %s\n", e.FieldPath, e.Message)
	}
	for _, w := range ve.Warnings {
		fmt.Fprintf(&sb, "warning: %s: %s\n", w.FieldPath, w.Message)
	}
	return sb.String()
}

// PhaseIndexes returns the sorted, distinct indexes of phases with errors.
func (ve *ValidationErrors) PhaseIndexes() []int {
	seen := make(map[int]bool)
	var out []int
	for _, e := range ve.Errors {
		if e.PhaseIndex < 0 || seen[e.PhaseIndex] {
			continue
		}
		seen[e.PhaseIndex] = true
		out = append(out, e.PhaseIndex)
	}
	sort.Ints(out)
	return out
}

// Field returns the first error recorded for fieldPath.
func (ve *ValidationErrors) Field(fieldPath string) (ValidationError, bool) {
	for _, e := range ve.Errors {
		if e.FieldPath == fieldPath {
			return e, true
		}
	}
	return ValidationError{}, false
}

// Warning returns the first warning recorded for fieldPath.
func (ve *ValidationErrors) Warning(fieldPath string) (ValidationError, bool) {
	for _, w := range ve.Warnings {
		if w.FieldPath == fieldPath {
			return w, true
		}
	}
	return ValidationError{}, false
}

// Validate runs the save-time checks over p and collects every violation.
func Validate(p model.Profile) *ValidationErrors {
	ve := &ValidationErrors{}

	if strings.TrimSpace(p.Name) == "" {
		ve.Add("name", "must not be empty")
	}
	if len(p.Phases) == 0 {
		ve.Add("phases", "at least one phase is required")
	}
	for i, ph := range p.Phases {
		validatePhase(ve, i, ph)
	}
	return ve
}

// Check is Validate as an error: nil when p can be saved.
func Check(p model.Profile) error {
	if ve := Validate(p); ve.HasErrors() {
		return ve
	}
	return nil
}

func validatePhase(ve *ValidationErrors, index int, ph model.Phase) {
	switch {
	case ph.Mode == "":
		ve.AddPhase(index, "mode", "must be set")
	case !model.IsValidPhaseMode(ph.Mode):
		ve.AddPhase(index, "mode", fmt.Sprintf("unknown mode %q", ph.Mode))
	}
	if ph.MaxIterations < model.MinPhaseIterations || ph.MaxIterations > model.MaxPhaseIterations {
		ve.AddPhase(index, "max_iterations",
			fmt.Sprintf("must be between %d and %d, got %d",
				model.MinPhaseIterations, model.MaxPhaseIterations, ph.MaxIterations))
	}

	condition.Walk(ph.StopConditions, func(path condition.Path, n model.ConditionNode) {
		field := func(name string) string {
			return fmt.Sprintf("stop_conditions[%s].%s", path, name)
		}
		switch n.Type {
		case model.ConditionSimple:
			// A leaf without a known metric evaluates to false, so it only warns.
			if n.Metric == "" {
				ve.WarnPhase(index, field("metric"), "not set, condition never matches")
			} else if _, ok := condition.LookupMetric(n.Metric); !ok {
				ve.WarnPhase(index, field("metric"), fmt.Sprintf("unknown metric %q, condition never matches", n.Metric))
			}
			if !model.IsValidOperator(n.Operator) {
				ve.AddPhase(index, field("operator"), fmt.Sprintf("invalid operator %q", n.Operator))
			}
		case model.ConditionCompound:
			if !model.IsValidLogic(n.Logic) {
				ve.AddPhase(index, field("logic"), fmt.Sprintf("invalid logic %q", n.Logic))
			}
		default:
			ve.AddPhase(index, field("type"), fmt.Sprintf("unknown condition type %q", n.Type))
		}
	})
}
