package condition

import "github.com/msageha/autosteer/internal/model"

// Snapshot is a set of metric readings taken after an iteration.
type Snapshot interface {
	Metric(name string) (float64, bool)
}

// Metrics is a map-backed Snapshot.
type Metrics map[string]float64

func (m Metrics) Metric(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// Evaluate reports whether node holds for snapshot.
//
// A simple node whose metric is unknown or missing evaluates to false. An empty
// AND group is true and an empty OR group is false, so an empty AND never
// blocks progress and an empty OR never stops a phase.
func Evaluate(node model.ConditionNode, snap Snapshot) bool {
	switch node.Type {
	case model.ConditionSimple:
		return evaluateSimple(node, snap)
	case model.ConditionCompound:
		switch node.Logic {
		case model.LogicAnd:
			for _, c := range node.Conditions {
				if !Evaluate(c, snap) {
					return false
				}
			}
			return true
		case model.LogicOr:
			for _, c := range node.Conditions {
				if Evaluate(c, snap) {
					return true
				}
			}
			return false
		}
	}
	return false
}

// EvaluateAll evaluates a phase's stop conditions. The top-level sequence is
// an implicit OR: any true condition stops the phase, and no conditions never do.
func EvaluateAll(tree []model.ConditionNode, snap Snapshot) bool {
	return Evaluate(model.ConditionNode{
		Type:       model.ConditionCompound,
		Logic:      model.LogicOr,
		Conditions: tree,
	}, snap)
}

func evaluateSimple(node model.ConditionNode, snap Snapshot) bool {
	if snap == nil || node.Metric == "" {
		return false
	}
	if _, known := LookupMetric(node.Metric); !known {
		return false
	}
	got, ok := snap.Metric(node.Metric)
	if !ok {
		return false
	}
	want := node.Value
	switch node.Operator {
	case model.OpGT:
		return got > want
	case model.OpLT:
		return got < want
	case model.OpGTE:
		return got >= want
	case model.OpLTE:
		return got <= want
	case model.OpEQ:
		return got == want
	case model.OpNEQ:
		return got != want
	default:
		return false
	}
}

// Result is one node's outcome in an Explain trace.
type Result struct {
	Path        Path
	Description string
	Passed      bool
	Missing     bool // simple node whose metric had no reading
	Children    []Result
}

// Explain evaluates every node of tree, without short-circuiting, so a
// preview can show which branch would stop the phase.
func Explain(tree []model.ConditionNode, snap Snapshot) []Result {
	return explain(tree, Path{}, snap)
}

func explain(seq []model.ConditionNode, prefix Path, snap Snapshot) []Result {
	if len(seq) == 0 {
		return nil
	}
	out := make([]Result, len(seq))
	for i, n := range seq {
		p := prefix.Child(i)
		r := Result{
			Path:        p,
			Description: Describe(n),
			Passed:      Evaluate(n, snap),
		}
		if n.IsCompound() {
			r.Children = explain(n.Conditions, p, snap)
		} else if snap != nil {
			_, ok := snap.Metric(n.Metric)
			r.Missing = !ok
		} else {
			r.Missing = true
		}
		out[i] = r
	}
	return out
}
