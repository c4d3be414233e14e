package condition

import (
	"strconv"
	"strings"

	"github.com/msageha/autosteer/internal/model"
)

const placeholder = "?"

// Describe renders a node as a one-line summary. Incomplete nodes render with
// placeholders instead of failing.
func Describe(node model.ConditionNode) string {
	switch node.Type {
	case model.ConditionCompound:
		logic := string(node.Logic)
		if logic == "" {
			logic = placeholder
		}
		if len(node.Conditions) == 0 {
			return "(empty " + logic + ")"
		}
		parts := make([]string, len(node.Conditions))
		for i, c := range node.Conditions {
			parts[i] = Describe(c)
		}
		return "(" + strings.Join(parts, " "+logic+" ") + ")"
	case model.ConditionSimple:
		metric := node.Metric
		if metric == "" {
			metric = placeholder
		}
		op := string(node.Operator)
		if op == "" {
			op = placeholder
		}
		return metric + " " + op + " " + formatValue(node.Metric, node.Value)
	default:
		return placeholder
	}
}

// DescribeAll renders a phase's top-level stop conditions, joined as the
// implicit OR root.
func DescribeAll(tree []model.ConditionNode) string {
	if len(tree) == 0 {
		return "no stop conditions"
	}
	parts := make([]string, len(tree))
	for i, n := range tree {
		parts[i] = Describe(n)
	}
	return strings.Join(parts, " OR ")
}

func formatValue(metric string, v float64) string {
	if m, ok := LookupMetric(metric); ok && m.Kind == MetricCategorical {
		if name, ok := m.Values[v]; ok {
			return name
		}
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if m, ok := LookupMetric(metric); ok && m.Unit == "%" {
		s += "%"
	}
	return s
}
