package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/msageha/autosteer/internal/model"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		node model.ConditionNode
		want string
	}{
		{"simple", leaf("lint_errors", model.OpLTE, 2), "lint_errors <= 2"},
		{"percent unit", leaf("test_coverage", model.OpGTE, 72.5), "test_coverage >= 72.5%"},
		{"categorical", leaf("build_status", model.OpEQ, 1), "build_status == passing"},
		{"categorical unknown code", leaf("build_status", model.OpEQ, 7), "build_status == 7"},
		{"default leaf", model.NewSimpleCondition(), "? > 0"},
		{"no operator", model.ConditionNode{Type: model.ConditionSimple, Metric: "todo_count"}, "todo_count ? 0"},
		{"empty group", model.NewCompoundCondition(), "(empty AND)"},
		{"group without logic", model.ConditionNode{Type: model.ConditionCompound}, "(empty ?)"},
		{"untyped node", model.ConditionNode{}, "?"},
		{
			"nested",
			group(model.LogicOr,
				leaf("todo_count", model.OpEQ, 0),
				group(model.LogicAnd, leaf("ux_score", model.OpGT, 8), leaf("perf_score", model.OpGT, 90)),
			),
			"(todo_count == 0 OR (ux_score > 8 AND perf_score > 90))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.node))
		})
	}
}

func TestDescribeAll(t *testing.T) {
	assert.Equal(t, "no stop conditions", DescribeAll(nil))
	assert.Equal(t, "lint_errors == 0 OR (empty OR)",
		DescribeAll([]model.ConditionNode{leaf("lint_errors", model.OpEQ, 0), group(model.LogicOr)}))
}

func TestCatalog(t *testing.T) {
	all := Catalog()
	assert.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}

	m, ok := LookupMetric("build_status")
	assert.True(t, ok)
	assert.Equal(t, MetricCategorical, m.Kind)

	_, ok = LookupMetric("lines_of_poetry")
	assert.False(t, ok)
}
