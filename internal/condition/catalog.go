package condition

import "sort"

// MetricKind distinguishes continuous signals from enumerated ones.
type MetricKind string

const (
	MetricNumeric     MetricKind = "numeric"
	MetricCategorical MetricKind = "categorical"
)

// Metric describes a signal the execution engine reports. Categorical metrics
// are encoded as numbers; Values names each code.
type Metric struct {
	Name        string
	Label       string
	Kind        MetricKind
	Unit        string
	Description string
	Values      map[float64]string
}

var catalog = map[string]Metric{
	"iterations": {
		Name: "iterations", Label: "Total iterations", Kind: MetricNumeric,
		Description: "Iterations run across all phases of the current run",
	},
	"phase_iterations": {
		Name: "phase_iterations", Label: "Phase iterations", Kind: MetricNumeric,
		Description: "Iterations run in the current phase",
	},
	"test_coverage": {
		Name: "test_coverage", Label: "Test coverage", Kind: MetricNumeric, Unit: "%",
		Description: "Line coverage reported by the test run",
	},
	"test_failures": {
		Name: "test_failures", Label: "Failing tests", Kind: MetricNumeric,
	},
	"tests_passed": {
		Name: "tests_passed", Label: "Passing tests", Kind: MetricNumeric,
	},
	"build_status": {
		Name: "build_status", Label: "Build status", Kind: MetricCategorical,
		Values: map[float64]string{0: "failing", 1: "passing"},
	},
	"lint_errors": {
		Name: "lint_errors", Label: "Lint errors", Kind: MetricNumeric,
	},
	"type_errors": {
		Name: "type_errors", Label: "Type errors", Kind: MetricNumeric,
	},
	"todo_count": {
		Name: "todo_count", Label: "TODO markers", Kind: MetricNumeric,
	},
	"files_changed": {
		Name: "files_changed", Label: "Files changed", Kind: MetricNumeric,
		Description: "Files changed by the last iteration",
	},
	"lines_changed": {
		Name: "lines_changed", Label: "Lines changed", Kind: MetricNumeric,
		Description: "Lines added plus removed by the last iteration",
	},
	"security_findings": {
		Name: "security_findings", Label: "Security findings", Kind: MetricNumeric,
	},
	"perf_score": {
		Name: "perf_score", Label: "Performance score", Kind: MetricNumeric, Unit: "pts",
	},
	"ux_score": {
		Name: "ux_score", Label: "UX score", Kind: MetricNumeric, Unit: "pts",
	},
	"duration_minutes": {
		Name: "duration_minutes", Label: "Elapsed time", Kind: MetricNumeric, Unit: "min",
	},
	"error_rate": {
		Name: "error_rate", Label: "Iteration error rate", Kind: MetricNumeric, Unit: "%",
	},
}

// LookupMetric returns the catalog entry for name.
func LookupMetric(name string) (Metric, bool) {
	m, ok := catalog[name]
	return m, ok
}

// Catalog returns every known metric sorted by name.
func Catalog() []Metric {
	out := make([]Metric, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
