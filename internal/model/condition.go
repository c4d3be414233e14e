package model

// ConditionType tags the two kinds of stop-condition node.
type ConditionType string

const (
	ConditionSimple   ConditionType = "simple"
	ConditionCompound ConditionType = "compound"
)

// Operator is a comparison operator for simple conditions.
type Operator string

const (
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="
)

var validOperators = map[Operator]bool{
	OpGT: true, OpLT: true, OpGTE: true, OpLTE: true, OpEQ: true, OpNEQ: true,
}

func IsValidOperator(op Operator) bool {
	return validOperators[op]
}

// Logic combines the children of a compound condition.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

func IsValidLogic(l Logic) bool {
	return l == LogicAnd || l == LogicOr
}

// ConditionNode is a stop-condition tree node. Simple nodes use Metric,
// Operator and Value; compound nodes use Logic and Conditions.
type ConditionNode struct {
	Type       ConditionType   `yaml:"type" json:"type"`
	Metric     string          `yaml:"metric,omitempty" json:"metric,omitempty"`
	Operator   Operator        `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value      float64         `yaml:"value,omitempty" json:"value,omitempty"`
	Logic      Logic           `yaml:"logic,omitempty" json:"logic,omitempty"`
	Conditions []ConditionNode `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

func (n ConditionNode) IsCompound() bool {
	return n.Type == ConditionCompound
}

// NewSimpleCondition returns the default leaf: empty metric, ">" and 0.
func NewSimpleCondition() ConditionNode {
	return ConditionNode{Type: ConditionSimple, Operator: OpGT}
}

// NewCompoundCondition returns the default group: AND with no children.
func NewCompoundCondition() ConditionNode {
	return ConditionNode{Type: ConditionCompound, Logic: LogicAnd}
}
