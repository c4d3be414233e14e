// Package condition implements the stop-condition tree: path-addressed
// structural edits, one-line descriptions, and the reference evaluator.
//
// Every structural operation is copy-on-write along the addressed path. Input
// trees are never mutated, so a caller may keep the previous tree as an undo
// snapshot and share unchanged subtrees freely.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/msageha/autosteer/internal/model"
)

// Path addresses a node by descending through Conditions. The empty path is the
// implicit root: the phase's top-level stop_conditions sequence.
type Path []int

func (p Path) String() string {
	if len(p) == 0 {
		return "root"
	}
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ".")
}

// Child returns a new path addressing child i of p.
func (p Path) Child(i int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = i
	return out
}

// ParsePath parses the dotted form produced by String.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "root" {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("parse path %q: bad segment %q", s, part)
		}
		p = append(p, n)
	}
	return p, nil
}

// Patch carries the fields to merge into a node. Nil fields are left as-is;
// fields that do not apply to the node's type are ignored.
type Patch struct {
	Metric   *string
	Operator *model.Operator
	Value    *float64
	Logic    *model.Logic
}

// InsertAt appends a default node of the given kind to the children of the
// compound node at parent (or to the root sequence when parent is empty).
func InsertAt(tree []model.ConditionNode, parent Path, kind model.ConditionType) ([]model.ConditionNode, error) {
	var node model.ConditionNode
	switch kind {
	case model.ConditionSimple:
		node = model.NewSimpleCondition()
	case model.ConditionCompound:
		node = model.NewCompoundCondition()
	default:
		return nil, fmt.Errorf("insert at %s: unknown condition type %q", parent, kind)
	}

	out, err := modifyChildren(tree, parent, func(children []model.ConditionNode) ([]model.ConditionNode, error) {
		next := make([]model.ConditionNode, len(children), len(children)+1)
		copy(next, children)
		return append(next, node), nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert at %s: %w", parent, err)
	}
	return out, nil
}

// UpdateAt replaces the node at path with a copy that has patch merged in.
// Children of compound nodes are always carried over.
func UpdateAt(tree []model.ConditionNode, path Path, patch Patch) ([]model.ConditionNode, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("update at %s: %w", path, model.ErrInvalidPath)
	}
	last := path[len(path)-1]
	out, err := modifyChildren(tree, path[:len(path)-1], func(children []model.ConditionNode) ([]model.ConditionNode, error) {
		if last < 0 || last >= len(children) {
			return nil, model.ErrInvalidPath
		}
		next := make([]model.ConditionNode, len(children))
		copy(next, children)
		next[last] = applyPatch(children[last], patch)
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update at %s: %w", path, err)
	}
	return out, nil
}

// RemoveAt removes the node at path together with its subtree. A parent group
// left empty stays in the tree.
func RemoveAt(tree []model.ConditionNode, path Path) ([]model.ConditionNode, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("remove at %s: %w", path, model.ErrInvalidPath)
	}
	last := path[len(path)-1]
	out, err := modifyChildren(tree, path[:len(path)-1], func(children []model.ConditionNode) ([]model.ConditionNode, error) {
		if last < 0 || last >= len(children) {
			return nil, model.ErrInvalidPath
		}
		if len(children) == 1 {
			return nil, nil
		}
		next := make([]model.ConditionNode, 0, len(children)-1)
		next = append(next, children[:last]...)
		return append(next, children[last+1:]...), nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove at %s: %w", path, err)
	}
	return out, nil
}

// NodeAt returns the node addressed by path.
func NodeAt(tree []model.ConditionNode, path Path) (model.ConditionNode, error) {
	if len(path) == 0 {
		return model.ConditionNode{}, fmt.Errorf("node at %s: %w", path, model.ErrInvalidPath)
	}
	seq := tree
	var node model.ConditionNode
	for depth, idx := range path {
		if idx < 0 || idx >= len(seq) {
			return model.ConditionNode{}, fmt.Errorf("node at %s: %w", path, model.ErrInvalidPath)
		}
		node = seq[idx]
		if depth < len(path)-1 && !node.IsCompound() {
			return model.ConditionNode{}, fmt.Errorf("node at %s: %w", path, model.ErrInvalidPath)
		}
		seq = node.Conditions
	}
	return node, nil
}

// modifyChildren rewrites the child sequence of the compound node addressed by
// parent, copying every sequence along the way.
func modifyChildren(
	seq []model.ConditionNode,
	parent Path,
	fn func([]model.ConditionNode) ([]model.ConditionNode, error),
) ([]model.ConditionNode, error) {
	if len(parent) == 0 {
		return fn(seq)
	}
	idx := parent[0]
	if idx < 0 || idx >= len(seq) {
		return nil, model.ErrInvalidPath
	}
	node := seq[idx]
	if !node.IsCompound() {
		return nil, model.ErrInvalidPath
	}
	children, err := modifyChildren(node.Conditions, parent[1:], fn)
	if err != nil {
		return nil, err
	}
	node.Conditions = children

	out := make([]model.ConditionNode, len(seq))
	copy(out, seq)
	out[idx] = node
	return out, nil
}

func applyPatch(node model.ConditionNode, patch Patch) model.ConditionNode {
	switch node.Type {
	case model.ConditionCompound:
		if patch.Logic != nil {
			node.Logic = *patch.Logic
		}
	default:
		if patch.Metric != nil {
			node.Metric = *patch.Metric
		}
		if patch.Operator != nil {
			node.Operator = *patch.Operator
		}
		if patch.Value != nil {
			node.Value = *patch.Value
		}
	}
	return node
}

// Clone returns a deep copy of tree that shares no slices with it.
func Clone(tree []model.ConditionNode) []model.ConditionNode {
	if tree == nil {
		return nil
	}
	out := make([]model.ConditionNode, len(tree))
	for i, n := range tree {
		out[i] = n
		out[i].Conditions = Clone(n.Conditions)
	}
	return out
}

// Equal reports structural equality. Nil and empty child sequences are equal.
func Equal(a, b []model.ConditionNode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Type != y.Type || x.Metric != y.Metric || x.Operator != y.Operator ||
			x.Value != y.Value || x.Logic != y.Logic {
			return false
		}
		if !Equal(x.Conditions, y.Conditions) {
			return false
		}
	}
	return true
}

// Walk visits every node depth-first in document order.
func Walk(tree []model.ConditionNode, fn func(Path, model.ConditionNode)) {
	walk(tree, Path{}, fn)
}

func walk(seq []model.ConditionNode, prefix Path, fn func(Path, model.ConditionNode)) {
	for i, n := range seq {
		p := prefix.Child(i)
		fn(p, n)
		if n.IsCompound() {
			walk(n.Conditions, p, fn)
		}
	}
}

// Depth returns the nesting depth; a flat list of leaves has depth 1.
func Depth(tree []model.ConditionNode) int {
	max := 0
	for _, n := range tree {
		d := 1
		if n.IsCompound() {
			d += Depth(n.Conditions)
		}
		if d > max {
			max = d
		}
	}
	return max
}

// Count returns the total number of nodes.
func Count(tree []model.ConditionNode) int {
	n := 0
	Walk(tree, func(Path, model.ConditionNode) { n++ })
	return n
}
