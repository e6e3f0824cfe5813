package rules

import (
	"errors"
)

// Operator combines the results of a logic group's children.
type Operator string

const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

// ErrInvalidLogicGroup marks a group with an unknown operator tag. Callers
// treat the group as false and keep evaluating.
var ErrInvalidLogicGroup = errors.New("invalid logic group operator")

// LogicGroup composes predicate leaves and nested groups under a single
// AND/OR operator. It is an owned tree: each subgroup belongs exclusively to
// its parent, so recursive evaluation always terminates. An empty operator
// defaults to AND.
type LogicGroup[T any] struct {
	Operator Operator        `json:"operator,omitempty"`
	Items    []T             `json:"items,omitempty"`
	Groups   []LogicGroup[T] `json:"groups,omitempty"`
}

// Evaluate folds items then subgroups with short-circuiting. A group with no
// items and no subgroups evaluates to the operator identity: true for AND,
// false for OR. An unknown operator yields (false, ErrInvalidLogicGroup).
func Evaluate[T any](g LogicGroup[T], leaf func(T) bool) (bool, error) {
	op := g.Operator
	if op == "" {
		op = OperatorAnd
	}
	switch op {
	case OperatorAnd:
		for _, item := range g.Items {
			if !leaf(item) {
				return false, nil
			}
		}
		for _, sub := range g.Groups {
			ok, err := Evaluate(sub, leaf)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case OperatorOr:
		for _, item := range g.Items {
			if leaf(item) {
				return true, nil
			}
		}
		for _, sub := range g.Groups {
			ok, err := Evaluate(sub, leaf)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, ErrInvalidLogicGroup
	}
}

// AddItem appends a leaf. Duplicates are allowed.
func (g *LogicGroup[T]) AddItem(item T) {
	g.Items = append(g.Items, item)
}

// RemoveItem removes the leaf at index i, reporting whether i was in range.
func (g *LogicGroup[T]) RemoveItem(i int) bool {
	if i < 0 || i >= len(g.Items) {
		return false
	}
	g.Items = append(g.Items[:i], g.Items[i+1:]...)
	return true
}

// AddGroup appends a nested subgroup.
func (g *LogicGroup[T]) AddGroup(sub LogicGroup[T]) {
	g.Groups = append(g.Groups, sub)
}

// RemoveGroup removes the subgroup at index i, reporting whether i was in range.
func (g *LogicGroup[T]) RemoveGroup(i int) bool {
	if i < 0 || i >= len(g.Groups) {
		return false
	}
	g.Groups = append(g.Groups[:i], g.Groups[i+1:]...)
	return true
}
