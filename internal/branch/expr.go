// Package branch evaluates boolean rule expressions against a session
// context snapshot and selects narrative routes. Malformed nodes and
// unknown operators never raise: they evaluate to false so a bad content
// pack degrades to "no match" instead of failing a step.
package branch

import (
	"fmt"
	"strings"
)

// #region node
// Node is one expression-tree node in the branch rule wire format.
type Node struct {
	Op    string    `json:"op" yaml:"op"`
	Args  []Node    `json:"args,omitempty" yaml:"args,omitempty"`
	Key   string    `json:"key,omitempty" yaml:"key,omitempty"`
	Value any       `json:"value,omitempty" yaml:"value,omitempty"`
	Left  string    `json:"left,omitempty" yaml:"left,omitempty"`
	Right any       `json:"right,omitempty" yaml:"right,omitempty"`
	Range []float64 `json:"range,omitempty" yaml:"range,omitempty"`
}

// #endregion node

// #region trace
// Trace records how one node evaluated, for audit and replay reporting.
type Trace struct {
	Op       string  `json:"op"`
	Detail   string  `json:"detail,omitempty"`
	Result   bool    `json:"result"`
	Children []Trace `json:"children,omitempty"`
}

// #endregion trace

// #region evaluate

// Evaluate resolves an expression node against the context. A nil node or
// an unrecognized operator evaluates to false.
func Evaluate(n *Node, ctx Context) (bool, Trace) {
	if n == nil {
		return false, Trace{Op: "none", Detail: "missing expression", Result: false}
	}

	switch n.Op {
	case "and":
		// Vacuous truth over the empty list.
		result := true
		children := make([]Trace, 0, len(n.Args))
		for i := range n.Args {
			ok, child := Evaluate(&n.Args[i], ctx)
			children = append(children, child)
			if !ok {
				result = false
			}
		}
		return result, Trace{Op: "and", Result: result, Children: children}

	case "or":
		// Empty list is false: nothing matched.
		result := false
		children := make([]Trace, 0, len(n.Args))
		for i := range n.Args {
			ok, child := Evaluate(&n.Args[i], ctx)
			children = append(children, child)
			if ok {
				result = true
			}
		}
		return result, Trace{Op: "or", Result: result, Children: children}

	case "flag":
		got, present := ctx.Flag(n.Key)
		result := present && looseEqual(got, n.Value)
		return result, Trace{
			Op:     "flag",
			Detail: fmt.Sprintf("flags[%s]=%v want %v", n.Key, got, n.Value),
			Result: result,
		}

	case "gte", "lte":
		value, present := ctx.resolvePath(n.Left)
		result := false
		if present {
			lv, lok := toFloat(value)
			rv, rok := toFloat(n.Right)
			if lok && rok {
				if n.Op == "gte" {
					result = lv >= rv
				} else {
					result = lv <= rv
				}
			}
		}
		return result, Trace{
			Op:     n.Op,
			Detail: fmt.Sprintf("%s=%v %s %v", n.Left, value, n.Op, n.Right),
			Result: result,
		}

	case "eq":
		value, present := ctx.resolvePath(n.Left)
		// eq is the one comparison defined against an absent path: it
		// holds only when the literal is null.
		var result bool
		if present {
			result = looseEqual(value, n.Right)
		} else {
			result = n.Right == nil
		}
		return result, Trace{
			Op:     "eq",
			Detail: fmt.Sprintf("%s=%v want %v", n.Left, value, n.Right),
			Result: result,
		}

	case "contains":
		value, present := ctx.resolvePath(n.Left)
		result := present && containsValue(value, n.Right)
		return result, Trace{
			Op:     "contains",
			Detail: fmt.Sprintf("%s contains %v", n.Left, n.Right),
			Result: result,
		}

	case "between":
		value, present := ctx.resolvePath(n.Left)
		result := false
		if present && len(n.Range) == 2 {
			if lv, ok := toFloat(value); ok {
				result = lv >= n.Range[0] && lv <= n.Range[1]
			}
		}
		return result, Trace{
			Op:     "between",
			Detail: fmt.Sprintf("%s=%v in %v", n.Left, value, n.Range),
			Result: result,
		}

	default:
		// Fail closed on anything unrecognized.
		return false, Trace{Op: n.Op, Detail: "unknown operator", Result: false}
	}
}

// #endregion evaluate

// #region coercion

// toFloat coerces the numeric types produced by JSON and YAML decoding.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// looseEqual compares scalars, treating all numeric representations of the
// same value as equal.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

// containsValue treats collection as a list, string, or map and tests
// membership of the literal.
func containsValue(collection, literal any) bool {
	switch c := collection.(type) {
	case []any:
		for _, item := range c {
			if looseEqual(item, literal) {
				return true
			}
		}
	case []string:
		s, ok := literal.(string)
		if !ok {
			return false
		}
		for _, item := range c {
			if item == s {
				return true
			}
		}
	case string:
		s, ok := literal.(string)
		return ok && strings.Contains(c, s)
	case map[string]any:
		s, ok := literal.(string)
		if !ok {
			return false
		}
		_, present := c[s]
		return present
	}
	return false
}

// #endregion coercion
