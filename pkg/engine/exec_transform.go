package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/workflow"
	"github.com/getnvoi/conveyor/pkg/workflow/expression"
)

// transformExecutor applies an ordered operator pipeline to a resolved
// input (the entire ctx when unset). Operators run left to right, each
// receiving the prior result; unknown operators are identity.
type transformExecutor struct{}

func (x *transformExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, ok := step.Config.(*workflow.TransformConfig)
	if !ok {
		return nil, &errors.ExecutionError{Step: step.ID, Message: "transform step has no expression"}
	}

	var value any
	if cfg.Input != nil {
		value = expression.Resolve(state, cfg.Input)
	} else {
		value = state.Ctx()
	}

	for _, pair := range cfg.Expression.Pairs {
		arg := pair.Value
		// map projections and select/reject conditions resolve against
		// each element, so their references must survive to evaluation
		// time.
		switch pair.Key {
		case "map", "select", "reject":
		default:
			arg = expression.Resolve(state, arg)
		}
		var err error
		value, err = applyOp(state, pair.Key, value, arg)
		if err != nil {
			return nil, &errors.ExecutionError{
				Step:    step.ID,
				Message: fmt.Sprintf("transform op %q failed: %s", pair.Key, err),
				Cause:   err,
			}
		}
	}

	key := workflow.StepOutputKey(step)
	next := state.With(key, value)
	return &Outcome{State: next, Result: &Continue{Output: value}}, nil
}

func applyOp(state *State, op string, value, arg any) (any, error) {
	switch op {
	case "map":
		return opMap(state, value, arg), nil
	case "pluck":
		return opPluck(value, arg), nil
	case "select":
		return opFilter(state, value, arg, true), nil
	case "reject":
		return opFilter(state, value, arg, false), nil
	case "first":
		if seq := asSeq(value); len(seq) > 0 {
			return seq[0], nil
		}
		return nil, nil
	case "last":
		if seq := asSeq(value); len(seq) > 0 {
			return seq[len(seq)-1], nil
		}
		return nil, nil
	case "flatten":
		return opFlatten(value), nil
	case "compact":
		return opCompact(value), nil
	case "uniq":
		return opUniq(value), nil
	case "reverse":
		return opReverse(value), nil
	case "sort":
		return opSort(value, arg), nil
	case "count":
		return opCount(value), nil
	case "sum":
		return opSum(value), nil
	case "keys":
		return opKeys(value), nil
	case "values":
		return opValues(value), nil
	case "pick":
		return opPickOmit(value, arg, true), nil
	case "omit":
		return opPickOmit(value, arg, false), nil
	case "merge":
		return opMerge(value, arg), nil
	case "jq":
		return opJQ(value, arg)
	default:
		return value, nil
	}
}

// opMap projects each element. A bare key name plucks that key; an
// argument carrying references is resolved per element with item and
// index bound.
func opMap(state *State, value, arg any) any {
	if key, ok := arg.(string); ok && !strings.Contains(key, "$") {
		return opPluck(value, arg)
	}
	seq := asSeq(value)
	out := make([]any, len(seq))
	for i, item := range seq {
		scope := state.With("item", item).With("index", i)
		out[i] = expression.Resolve(scope, arg)
	}
	return out
}

func asSeq(value any) []any {
	seq, _ := value.([]any)
	return seq
}

// opPluck extracts the named key from each mapping element.
func opPluck(value, arg any) any {
	key, ok := arg.(string)
	if !ok {
		return value
	}
	seq := asSeq(value)
	out := make([]any, len(seq))
	for i, item := range seq {
		if m, ok := item.(map[string]any); ok {
			out[i] = m[key]
		}
	}
	return out
}

// opFilter keeps (or drops) elements matching a {field, op, value}
// condition evaluated with the element as the scope.
func opFilter(state *State, value, arg any, keep bool) any {
	spec, ok := arg.(map[string]any)
	if !ok {
		return value
	}
	cond := conditionFromMap(spec)
	if cond == nil {
		return value
	}

	seq := asSeq(value)
	out := make([]any, 0, len(seq))
	for _, item := range seq {
		element, ok := item.(map[string]any)
		if !ok {
			continue
		}
		// The element's own keys become the ctx; input stays visible for
		// conditions that compare against workflow input.
		scope := elementScope{input: state.Input(), ctx: element}
		if expression.EvalCondition(scope, cond) == keep {
			out = append(out, item)
		}
	}
	return out
}

func conditionFromMap(spec map[string]any) *workflow.Condition {
	cond := &workflow.Condition{}
	if f, ok := spec["field"].(string); ok {
		cond.Field = f
	}
	if o, ok := spec["op"].(string); ok {
		cond.Op = o
	}
	if e, ok := spec["expr"].(string); ok {
		cond.Expr = e
	}
	cond.Value = spec["value"]
	if cond.Field == "" && cond.Expr == "" {
		return nil
	}
	return cond
}

// elementScope exposes one collection element as the ctx of a scope.
type elementScope struct {
	input map[string]any
	ctx   map[string]any
}

func (s elementScope) Input() map[string]any { return s.input }
func (s elementScope) Ctx() map[string]any   { return s.ctx }
func (s elementScope) History() any          { return nil }

func opFlatten(value any) any {
	seq := asSeq(value)
	out := make([]any, 0, len(seq))
	for _, item := range seq {
		if nested, ok := item.([]any); ok {
			out = append(out, nested...)
		} else {
			out = append(out, item)
		}
	}
	return out
}

func opCompact(value any) any {
	seq := asSeq(value)
	out := make([]any, 0, len(seq))
	for _, item := range seq {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}

func opUniq(value any) any {
	seq := asSeq(value)
	out := make([]any, 0, len(seq))
	seen := make([]any, 0, len(seq))
	for _, item := range seq {
		dup := false
		for _, prev := range seen {
			if fmt.Sprintf("%#v", prev) == fmt.Sprintf("%#v", item) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, item)
			out = append(out, item)
		}
	}
	return out
}

func opReverse(value any) any {
	seq := asSeq(value)
	out := make([]any, len(seq))
	for i, item := range seq {
		out[len(seq)-1-i] = item
	}
	return out
}

// opSort orders by the natural order of elements, or by a key when arg
// names one and elements are mappings.
func opSort(value, arg any) any {
	seq := asSeq(value)
	out := make([]any, len(seq))
	copy(out, seq)
	key, _ := arg.(string)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if key != "" {
			if am, ok := a.(map[string]any); ok {
				a = am[key]
			}
			if bm, ok := b.(map[string]any); ok {
				b = bm[key]
			}
		}
		return lessValue(a, b)
	})
	return out
}

func lessValue(a, b any) bool {
	if af, aok := toSortFloat(a); aok {
		if bf, bok := toSortFloat(b); bok {
			return af < bf
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toSortFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func opCount(value any) any {
	switch v := value.(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	case string:
		return len(v)
	default:
		return 0
	}
}

func opSum(value any) any {
	var sum float64
	for _, item := range asSeq(value) {
		if f, ok := toSortFloat(item); ok {
			sum += f
		}
	}
	return sum
}

func opKeys(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return []any{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

func opValues(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return []any{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

func opPickOmit(value, arg any, pick bool) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	names := map[string]bool{}
	switch a := arg.(type) {
	case string:
		names[a] = true
	case []any:
		for _, item := range a {
			if s, ok := item.(string); ok {
				names[s] = true
			}
		}
	default:
		return value
	}

	out := make(map[string]any)
	for k, v := range m {
		if names[k] == pick {
			out[k] = v
		}
	}
	return out
}

func opMerge(value, arg any) any {
	base, ok := value.(map[string]any)
	if !ok {
		return value
	}
	extra, ok := arg.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// opJQ runs a jq program over the value and returns its first output
// (or the sequence of outputs when the program emits several).
func opJQ(value, arg any) (any, error) {
	program, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("jq argument must be a string program")
	}
	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("invalid jq program: %w", err)
	}

	var outputs []any
	iter := query.Run(value)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, err
		}
		outputs = append(outputs, v)
	}
	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}
