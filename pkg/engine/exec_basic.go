package engine

import (
	"context"
	"fmt"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/workflow"
	"github.com/getnvoi/conveyor/pkg/workflow/expression"
)

// startExecutor validates the execution's input against the workflow's
// input definitions, applies defaults, and mirrors the input into ctx so
// $input resolves through either root.
type startExecutor struct {
	engine *Engine
}

func (x *startExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	input := make(map[string]any, len(state.input))
	for k, v := range state.input {
		input[k] = v
	}

	for _, decl := range x.engine.def.Inputs {
		value, present := input[decl.Name]
		if !present {
			if decl.Required {
				return nil, &errors.ValidationError{
					Field:   decl.Name,
					Message: fmt.Sprintf("required input %q is missing", decl.Name),
				}
			}
			if decl.Default != nil {
				input[decl.Name] = decl.Default
			}
			continue
		}
		if decl.Type != "" && !inputTypeMatches(decl.Type, value) {
			return nil, &errors.ValidationError{
				Field:      decl.Name,
				Message:    fmt.Sprintf("input %q is not a %s", decl.Name, decl.Type),
				Suggestion: fmt.Sprintf("pass a %s value", decl.Type),
			}
		}
	}

	next := state.WithInput(input).With("input", input)
	return &Outcome{State: next, Result: &Continue{Output: input}}, nil
}

// inputTypeMatches checks the primitive type of a JSON-like value.
func inputTypeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch n := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		default:
			return false
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		default:
			return false
		}
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// endExecutor resolves the configured output and stores it at
// ctx["result"], then terminates the workflow.
type endExecutor struct{}

func (x *endExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, _ := step.Config.(*workflow.EndConfig)

	var result any
	if cfg != nil && cfg.Output != nil {
		result = expression.Resolve(state, cfg.Output)
	}

	next := state.With("result", result)
	return &Outcome{
		State:  next,
		Result: &Continue{NextStep: workflow.Finished, Output: result},
	}, nil
}

// assignExecutor writes resolved values into ctx in document order. Each
// value resolves against the progressively updated state, so later
// entries may reference earlier ones.
type assignExecutor struct{}

func (x *assignExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, ok := step.Config.(*workflow.AssignConfig)
	if !ok {
		return nil, &errors.ExecutionError{Step: step.ID, Message: "assign step has no set mapping"}
	}

	next := state
	var last any
	for _, pair := range cfg.Set.Pairs {
		last = expression.Resolve(next, pair.Value)
		next = next.With(pair.Key, last)
	}
	return &Outcome{State: next, Result: &Continue{Output: last}}, nil
}

// routerExecutor picks the first matching route, falling back to the
// configured default.
type routerExecutor struct{}

func (x *routerExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, ok := step.Config.(*workflow.RouterConfig)
	if !ok {
		return nil, &errors.ExecutionError{Step: step.ID, Message: "router step has no routes"}
	}

	if route := expression.FindRoute(state, cfg.Routes); route != nil {
		return &Outcome{State: state, Result: &Continue{NextStep: route.Then}}, nil
	}
	if cfg.Default != "" {
		return &Outcome{State: state, Result: &Continue{NextStep: cfg.Default}}, nil
	}
	return nil, &errors.ExecutionError{Step: step.ID, Message: "no matching route"}
}
