package expression

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// Evaluator evaluates expr-lang condition expressions against a scope.
// It caches compiled expressions for repeated evaluations.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a new expression evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

var (
	defaultEval     *Evaluator
	defaultEvalOnce sync.Once
)

// DefaultEvaluator returns the shared process-wide evaluator.
func DefaultEvaluator() *Evaluator {
	defaultEvalOnce.Do(func() {
		defaultEval = NewEvaluator()
	})
	return defaultEval
}

// Evaluate evaluates an expression against the given scope and returns the
// boolean result. The expression sees:
//   - input: the frozen workflow input mapping
//   - ctx: the variable namespace
//   - now: the current time
//
// Example:
//
//	ok, err := eval.Evaluate(`ctx.amount > 100 && input.region == "eu"`, scope)
func (e *Evaluator) Evaluate(expression string, scope Scope) (bool, error) {
	if expression == "" {
		return true, nil // Empty expression defaults to true
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "expr",
			Message:    fmt.Sprintf("failed to compile expression: %s", err),
			Suggestion: "check expression syntax and ensure all referenced variables exist",
		}
	}

	env := map[string]any{
		"input": scope.Input(),
		"ctx":   scope.Ctx(),
		"now":   time.Now().UTC(),
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "expr",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err),
			Suggestion: "verify that all referenced variables exist in input or ctx",
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:      "expr",
			Message:    fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
			Suggestion: "use comparison operators (==, !=, <, >, etc.) or boolean functions",
		}
	}
	return boolResult, nil
}

// compile returns the cached program for an expression, compiling on miss.
func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()
	return program, nil
}
