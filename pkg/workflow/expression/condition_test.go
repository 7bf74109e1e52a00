package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getnvoi/conveyor/pkg/workflow"
)

func TestOperatorTable(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		actual   any
		expected any
		want     bool
	}{
		{"eq strings", "eq", "a", "a", true},
		{"eq mixed numerics", "eq", 4, 4.0, true},
		{"eq mismatch", "eq", "a", "b", false},
		{"neq", "neq", "a", "b", true},
		{"gt", "gt", 5, 3, true},
		{"gt false", "gt", 3, 5, false},
		{"gt non-numeric", "gt", "x", 1, false},
		{"gte equal", "gte", 3, 3, true},
		{"lt", "lt", 2, 3, true},
		{"lte equal", "lte", 3, 3, true},
		{"contains substring", "contains", "haystack", "stack", true},
		{"contains element", "contains", []any{1, 2, 3}, 2, true},
		{"contains map key", "contains", map[string]any{"k": 1}, "k", true},
		{"starts_with", "starts_with", "workflow", "work", true},
		{"ends_with", "ends_with", "workflow", "flow", true},
		{"matches", "matches", "exec-42", `^exec-\d+$`, true},
		{"matches invalid actual", "matches", 42, `\d+`, false},
		{"in", "in", "b", []any{"a", "b"}, true},
		{"in miss", "in", "z", []any{"a", "b"}, false},
		{"not_in", "not_in", "z", []any{"a", "b"}, true},
		{"exists", "exists", "anything", nil, true},
		{"exists nil", "exists", nil, nil, false},
		{"empty string", "empty", "", nil, true},
		{"empty slice", "empty", []any{}, nil, true},
		{"empty non-empty", "empty", []any{1}, nil, false},
		{"truthy", "truthy", 1, nil, true},
		{"truthy zero", "truthy", 0, nil, false},
		{"falsy", "falsy", false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predicate, ok := operators[tt.op]
			require.True(t, ok, "operator %q not registered", tt.op)
			assert.Equal(t, tt.want, predicate(tt.actual, tt.expected))
		})
	}
}

func TestEvalConditionResolvesFieldAndValue(t *testing.T) {
	scope := scopeWith(map[string]any{
		"amount":    500,
		"threshold": 100,
	})

	cond := &workflow.Condition{Field: "amount", Op: "gt", Value: "$threshold"}
	assert.True(t, EvalCondition(scope, cond))

	cond = &workflow.Condition{Field: "amount", Op: "lt", Value: "$threshold"}
	assert.False(t, EvalCondition(scope, cond))
}

func TestEvalConditionAcceptsPrefixedField(t *testing.T) {
	scope := &testScope{
		input: map[string]any{"op": "divide"},
		ctx:   map[string]any{"amount": 500},
	}

	// Both spellings of field resolve to the same path.
	assert.True(t, EvalCondition(scope, &workflow.Condition{Field: "$input.op", Op: "eq", Value: "divide"}))
	assert.True(t, EvalCondition(scope, &workflow.Condition{Field: "input.op", Op: "eq", Value: "divide"}))
	assert.True(t, EvalCondition(scope, &workflow.Condition{Field: "$amount", Op: "gt", Value: 100}))
	assert.False(t, EvalCondition(scope, &workflow.Condition{Field: "$amount", Op: "gt", Value: 1000}))
}

func TestEvalConditionFailedResolutionIsFalse(t *testing.T) {
	scope := scopeWith(map[string]any{})

	assert.False(t, EvalCondition(scope, &workflow.Condition{Field: "missing", Op: "gt", Value: 1}))
	assert.False(t, EvalCondition(scope, &workflow.Condition{Field: "missing", Op: "bogus_op", Value: 1}))
	assert.False(t, EvalCondition(scope, nil))
}

func TestEvalConditionExprForm(t *testing.T) {
	scope := &testScope{
		input: map[string]any{"region": "eu"},
		ctx:   map[string]any{"amount": 500},
	}

	cond := &workflow.Condition{Expr: `ctx.amount > 100 && input.region == "eu"`}
	assert.True(t, EvalCondition(scope, cond))

	cond = &workflow.Condition{Expr: `ctx.amount > 1000`}
	assert.False(t, EvalCondition(scope, cond))

	// Broken expressions evaluate to false, matching the operator form.
	cond = &workflow.Condition{Expr: `ctx.amount +`}
	assert.False(t, EvalCondition(scope, cond))
}

func TestFindRoute(t *testing.T) {
	scope := scopeWith(map[string]any{"operation": "divide"})

	routes := []workflow.Route{
		{When: workflow.Condition{Field: "operation", Op: "eq", Value: "add"}, Then: "do_add"},
		{When: workflow.Condition{Field: "operation", Op: "eq", Value: "divide"}, Then: "do_divide"},
		{When: workflow.Condition{Field: "operation", Op: "eq", Value: "divide"}, Then: "never_reached"},
	}

	route := FindRoute(scope, routes)
	require.NotNil(t, route)
	assert.Equal(t, "do_divide", route.Then)

	scope = scopeWith(map[string]any{"operation": "modulo"})
	assert.Nil(t, FindRoute(scope, routes))
}

func TestEvaluatorCachesPrograms(t *testing.T) {
	eval := NewEvaluator()
	scope := scopeWith(map[string]any{"n": 1})

	for i := 0; i < 3; i++ {
		ok, err := eval.Evaluate(`ctx.n == 1`, scope)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, eval.cache, 1)
}

func TestEvaluatorRejectsNonBoolean(t *testing.T) {
	eval := NewEvaluator()
	scope := scopeWith(map[string]any{"n": 1})

	_, err := eval.Evaluate(`ctx.n + 1`, scope)
	assert.Error(t, err)
}
