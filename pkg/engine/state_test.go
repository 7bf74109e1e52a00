package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateWithDoesNotMutateOriginal(t *testing.T) {
	base := NewState("e1", "wf", map[string]any{"k": "v"})
	derived := base.With("color", "blue")

	assert.False(t, base.Has("color"))
	assert.Equal(t, "blue", derived.Get("color"))
	assert.Equal(t, base.ExecutionID(), derived.ExecutionID())
	assert.Equal(t, base.WorkflowID(), derived.WorkflowID())
}

func TestStateWithAll(t *testing.T) {
	base := NewState("e1", "wf", nil).With("a", 1)
	derived := base.WithAll(map[string]any{"b": 2, "c": 3})

	assert.Equal(t, 1, derived.Get("a"))
	assert.Equal(t, 2, derived.Get("b"))
	assert.False(t, base.Has("b"))
}

func TestStateWithout(t *testing.T) {
	base := NewState("e1", "wf", nil).With("a", 1).With("b", 2)
	derived := base.Without("a")

	assert.False(t, derived.Has("a"))
	assert.True(t, derived.Has("b"))
	assert.True(t, base.Has("a"))
}

func TestStateWithCurrentStep(t *testing.T) {
	base := NewState("e1", "wf", nil)
	derived := base.WithCurrentStep("fetch")

	assert.Empty(t, base.CurrentStep())
	assert.Equal(t, "fetch", derived.CurrentStep())
}

func TestStateSiblingDerivationsAreIndependent(t *testing.T) {
	base := NewState("e1", "wf", nil).With("shared", "base")
	left := base.With("branch", "left")
	right := base.With("branch", "right")

	assert.Equal(t, "left", left.Get("branch"))
	assert.Equal(t, "right", right.Get("branch"))
	assert.False(t, base.Has("branch"))
}

func TestRestoredState(t *testing.T) {
	state := RestoredState("e1", "wf", map[string]any{"in": 1}, map[string]any{"saved": true})
	require.NotNil(t, state)
	assert.Equal(t, true, state.Get("saved"))
	assert.Equal(t, map[string]any{"in": 1}, state.Input())

	nilCtx := RestoredState("e2", "wf", nil, nil)
	assert.NotNil(t, nilCtx.Ctx())
}

func TestStateScopeRoots(t *testing.T) {
	state := NewState("e1", "wf", map[string]any{"who": "ada"}).
		With("greeting", "hi").
		WithHistory([]any{"entry"})

	assert.Equal(t, "ada", state.Input()["who"])
	assert.Equal(t, "hi", state.Ctx()["greeting"])
	assert.Equal(t, []any{"entry"}, state.History())
}
