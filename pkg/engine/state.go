package engine

import (
	"maps"
)

// State is the in-flight variable environment of one execution between
// steps. It is immutable: executors never modify a State, they derive new
// ones through the With methods. That makes persistence a snapshot and
// keeps parallel branches free of aliasing hazards.
type State struct {
	executionID string
	workflowID  string
	input       map[string]any
	ctx         map[string]any
	currentStep string
	history     any
}

// NewState seeds a state for a fresh execution: empty ctx, frozen input.
func NewState(executionID, workflowID string, input map[string]any) *State {
	return &State{
		executionID: executionID,
		workflowID:  workflowID,
		input:       input,
		ctx:         map[string]any{},
	}
}

// RestoredState materializes a state from a persisted execution's input
// and ctx, for resume.
func RestoredState(executionID, workflowID string, input, ctx map[string]any) *State {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &State{
		executionID: executionID,
		workflowID:  workflowID,
		input:       input,
		ctx:         ctx,
	}
}

// ExecutionID returns the owning execution's ID.
func (s *State) ExecutionID() string { return s.executionID }

// WorkflowID returns the workflow being executed.
func (s *State) WorkflowID() string { return s.workflowID }

// CurrentStep returns the step this state is positioned at.
func (s *State) CurrentStep() string { return s.currentStep }

// Input returns the frozen workflow input. Callers must not modify it.
func (s *State) Input() map[string]any { return s.input }

// Ctx returns the variable namespace. Callers must not modify it; use the
// With methods.
func (s *State) Ctx() map[string]any { return s.ctx }

// History returns the audit trail reference, or nil.
func (s *State) History() any { return s.history }

// Get returns a ctx value.
func (s *State) Get(key string) any { return s.ctx[key] }

// Has reports whether a ctx key is present.
func (s *State) Has(key string) bool {
	_, ok := s.ctx[key]
	return ok
}

// With returns a copy with one ctx key set.
func (s *State) With(key string, value any) *State {
	out := s.clone()
	out.ctx[key] = value
	return out
}

// WithAll returns a copy with every entry of m set in ctx.
func (s *State) WithAll(m map[string]any) *State {
	out := s.clone()
	maps.Copy(out.ctx, m)
	return out
}

// Without returns a copy with the given ctx keys removed.
func (s *State) Without(keys ...string) *State {
	out := s.clone()
	for _, k := range keys {
		delete(out.ctx, k)
	}
	return out
}

// WithCurrentStep returns a copy positioned at the given step.
func (s *State) WithCurrentStep(stepID string) *State {
	out := *s
	out.currentStep = stepID
	return &out
}

// WithInput returns a copy carrying a replaced input map. Only the start
// executor uses this, to freeze applied defaults.
func (s *State) WithInput(input map[string]any) *State {
	out := *s
	out.input = input
	return &out
}

// WithHistory returns a copy carrying an audit trail reference.
func (s *State) WithHistory(history any) *State {
	out := *s
	out.history = history
	return &out
}

func (s *State) clone() *State {
	out := *s
	out.ctx = maps.Clone(s.ctx)
	return &out
}
