package engine

import (
	"time"

	"github.com/getnvoi/conveyor/pkg/store"
)

// Outcome is what an executor returns: the derived state plus either a
// continuation or a suspension.
type Outcome struct {
	State  *State
	Result Result
}

// Result is the sum of Continue and Halt.
type Result interface {
	isResult()
}

// Continue advances the execution. An empty NextStep means "use the step's
// next link".
type Continue struct {
	// NextStep overrides the step's next link when set
	NextStep string

	// Output is the step's recorded output, if any
	Output any
}

func (*Continue) isResult() {}

// Halt durably suspends the execution until an external resume.
type Halt struct {
	// Data is the opaque suspension payload persisted on the execution
	Data map[string]any

	// ResumeStep is where a resume restarts
	ResumeStep string

	// Prompt is the human-facing question, for approvals
	Prompt string

	// Kind distinguishes halt from approval suspensions
	Kind string

	// Deadline, when set, expires the suspension
	Deadline *time.Time

	// OnReject is where a rejected approval continues
	OnReject string

	// OnTimeout is where an expired approval continues
	OnTimeout string
}

func (*Halt) isResult() {}

// ExecutionResult is what Run and Resume return to the caller.
type ExecutionResult struct {
	// ExecutionID identifies the execution
	ExecutionID string

	// WorkflowID names the workflow that ran
	WorkflowID string

	// Status is the terminal (or suspended) status reached
	Status store.Status

	// Output is ctx["result"] once completed
	Output any

	// Ctx is the final variable namespace
	Ctx map[string]any

	// Halt carries the suspension payload when Status is halted
	Halt *store.Halt

	// Error describes the failure when Status is failed
	Error string
}

// Completed reports a terminal success.
func (r *ExecutionResult) Completed() bool { return r.Status == store.StatusCompleted }

// Halted reports a durable suspension.
func (r *ExecutionResult) Halted() bool { return r.Status == store.StatusHalted }

// Failed reports a terminal failure.
func (r *ExecutionResult) Failed() bool { return r.Status == store.StatusFailed }
