// Package store defines the persistence contract for workflow executions
// and their step entry log. The engine persists through this interface
// after every step, which is what makes halt and crash recovery possible.
package store

import (
	"context"
	"time"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	// StatusPending is an execution that has been created but not started.
	StatusPending Status = "pending"

	// StatusRunning is an execution currently being stepped.
	StatusRunning Status = "running"

	// StatusCompleted is a terminal success.
	StatusCompleted Status = "completed"

	// StatusHalted is a durable suspension awaiting an external resume.
	StatusHalted Status = "halted"

	// StatusFailed is a terminal failure.
	StatusFailed Status = "failed"
)

// Terminal reports whether a status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Halt carries the durable suspension payload of a halted execution: what
// the workflow asked for and where a resume should restart.
type Halt struct {
	// Prompt is the human-facing question, for approval steps
	Prompt string `json:"prompt,omitempty"`

	// Data is the resolved halt payload
	Data map[string]any `json:"data,omitempty"`

	// ResumeStep is the step a resume restarts at
	ResumeStep string `json:"resume_step"`

	// Kind distinguishes halt from approval suspensions
	Kind string `json:"kind,omitempty"`

	// Deadline, when set, expires the suspension (approval timeouts)
	Deadline *time.Time `json:"deadline,omitempty"`

	// OnReject is where a rejected approval continues
	OnReject string `json:"on_reject,omitempty"`

	// OnTimeout is where an expired approval continues
	OnTimeout string `json:"on_timeout,omitempty"`
}

// Execution is the durable record of one workflow run. The engine saves
// it after every step; any saved execution can be reloaded and resumed.
type Execution struct {
	// ID uniquely identifies this execution
	ID string `json:"id"`

	// WorkflowID names the workflow definition being executed
	WorkflowID string `json:"workflow_id"`

	// Status is the current lifecycle state
	Status Status `json:"status"`

	// Input is the validated workflow input, frozen at start
	Input map[string]any `json:"input,omitempty"`

	// Ctx is the mutable variable namespace as of the last saved step
	Ctx map[string]any `json:"ctx,omitempty"`

	// CurrentStep is the last step that ran
	CurrentStep string `json:"current_step,omitempty"`

	// RecoverTo is the step a crash recovery should restart at
	RecoverTo string `json:"recover_to,omitempty"`

	// Halt is the suspension payload when Status is halted
	Halt *Halt `json:"halt,omitempty"`

	// Result is the workflow output once completed
	Result any `json:"result,omitempty"`

	// Error describes the failure once failed, prefixed with the error class
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Entry is one row of an execution's append-only step log. An entry has
// no ID of its own; (ExecutionID, Seq) is the composite key.
type Entry struct {
	// ExecutionID is the owning execution
	ExecutionID string `json:"execution_id"`

	// Seq orders entries within an execution, starting at 1
	Seq int `json:"seq"`

	// StepID is the step that ran. Steps inside a loop body record a
	// composite "loop_id:step_id" per iteration.
	StepID string `json:"step_id"`

	// StepType names the executor that ran
	StepType string `json:"step_type,omitempty"`

	// Status is completed, failed, or halted
	Status string `json:"status"`

	// Input is the step's resolved input, when the executor records one
	Input any `json:"input,omitempty"`

	// Output is the step's recorded output, if any
	Output any `json:"output,omitempty"`

	// Error describes a failed step
	Error string `json:"error,omitempty"`

	// Duration is how long the step ran
	Duration time.Duration `json:"duration"`

	// Timestamp is when the step finished
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows List results.
type Filter struct {
	// WorkflowID restricts to executions of one workflow
	WorkflowID string

	// Status restricts to one lifecycle state
	Status Status

	// Limit caps the number of results (0 = no limit)
	Limit int

	// Offset skips results for pagination
	Offset int
}

// Store is the persistence contract. Save is an upsert keyed on the
// execution ID; Record appends to the entry log.
type Store interface {
	// Save upserts an execution record.
	Save(ctx context.Context, exec *Execution) error

	// Load retrieves an execution by ID.
	Load(ctx context.Context, id string) (*Execution, error)

	// Delete removes an execution and its entries.
	Delete(ctx context.Context, id string) error

	// List returns executions matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Execution, error)

	// ExecutionIDs enumerates matching execution IDs, newest first,
	// without loading full records.
	ExecutionIDs(ctx context.Context, filter Filter) ([]string, error)

	// Record appends a step entry. Seq is assigned by the store when zero.
	Record(ctx context.Context, entry *Entry) error

	// Entries returns an execution's step log in sequence order.
	Entries(ctx context.Context, executionID string) ([]*Entry, error)
}
