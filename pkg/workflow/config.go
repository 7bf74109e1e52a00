package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// DefaultLoopMax bounds loop iterations when the workflow does not set one.
const DefaultLoopMax = 100

func init() {
	RegisterConfig(StepTypeStart, func() StepConfig { return &StartConfig{} })
	RegisterConfig(StepTypeEnd, func() StepConfig { return &EndConfig{} })
	RegisterConfig(StepTypeAssign, func() StepConfig { return &AssignConfig{} })
	RegisterConfig(StepTypeCall, func() StepConfig { return &CallConfig{} })
	RegisterConfig(StepTypeRouter, func() StepConfig { return &RouterConfig{} })
	RegisterConfig(StepTypeLoop, func() StepConfig { return &LoopConfig{} })
	RegisterConfig(StepTypeParallel, func() StepConfig { return &ParallelConfig{} })
	RegisterConfig(StepTypeHalt, func() StepConfig { return &HaltConfig{} })
	RegisterConfig(StepTypeApproval, func() StepConfig { return &ApprovalConfig{} })
	RegisterConfig(StepTypeTransform, func() StepConfig { return &TransformConfig{} })
	RegisterConfig(StepTypeWorkflow, func() StepConfig { return &WorkflowConfig{} })
}

// Pair is one key/value entry of an ordered mapping.
type Pair struct {
	Key   string
	Value any
}

// OrderedMap is a YAML mapping that preserves document order. Assign sets
// and transform pipelines depend on insertion order, which plain Go maps
// discard.
type OrderedMap struct {
	Pairs []Pair
}

// UnmarshalYAML decodes a mapping node, keeping key order.
func (m *OrderedMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping, got %s", node.Tag)
	}
	m.Pairs = make([]Pair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		m.Pairs = append(m.Pairs, Pair{Key: key, Value: value})
	}
	return nil
}

// Len returns the number of entries.
func (m OrderedMap) Len() int { return len(m.Pairs) }

// Get returns the value for a key, if present.
func (m OrderedMap) Get(key string) (any, bool) {
	for _, p := range m.Pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Condition is a single route predicate. Either the {field, op, value}
// operator form or an expr-lang expression, never both.
type Condition struct {
	// Field is resolved against state as $field
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Op names an operator from the condition evaluator's table
	Op string `yaml:"op,omitempty" json:"op,omitempty"`

	// Value is the expected operand, resolved through the resolver
	Value any `yaml:"value,omitempty" json:"value,omitempty"`

	// Expr is an expr-lang boolean expression over input/ctx/now
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// Validate rejects conditions that mix or omit both forms.
func (c *Condition) Validate() error {
	if c.Expr != "" && (c.Field != "" || c.Op != "") {
		return &errors.ValidationError{
			Field:      "condition",
			Message:    "condition cannot combine expr with field/op",
			Suggestion: "use either {field, op, value} or expr, not both",
		}
	}
	if c.Expr == "" && c.Field == "" {
		return &errors.ValidationError{
			Field:      "condition",
			Message:    "condition requires a field or an expr",
			Suggestion: "add field and op, or an expr expression",
		}
	}
	return nil
}

// StartConfig has no options: input handling is driven by the workflow's
// inputs list.
type StartConfig struct{}

// Validate implements StepConfig.
func (c *StartConfig) Validate() error { return nil }

// EndConfig names the workflow's final output.
type EndConfig struct {
	// Output is resolved against the final state and stored at ctx["result"]
	Output any `yaml:"output,omitempty" json:"output,omitempty"`
}

// Validate implements StepConfig.
func (c *EndConfig) Validate() error { return nil }

// AssignConfig writes resolved values into ctx, in document order. Each
// value is resolved against the progressively updated state, so later
// entries may reference earlier ones.
type AssignConfig struct {
	Set OrderedMap `yaml:"set" json:"set"`
}

// Validate implements StepConfig.
func (c *AssignConfig) Validate() error {
	if c.Set.Len() == 0 {
		return &errors.ValidationError{
			Field:      "set",
			Message:    "assign step has an empty set mapping",
			Suggestion: "add at least one key: value entry",
		}
	}
	return nil
}

// OutputSpec is either a bare ctx key name or a key plus a JSON schema the
// result must satisfy before being stored.
type OutputSpec struct {
	// Key is the ctx key the result is stored under
	Key string `json:"key,omitempty"`

	// Schema, when set, is validated against the result before storing
	Schema map[string]any `json:"schema,omitempty"`
}

// UnmarshalYAML accepts `output: key` and `output: {key: ..., schema: ...}`.
func (o *OutputSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&o.Key)
	}
	var full struct {
		Key    string         `yaml:"key"`
		Schema map[string]any `yaml:"schema"`
	}
	if err := node.Decode(&full); err != nil {
		return err
	}
	o.Key = full.Key
	o.Schema = full.Schema
	return nil
}

// CallConfig invokes a named service method with retry and timeout
// policies.
type CallConfig struct {
	// Service is the service name resolved through the ServiceResolver
	Service string `yaml:"service" json:"service"`

	// Method is the method to invoke on the service
	Method string `yaml:"method" json:"method"`

	// Input is the argument mapping, resolved against state before the call
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`

	// Timeout bounds a single attempt, in seconds. Zero means no limit.
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retries is the number of additional attempts after the first failure
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty"`

	// RetryDelay is the base delay between attempts, in seconds
	RetryDelay float64 `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`

	// RetryBackoff multiplies the delay after each attempt
	RetryBackoff float64 `yaml:"retry_backoff,omitempty" json:"retry_backoff,omitempty"`

	// Output names the ctx key for the result, optionally with a schema
	Output OutputSpec `yaml:"output,omitempty" json:"output,omitempty"`
}

// Validate implements StepConfig.
func (c *CallConfig) Validate() error {
	if c.Service == "" || c.Method == "" {
		return &errors.ValidationError{
			Field:      "call",
			Message:    "call step requires service and method",
			Suggestion: "set service to a registered service name and method to one of its operations",
		}
	}
	if c.Retries < 0 {
		return &errors.ValidationError{Field: "retries", Message: "retries cannot be negative"}
	}
	return nil
}

// Route is one router arm: a condition and a target step.
type Route struct {
	When Condition `yaml:"when" json:"when"`
	Then string    `yaml:"then" json:"then"`
}

// RouterConfig evaluates routes in order; the first match wins.
type RouterConfig struct {
	Routes []Route `yaml:"routes" json:"routes"`

	// Default is the target when no route matches
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
}

// Validate implements StepConfig.
func (c *RouterConfig) Validate() error {
	if len(c.Routes) == 0 && c.Default == "" {
		return &errors.ValidationError{
			Field:      "routes",
			Message:    "router step has no routes and no default",
			Suggestion: "add at least one route or a default target",
		}
	}
	for i := range c.Routes {
		if c.Routes[i].Then == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("routes[%d].then", i),
				Message: "route has no target step",
			}
		}
		if err := c.Routes[i].When.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoopConfig iterates a nested step sequence, either over a collection
// (foreach mode) or while a condition holds (while mode). The two modes
// are mutually exclusive.
type LoopConfig struct {
	// Over resolves to the sequence to iterate (foreach mode)
	Over any `yaml:"over,omitempty" json:"over,omitempty"`

	// As is the ctx key each element is bound to (default "item")
	As string `yaml:"as,omitempty" json:"as,omitempty"`

	// IndexAs is the ctx key the element index is bound to (default "index")
	IndexAs string `yaml:"index_as,omitempty" json:"index_as,omitempty"`

	// While is evaluated before each iteration (while mode)
	While *Condition `yaml:"while,omitempty" json:"while,omitempty"`

	// Max caps iterations; exceeding it fails unless OnExhausted is set
	Max int `yaml:"max,omitempty" json:"max,omitempty"`

	// Do is the nested step sequence run top-to-bottom each iteration
	Do []Step `yaml:"do" json:"do"`

	// OnExhausted is the step to jump to when a while loop hits Max
	OnExhausted string `yaml:"on_exhausted,omitempty" json:"on_exhausted,omitempty"`

	// Output names the ctx key for the collected per-iteration results
	// (default: the loop step's ID)
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Validate implements StepConfig.
func (c *LoopConfig) Validate() error {
	if c.Over == nil && c.While == nil {
		return &errors.ValidationError{
			Field:      "loop",
			Message:    "loop step requires over or while",
			Suggestion: "set over for foreach iteration or while for conditional iteration",
		}
	}
	if c.Over != nil && c.While != nil {
		return &errors.ValidationError{
			Field:      "loop",
			Message:    "loop step cannot combine over and while",
			Suggestion: "use exactly one of over or while",
		}
	}
	if len(c.Do) == 0 {
		return &errors.ValidationError{
			Field:      "do",
			Message:    "loop step has no nested steps",
			Suggestion: "add at least one step to the do body",
		}
	}
	if c.Max < 0 {
		return &errors.ValidationError{Field: "max", Message: "max cannot be negative"}
	}
	if c.While != nil {
		if err := c.While.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BindAs returns the element binding key, defaulting to "item".
func (c *LoopConfig) BindAs() string {
	if c.As == "" {
		return "item"
	}
	return c.As
}

// BindIndexAs returns the index binding key, defaulting to "index".
func (c *LoopConfig) BindIndexAs() string {
	if c.IndexAs == "" {
		return "index"
	}
	return c.IndexAs
}

// Wait modes for parallel steps.
const (
	WaitAll = "all"
	WaitAny = "any"
)

// WaitMode is "all", "any", or a minimum completion count.
type WaitMode struct {
	// Mode is WaitAll or WaitAny when Count is zero
	Mode string

	// Count is the minimum number of completed branches (numeric mode)
	Count int
}

// UnmarshalYAML accepts `wait: all`, `wait: any`, or `wait: N`.
func (w *WaitMode) UnmarshalYAML(node *yaml.Node) error {
	var n int
	if err := node.Decode(&n); err == nil {
		if n < 1 {
			return fmt.Errorf("wait count must be >= 1, got %d", n)
		}
		w.Count = n
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s != WaitAll && s != WaitAny {
		return fmt.Errorf("wait must be %q, %q, or a positive integer, got %q", WaitAll, WaitAny, s)
	}
	w.Mode = s
	return nil
}

// IsZero reports whether no wait mode was configured.
func (w WaitMode) IsZero() bool { return w.Mode == "" && w.Count == 0 }

// ParallelConfig fans out branches concurrently and merges their ctx
// writes back in branch-declaration order.
type ParallelConfig struct {
	// Branches are full steps executed concurrently
	Branches []Step `yaml:"branches" json:"branches"`

	// Wait is the completion condition (default "all")
	Wait WaitMode `yaml:"wait,omitempty" json:"wait,omitempty"`

	// Output names the ctx key for the positional branch outputs
	// (default: the parallel step's ID)
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Validate implements StepConfig.
func (c *ParallelConfig) Validate() error {
	if len(c.Branches) == 0 {
		return &errors.ValidationError{
			Field:      "branches",
			Message:    "parallel step has no branches",
			Suggestion: "add at least one branch step",
		}
	}
	return nil
}

// HaltConfig durably suspends the execution until an external resume.
type HaltConfig struct {
	// Reason is resolved and recorded in the halt data
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`

	// Data is resolved and merged into the halt data
	Data map[string]any `yaml:"data,omitempty" json:"data,omitempty"`

	// ResumeStep is where a future resume restarts; defaults to the halt
	// step's next link
	ResumeStep string `yaml:"resume_step,omitempty" json:"resume_step,omitempty"`
}

// Validate implements StepConfig.
func (c *HaltConfig) Validate() error { return nil }

// ApprovalConfig is a halt with a resume contract: the resumer injects an
// approved boolean and the executor routes on it.
type ApprovalConfig struct {
	// Prompt is shown to approvers, resolved against state
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// Context is extra resolved data included in the halt
	Context map[string]any `yaml:"context,omitempty" json:"context,omitempty"`

	// Approvers lists who may approve (pass-through for the caller)
	Approvers []string `yaml:"approvers,omitempty" json:"approvers,omitempty"`

	// Timeout bounds how long the approval may stay pending, in seconds
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// OnReject is the step to continue at when not approved
	OnReject string `yaml:"on_reject,omitempty" json:"on_reject,omitempty"`

	// OnTimeout is the step to continue at when the approval expired
	OnTimeout string `yaml:"on_timeout,omitempty" json:"on_timeout,omitempty"`
}

// Validate implements StepConfig.
func (c *ApprovalConfig) Validate() error {
	if c.Timeout < 0 {
		return &errors.ValidationError{Field: "timeout", Message: "timeout cannot be negative"}
	}
	return nil
}

// TransformConfig applies an ordered operator pipeline to a resolved input.
type TransformConfig struct {
	// Input is resolved against state; when unset the entire ctx is used
	Input any `yaml:"input,omitempty" json:"input,omitempty"`

	// Expression is the ordered op -> argument pipeline
	Expression OrderedMap `yaml:"expression" json:"expression"`

	// Output names the ctx key for the result (default: the step's ID)
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Validate implements StepConfig.
func (c *TransformConfig) Validate() error {
	if c.Expression.Len() == 0 {
		return &errors.ValidationError{
			Field:      "expression",
			Message:    "transform step has an empty expression",
			Suggestion: "add at least one operator, e.g. pluck: name",
		}
	}
	return nil
}

// WorkflowConfig runs another workflow from the registry as a child.
type WorkflowConfig struct {
	// Workflow is the child workflow ID
	Workflow string `yaml:"workflow" json:"workflow"`

	// Input is the child's input mapping, resolved against parent state
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`

	// Output names the ctx key for the child's result (default: the step's ID)
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Timeout bounds the child run, in seconds
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate implements StepConfig.
func (c *WorkflowConfig) Validate() error {
	if c.Workflow == "" {
		return &errors.ValidationError{
			Field:      "workflow",
			Message:    "workflow step requires a child workflow id",
			Suggestion: "set workflow to the id of a registered workflow",
		}
	}
	return nil
}
