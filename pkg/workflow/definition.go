// Package workflow provides the workflow definition AST, YAML parsing, and
// static validation.
//
// Workflow definitions follow a concise YAML format: top-level metadata, an
// inputs list, and an ordered steps array. The first step is the entry
// point. Each step has an id, a type naming a registered executor, optional
// next/on_error links, and type-specific configuration decoded through the
// config registry. The version field is optional and defaults to "1.0".
package workflow

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// Finished is the reserved successor target meaning normal termination.
const Finished = "__FINISHED__"

// Step type names for the built-in executors.
const (
	StepTypeStart     = "start"
	StepTypeEnd       = "end"
	StepTypeAssign    = "assign"
	StepTypeCall      = "call"
	StepTypeRouter    = "router"
	StepTypeLoop      = "loop"
	StepTypeParallel  = "parallel"
	StepTypeHalt      = "halt"
	StepTypeApproval  = "approval"
	StepTypeTransform = "transform"
	StepTypeWorkflow  = "workflow"
)

// ReservedKeys are ctx keys owned by the engine or specific executors.
// User assign steps must not write them; the validator enforces this.
var ReservedKeys = map[string]bool{
	"result":             true,
	"response":           true,
	"approved":           true,
	"_last_error":        true,
	"_halt":              true,
	"_current_agent":     true,
	"_handoff_to":        true,
	"_guardrail_failure": true,
	"iteration":          true,
	"break_loop":         true,
}

// Definition represents a parsed workflow document. It is immutable after
// parse; the engine and validator only read it.
type Definition struct {
	// ID is the unique workflow identifier
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable workflow name
	Name string `yaml:"name" json:"name"`

	// Version tracks the workflow definition version (optional, defaults to "1.0")
	Version string `yaml:"version" json:"version"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Timeout bounds the entire run, in seconds. Zero means no limit.
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Inputs defines the expected input parameters for the workflow
	Inputs []InputDefinition `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Steps are the executable units of the workflow. The first step is the
	// entry point.
	Steps []Step `yaml:"steps" json:"steps"`

	// Extensions carries opaque per-extension data (agents, tool defs).
	// The core treats this as pass-through.
	Extensions map[string]any `yaml:"extensions,omitempty" json:"extensions,omitempty"`
}

// InputDefinition describes a workflow input parameter.
type InputDefinition struct {
	// Name is the input parameter identifier
	Name string `yaml:"name" json:"name"`

	// Type specifies the data type (string, integer, number, boolean, array, object)
	Type string `yaml:"type" json:"type"`

	// Required marks the input as mandatory
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Default provides a fallback value for absent non-required inputs
	Default any `yaml:"default,omitempty" json:"default,omitempty"`

	// Description explains what this input is for
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// inputTypes is the closed set of accepted input parameter types.
var inputTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// Validate checks an input definition for parse-time defects.
func (i *InputDefinition) Validate() error {
	if i.Name == "" {
		return &errors.ValidationError{
			Field:   "inputs",
			Message: "input name cannot be empty",
		}
	}
	if i.Type != "" && !inputTypes[i.Type] {
		return &errors.ValidationError{
			Field:      fmt.Sprintf("inputs.%s.type", i.Name),
			Message:    fmt.Sprintf("unknown input type %q", i.Type),
			Suggestion: "use one of: string, integer, number, boolean, array, object",
		}
	}
	return nil
}

// Step is a single node in the workflow graph: an id, a type matching a
// registered executor, the optional next/on_error links, and the decoded
// type-specific config.
type Step struct {
	// ID is the unique step identifier within this workflow
	ID string `yaml:"id" json:"id"`

	// Type names the executor for this step
	Type string `yaml:"type" json:"type"`

	// Next is the successor step ID, or "__FINISHED__" for normal
	// termination. Empty is equivalent to "__FINISHED__".
	Next string `yaml:"next,omitempty" json:"next,omitempty"`

	// OnError names the step to route to when this step fails
	OnError string `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	// Config is the decoded type-specific configuration
	Config StepConfig `yaml:"-" json:"config,omitempty"`
}

// StepConfig is the contract for type-specific step configuration. Each
// config validates itself at parse time; extensions register new config
// prototypes alongside their executors.
type StepConfig interface {
	Validate() error
}

// configRegistry maps step type names to config prototypes.
var (
	configMu       sync.RWMutex
	configRegistry = map[string]func() StepConfig{}
)

// RegisterConfig registers a config prototype for a step type. Built-in
// types register during init; extensions may add their own.
func RegisterConfig(stepType string, factory func() StepConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	configRegistry[stepType] = factory
}

// configFor returns a fresh config value for the given step type, or nil if
// the type is unknown. Unknown types are reported by the validator, not at
// parse time.
func configFor(stepType string) StepConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	if factory, ok := configRegistry[stepType]; ok {
		return factory()
	}
	return nil
}

// RegisteredTypes returns the sorted list of known step types.
func RegisteredTypes() []string {
	configMu.RLock()
	defer configMu.RUnlock()
	types := make([]string, 0, len(configRegistry))
	for t := range configRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// KnownType reports whether a step type has a registered config.
func KnownType(stepType string) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	_, ok := configRegistry[stepType]
	return ok
}

// UnmarshalYAML decodes the common step fields, then dispatches the same
// mapping node into the config type registered for the step's type.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		ID      string `yaml:"id"`
		Type    string `yaml:"type"`
		Next    string `yaml:"next"`
		OnError string `yaml:"on_error"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}

	s.ID = head.ID
	s.Type = head.Type
	s.Next = head.Next
	s.OnError = head.OnError

	cfg := configFor(head.Type)
	if cfg == nil {
		// Unknown step type: leave Config nil so the validator can report
		// it alongside every other defect.
		return nil
	}
	if err := node.Decode(cfg); err != nil {
		return fmt.Errorf("step %s: %w", head.ID, err)
	}
	s.Config = cfg
	return nil
}

// Parse parses a workflow document and applies defaults. It does not run
// the static validator; call Validate separately before execution.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ValidationError{
			Field:      "workflow",
			Message:    fmt.Sprintf("failed to parse workflow document: %s", err),
			Suggestion: "check YAML syntax",
		}
	}

	if err := def.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ApplyDefaults fills in optional fields and runs parse-time checks on
// inputs and step configs.
func (d *Definition) ApplyDefaults() error {
	if d.ID == "" {
		return &errors.ValidationError{
			Field:   "id",
			Message: "workflow id is required",
		}
	}
	if d.Version == "" {
		d.Version = "1.0"
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if len(d.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "steps",
			Message:    "workflow has no steps",
			Suggestion: "add at least one step; the first step is the entry point",
		}
	}

	for i := range d.Inputs {
		if err := d.Inputs[i].Validate(); err != nil {
			return err
		}
	}
	for i := range d.Steps {
		if err := applyStepDefaults(&d.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// applyStepDefaults validates a step's config and recurses into nested
// steps (loop bodies and parallel branches).
func applyStepDefaults(step *Step) error {
	if step.ID == "" {
		return &errors.ValidationError{
			Field:   "steps",
			Message: fmt.Sprintf("step of type %q has no id", step.Type),
		}
	}
	if step.Config != nil {
		if err := step.Config.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
	}

	switch cfg := step.Config.(type) {
	case *LoopConfig:
		if cfg.Max == 0 {
			cfg.Max = DefaultLoopMax
		}
		for i := range cfg.Do {
			if err := applyStepDefaults(&cfg.Do[i]); err != nil {
				return err
			}
		}
	case *ParallelConfig:
		for i := range cfg.Branches {
			if err := applyStepDefaults(&cfg.Branches[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Step lookup by ID over the top-level steps.
func (d *Definition) Step(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// EntryStep returns the workflow's first step.
func (d *Definition) EntryStep() *Step {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}
