// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the typed error kinds used across the engine.
//
// Three kinds cover every failure mode: ConfigError for construction-time
// misconfiguration, ValidationError for static workflow validation and
// runtime type or schema violations, and ExecutionError for any runtime
// fault during step execution. NotFoundError is used by stores and
// registries for missing resources.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError represents missing or invalid configuration at construction
// time. It is fatal: the caller cannot proceed without fixing the setup.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g. "store")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ValidationError represents a workflow that failed static validation, or a
// type/schema violation encountered by the start, assign, or call executors.
type ValidationError struct {
	// Field identifies which field or step failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Issues holds every problem found by the static validator. Validation
	// is total: all defects are reported, not just the first.
	Issues []string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface. When Issues is populated the
// message is a bulleted list of every defect.
func (e *ValidationError) Error() string {
	if len(e.Issues) > 0 {
		var b strings.Builder
		b.WriteString("workflow validation failed:")
		for _, issue := range e.Issues {
			b.WriteString("\n  - ")
			b.WriteString(issue)
		}
		return b.String()
	}
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ExecutionError represents any runtime fault: unknown step type, unknown
// workflow, service invocation failure, timeout, approval rejection, loop
// exhaustion without a handler, or a parallel aggregate failure.
type ExecutionError struct {
	// Step is the ID of the step that failed, when known
	Step string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("step %s: %s", e.Step, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents a missing resource.
type NotFoundError struct {
	// Resource is the type of resource (e.g. "execution", "workflow", "service")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Kind returns the class name of a known error kind, or "Error" for
// anything else. The engine prefixes persisted failure messages with it so
// operators can tell validation failures from runtime faults at a glance.
func Kind(err error) string {
	var (
		configErr     *ConfigError
		validationErr *ValidationError
		executionErr  *ExecutionError
		notFoundErr   *NotFoundError
	)
	switch {
	case errors.As(err, &validationErr):
		return "ValidationError"
	case errors.As(err, &executionErr):
		return "ExecutionError"
	case errors.As(err, &configErr):
		return "ConfigError"
	case errors.As(err, &notFoundErr):
		return "NotFoundError"
	default:
		return "Error"
	}
}
