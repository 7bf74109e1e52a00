package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorIssueList(t *testing.T) {
	err := &ValidationError{
		Issues: []string{
			"duplicate step ID: fetch",
			"step bad: unknown step type \"frob\"",
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "workflow validation failed:")
	assert.Contains(t, msg, "\n  - duplicate step ID: fetch")
	assert.Contains(t, msg, "\n  - step bad: unknown step type \"frob\"")
}

func TestValidationErrorSingleField(t *testing.T) {
	err := &ValidationError{Field: "amount", Message: "expected number, got string"}
	assert.Equal(t, "validation failed on amount: expected number, got string", err.Error())
}

func TestExecutionErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &ExecutionError{Step: "fetch", Message: "service call failed", Cause: cause}

	assert.Equal(t, "step fetch: service call failed", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &ValidationError{Message: "bad"}, "ValidationError"},
		{"execution", &ExecutionError{Message: "boom"}, "ExecutionError"},
		{"config", &ConfigError{Reason: "no store"}, "ConfigError"},
		{"not found", &NotFoundError{Resource: "execution", ID: "x"}, "NotFoundError"},
		{"wrapped execution", fmt.Errorf("outer: %w", &ExecutionError{Message: "boom"}), "ExecutionError"},
		{"plain", fmt.Errorf("plain"), "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
