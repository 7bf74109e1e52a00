package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/workflow"
	"github.com/getnvoi/conveyor/pkg/workflow/expression"
)

// haltExecutor durably suspends the execution. The resume point is the
// configured resume_step, falling back to the step's next link.
type haltExecutor struct{}

func (x *haltExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, _ := step.Config.(*workflow.HaltConfig)
	if cfg == nil {
		cfg = &workflow.HaltConfig{}
	}

	data := map[string]any{
		"halted_at": time.Now().UTC().Format(time.RFC3339),
	}
	if cfg.Reason != "" {
		data["reason"] = expression.Resolve(state, cfg.Reason)
	}
	for k, v := range cfg.Data {
		data[k] = expression.Resolve(state, v)
	}

	return &Outcome{
		State: state,
		Result: &Halt{
			Data:       data,
			ResumeStep: cfg.ResumeStep,
			Kind:       "halt",
		},
	}, nil
}

// approvalExecutor is a halt with a resume contract. On first entry it
// suspends with the approval request; on resume the caller must have
// injected ctx["approved"], which the executor consumes to pick the
// continuation.
type approvalExecutor struct{}

func (x *approvalExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, _ := step.Config.(*workflow.ApprovalConfig)
	if cfg == nil {
		cfg = &workflow.ApprovalConfig{}
	}

	if state.Has("approved") {
		return x.consume(step, cfg, state)
	}
	return x.request(step, cfg, state)
}

// request suspends with the approval payload. The request metadata is
// mirrored into the reserved _halt ctx key so the timeout check survives
// the round trip through the store.
func (x *approvalExecutor) request(step *workflow.Step, cfg *workflow.ApprovalConfig, state *State) (*Outcome, error) {
	prompt, _ := expression.Resolve(state, cfg.Prompt).(string)
	requestedAt := time.Now().UTC()

	data := map[string]any{
		"type":         "approval",
		"prompt":       prompt,
		"requested_at": requestedAt.Format(time.RFC3339),
	}
	if len(cfg.Context) > 0 {
		resolved := make(map[string]any, len(cfg.Context))
		for k, v := range cfg.Context {
			resolved[k] = expression.Resolve(state, v)
		}
		data["context"] = resolved
	}
	if len(cfg.Approvers) > 0 {
		data["approvers"] = cfg.Approvers
	}
	if cfg.Timeout > 0 {
		data["timeout"] = cfg.Timeout
	}

	var deadline *time.Time
	if cfg.Timeout > 0 {
		d := requestedAt.Add(secondsToDuration(cfg.Timeout))
		deadline = &d
	}

	next := state.With("_halt", map[string]any{
		"type":         "approval",
		"requested_at": requestedAt.Format(time.RFC3339),
		"timeout":      cfg.Timeout,
	})

	return &Outcome{
		State: next,
		Result: &Halt{
			Data:       data,
			ResumeStep: step.ID,
			Prompt:     prompt,
			Kind:       "approval",
			Deadline:   deadline,
			OnReject:   cfg.OnReject,
			OnTimeout:  cfg.OnTimeout,
		},
	}, nil
}

// consume routes on the injected decision. Timeout is checked first; then
// approved picks next, on_reject, or a rejection failure. The decision
// keys are stripped from ctx either way.
func (x *approvalExecutor) consume(step *workflow.Step, cfg *workflow.ApprovalConfig, state *State) (*Outcome, error) {
	approved, _ := state.Get("approved").(bool)
	next := state.Without("approved", "_halt")

	if cfg.Timeout > 0 && x.expired(cfg, state) {
		if cfg.OnTimeout != "" {
			return &Outcome{State: next, Result: &Continue{NextStep: cfg.OnTimeout}}, nil
		}
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("approval timed out after %gs", cfg.Timeout),
		}
	}

	if approved {
		return &Outcome{State: next, Result: &Continue{Output: map[string]any{"approved": true}}}, nil
	}
	if cfg.OnReject != "" {
		return &Outcome{State: next, Result: &Continue{NextStep: cfg.OnReject}}, nil
	}
	return nil, &errors.ExecutionError{Step: step.ID, Message: "approval rejected"}
}

// expired checks requested_at + timeout against now using the metadata
// recorded at request time.
func (x *approvalExecutor) expired(cfg *workflow.ApprovalConfig, state *State) bool {
	halt, _ := state.Get("_halt").(map[string]any)
	if halt == nil {
		return false
	}
	raw, _ := halt["requested_at"].(string)
	requestedAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return time.Now().After(requestedAt.Add(secondsToDuration(cfg.Timeout)))
}
