package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/workflow"
	"github.com/getnvoi/conveyor/pkg/workflow/expression"
	"github.com/getnvoi/conveyor/pkg/workflow/schema"
)

// callExecutor invokes a named service method with per-attempt timeout,
// retry with exponential backoff, and optional schema validation of the
// result before it is stored.
type callExecutor struct {
	engine *Engine
}

func (x *callExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, ok := step.Config.(*workflow.CallConfig)
	if !ok {
		return nil, &errors.ExecutionError{Step: step.ID, Message: "call step has no configuration"}
	}

	svc, err := x.engine.resolver(cfg.Service)
	if err != nil {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("unknown service %q", cfg.Service),
			Cause:   err,
		}
	}

	input := resolveInput(state, cfg.Input)

	result, err := x.callWithRetry(ctx, step, cfg, svc, input)
	if err != nil {
		return nil, err
	}

	if cfg.Output.Schema != nil {
		if err := schema.Validate(cfg.Output.Schema, result); err != nil {
			return nil, err
		}
	}

	key := workflow.StepOutputKey(step)
	next := state.With(key, result)
	return &Outcome{State: next, Result: &Continue{Output: result}}, nil
}

// callWithRetry attempts the call up to retries+1 times, sleeping
// retry_delay x retry_backoff^(attempt-1) between attempts.
func (x *callExecutor) callWithRetry(ctx context.Context, step *workflow.Step, cfg *workflow.CallConfig, svc Service, input map[string]any) (any, error) {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 1
	}

	var lastErr error
	attempts := cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			recordRetry(x.engine.def.ID, cfg.Service)
			delay := secondsToDuration(cfg.RetryDelay * math.Pow(backoff, float64(attempt-2)))
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, &errors.ExecutionError{Step: step.ID, Message: "call cancelled during retry wait", Cause: ctx.Err()}
				case <-timer.C:
				}
			}
		}

		result, err := x.attempt(ctx, step, cfg, svc, input)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Timeouts of the whole workflow are not retryable.
		if ctx.Err() != nil {
			break
		}
	}

	if ee, ok := lastErr.(*errors.ExecutionError); ok {
		return nil, ee
	}
	return nil, &errors.ExecutionError{
		Step:    step.ID,
		Message: fmt.Sprintf("service %s.%s failed: %s", cfg.Service, cfg.Method, lastErr),
		Cause:   lastErr,
	}
}

// attempt performs one invocation under the step's own timeout. The
// service call runs in a goroutine so an unresponsive service cannot wedge
// the interpreter past its deadline; a timed-out call keeps running in the
// background and its result is discarded.
func (x *callExecutor) attempt(ctx context.Context, step *workflow.Step, cfg *workflow.CallConfig, svc Service, input map[string]any) (any, error) {
	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, secondsToDuration(cfg.Timeout))
		defer cancel()
	}

	type callResult struct {
		value any
		err   error
	}
	done := make(chan callResult, 1)
	go func() {
		value, err := svc.Call(callCtx, cfg.Method, input)
		done <- callResult{value, err}
	}()

	select {
	case <-callCtx.Done():
		if cfg.Timeout > 0 && ctx.Err() == nil {
			return nil, &errors.ExecutionError{
				Step:    step.ID,
				Message: fmt.Sprintf("step %s timed out after %gs", step.ID, cfg.Timeout),
			}
		}
		return nil, &errors.ExecutionError{Step: step.ID, Message: "call cancelled", Cause: ctx.Err()}
	case r := <-done:
		return r.value, r.err
	}
}

// resolveInput resolves every value of a call input mapping.
func resolveInput(state *State, input map[string]any) map[string]any {
	resolved := make(map[string]any, len(input))
	for k, v := range input {
		resolved[k] = expression.Resolve(state, v)
	}
	return resolved
}
