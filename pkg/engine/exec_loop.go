package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/workflow"
	"github.com/getnvoi/conveyor/pkg/workflow/expression"
)

// loopExecutor iterates a nested step sequence, either over a resolved
// collection (foreach) or while a condition holds. Body steps run top to
// bottom each iteration; their next links are ignored. A halt from a body
// step bubbles up unchanged so the whole loop replays on resume.
type loopExecutor struct {
	engine *Engine
}

func (x *loopExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, ok := step.Config.(*workflow.LoopConfig)
	if !ok {
		return nil, &errors.ExecutionError{Step: step.ID, Message: "loop step has no body"}
	}
	if cfg.Over != nil {
		return x.foreach(ctx, step, cfg, state)
	}
	return x.while(ctx, step, cfg, state)
}

func (x *loopExecutor) foreach(ctx context.Context, step *workflow.Step, cfg *workflow.LoopConfig, state *State) (*Outcome, error) {
	resolved := expression.Resolve(state, cfg.Over)
	items, ok := resolved.([]any)
	if !ok {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("loop over resolved to %T, not a sequence", resolved),
		}
	}
	if len(items) > cfg.Max {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("loop over %d items exceeds max %d", len(items), cfg.Max),
		}
	}

	as, indexAs := cfg.BindAs(), cfg.BindIndexAs()
	results := make([]any, 0, len(items))
	current := state

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, &errors.ExecutionError{Step: step.ID, Message: "loop cancelled", Cause: err}
		}
		current = current.With(as, item).With(indexAs, i)

		next, output, halt, err := x.runBody(ctx, step, cfg.Do, current)
		if err != nil {
			return nil, err
		}
		if halt != nil {
			return &Outcome{State: next, Result: halt}, nil
		}
		current = next
		results = append(results, output)
	}

	return x.finish(step, cfg, current, results, ""), nil
}

func (x *loopExecutor) while(ctx context.Context, step *workflow.Step, cfg *workflow.LoopConfig, state *State) (*Outcome, error) {
	var results []any
	current := state

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, &errors.ExecutionError{Step: step.ID, Message: "loop cancelled", Cause: err}
		}
		if !expression.EvalCondition(current, cfg.While) {
			return x.finish(step, cfg, current, results, ""), nil
		}
		if iteration >= cfg.Max {
			if cfg.OnExhausted != "" {
				return x.finish(step, cfg, current, results, cfg.OnExhausted), nil
			}
			return nil, &errors.ExecutionError{
				Step:    step.ID,
				Message: fmt.Sprintf("loop exhausted after %d iterations", cfg.Max),
			}
		}

		next, output, halt, err := x.runBody(ctx, step, cfg.Do, current)
		if err != nil {
			return nil, err
		}
		if halt != nil {
			return &Outcome{State: next, Result: halt}, nil
		}
		current = next
		results = append(results, output)
	}
}

// runBody executes one iteration of the nested sequence. Nested entries
// are recorded under the composite "{loop_id}:{step_id}" key. The
// iteration output is the last body step's output.
func (x *loopExecutor) runBody(ctx context.Context, loopStep *workflow.Step, body []workflow.Step, state *State) (*State, any, *Halt, error) {
	current := state
	var lastOutput any

	for i := range body {
		inner := &body[i]
		compositeID := loopStep.ID + ":" + inner.ID

		started := time.Now()
		outcome, err := x.engine.dispatch(ctx, inner, current)
		duration := time.Since(started)

		if err != nil {
			recordStep(x.engine.def.ID, inner.Type, "failed", duration)
			if recErr := x.engine.recordEntry(ctx, current.ExecutionID(), compositeID, inner.Type, "failed", nil, err.Error(), duration); recErr != nil {
				return nil, nil, nil, recErr
			}
			return nil, nil, nil, err
		}

		current = outcome.State
		switch result := outcome.Result.(type) {
		case *Halt:
			recordStep(x.engine.def.ID, inner.Type, "halted", duration)
			if recErr := x.engine.recordEntry(ctx, current.ExecutionID(), compositeID, inner.Type, "halted", result.Data, "", duration); recErr != nil {
				return nil, nil, nil, recErr
			}
			// Body steps are not resolvable at the top level, so any
			// resume point that is not a real top-level step maps onto
			// the loop itself and resume replays it.
			if x.engine.def.Step(result.ResumeStep) == nil {
				result.ResumeStep = loopStep.ID
			}
			return current, nil, result, nil
		case *Continue:
			recordStep(x.engine.def.ID, inner.Type, "completed", duration)
			if recErr := x.engine.recordEntry(ctx, current.ExecutionID(), compositeID, inner.Type, "completed", result.Output, "", duration); recErr != nil {
				return nil, nil, nil, recErr
			}
			lastOutput = result.Output
		}
	}
	return current, lastOutput, nil, nil
}

// finish cleans up the binding keys and stores the collected results.
func (x *loopExecutor) finish(step *workflow.Step, cfg *workflow.LoopConfig, state *State, results []any, nextStep string) *Outcome {
	if results == nil {
		results = []any{}
	}
	cleaned := state.Without(cfg.BindAs(), cfg.BindIndexAs())
	key := workflow.StepOutputKey(step)
	return &Outcome{
		State:  cleaned.With(key, results),
		Result: &Continue{NextStep: nextStep, Output: results},
	}
}
