package engine

import (
	"context"
	"fmt"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/workflow"
)

// workflowExecutor runs a child workflow from the registry to completion
// against the same store. A halted child bubbles a suspension whose
// resume point is this (parent) step; the child is not transparently
// resumed. On parent resume the child runs again from scratch.
type workflowExecutor struct {
	engine *Engine
}

func (x *workflowExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, ok := step.Config.(*workflow.WorkflowConfig)
	if !ok {
		return nil, &errors.ExecutionError{Step: step.ID, Message: "workflow step has no child workflow"}
	}
	if x.engine.workflows == nil {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: "no workflow registry configured for sub-workflow steps",
		}
	}

	childDef, err := x.engine.workflows.Get(cfg.Workflow)
	if err != nil {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("unknown workflow %q", cfg.Workflow),
			Cause:   err,
		}
	}

	child, err := New(childDef, x.engine.store,
		WithServiceResolver(x.engine.resolver),
		WithWorkflowRegistry(x.engine.workflows),
		WithLogger(x.engine.logger),
	)
	if err != nil {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("sub-workflow %q failed to build", cfg.Workflow),
			Cause:   err,
		}
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, secondsToDuration(cfg.Timeout))
		defer cancel()
	}

	input := resolveInput(state, cfg.Input)
	result, err := child.Run(ctx, input)
	if err != nil {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("sub-workflow %s failed: %s", cfg.Workflow, err),
			Cause:   err,
		}
	}

	if result.Halted() {
		data := map[string]any{
			"type":               "subworkflow",
			"workflow":           cfg.Workflow,
			"child_execution_id": result.ExecutionID,
		}
		if result.Halt != nil {
			for k, v := range result.Halt.Data {
				data[k] = v
			}
		}
		return &Outcome{
			State: state,
			Result: &Halt{
				Data:       data,
				ResumeStep: step.ID,
				Kind:       "subworkflow",
			},
		}, nil
	}

	key := workflow.StepOutputKey(step)
	next := state.With(key, result.Output)
	return &Outcome{State: next, Result: &Continue{Output: result.Output}}, nil
}
