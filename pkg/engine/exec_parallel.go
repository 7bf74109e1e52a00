package engine

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/workflow"
)

// parallelExecutor fans branches out as goroutines, each over its own
// view of the immutable base state, waits per the configured mode, then
// merges the produced ctx of completed branches back in declaration order
// (last writer wins). A halted branch bubbles its suspension with the
// base state untouched, so resume replays the whole parallel step.
type parallelExecutor struct {
	engine *Engine
}

type branchReport struct {
	index    int
	state    *State
	output   any
	halt     *Halt
	err      error
	duration time.Duration
}

func (x *parallelExecutor) Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	cfg, ok := step.Config.(*workflow.ParallelConfig)
	if !ok {
		return nil, &errors.ExecutionError{Step: step.ID, Message: "parallel step has no branches"}
	}

	total := len(cfg.Branches)
	required := requiredCompletions(cfg.Wait, total)

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reports := make(chan branchReport, total)
	for i := range cfg.Branches {
		go x.runBranch(branchCtx, &cfg.Branches[i], i, state, reports)
	}

	succeeded := make(map[int]branchReport, total)
	var firstHalt *branchReport
	var failures []error

	reported := 0
	for reported < total {
		report := <-reports
		reported++
		x.recordBranch(ctx, step, &cfg.Branches[report.index], state.ExecutionID(), report)

		switch {
		case report.err != nil:
			failures = append(failures, report.err)
		case report.halt != nil:
			if firstHalt == nil || report.index < firstHalt.index {
				firstHalt = &report
			}
		default:
			succeeded[report.index] = report
		}

		// any / numeric modes stop waiting once enough branches finished;
		// all mode always waits so failures can be collected.
		if cfg.Wait.Mode != workflow.WaitAll && !cfg.Wait.IsZero() && len(succeeded) >= required {
			cancel()
		}
		if firstHalt != nil {
			cancel()
		}
	}

	if firstHalt != nil {
		halt := firstHalt.halt
		// Branch steps are not resolvable at the top level; map any
		// nested resume point onto the parallel step so resume
		// re-enters the fan-out.
		if x.engine.def.Step(halt.ResumeStep) == nil {
			halt.ResumeStep = step.ID
		}
		return &Outcome{State: state, Result: halt}, nil
	}

	isAll := cfg.Wait.IsZero() || cfg.Wait.Mode == workflow.WaitAll
	if isAll && len(failures) > 0 {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("parallel failed: %d errors", len(failures)),
			Cause:   failures[0],
		}
	}
	if len(succeeded) < required {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("insufficient completions: %d of %d required", len(succeeded), required),
		}
	}

	// Merge in declaration order so collisions resolve to the
	// later-declared branch.
	merged := state
	outputs := make([]any, total)
	for i := 0; i < total; i++ {
		report, ok := succeeded[i]
		if !ok {
			continue
		}
		merged = merged.WithAll(producedCtx(state, report.state))
		outputs[i] = report.output
	}

	key := workflow.StepOutputKey(step)
	merged = merged.With(key, outputs)
	return &Outcome{State: merged, Result: &Continue{Output: outputs}}, nil
}

func (x *parallelExecutor) runBranch(ctx context.Context, branch *workflow.Step, index int, base *State, reports chan<- branchReport) {
	started := time.Now()
	outcome, err := x.engine.dispatch(ctx, branch, base)
	report := branchReport{index: index, duration: time.Since(started)}

	if err != nil {
		report.err = err
	} else {
		report.state = outcome.State
		switch result := outcome.Result.(type) {
		case *Halt:
			report.halt = result
		case *Continue:
			report.output = result.Output
		}
	}
	reports <- report
}

// recordBranch appends the branch's audit entry under a composite key,
// mirroring loop bodies.
func (x *parallelExecutor) recordBranch(ctx context.Context, step *workflow.Step, branch *workflow.Step, executionID string, report branchReport) {
	compositeID := step.ID + ":" + branch.ID
	switch {
	case report.err != nil:
		recordStep(x.engine.def.ID, branch.Type, "failed", report.duration)
		_ = x.engine.recordEntry(ctx, executionID, compositeID, branch.Type, "failed", nil, report.err.Error(), report.duration)
	case report.halt != nil:
		recordStep(x.engine.def.ID, branch.Type, "halted", report.duration)
		_ = x.engine.recordEntry(ctx, executionID, compositeID, branch.Type, "halted", report.halt.Data, "", report.duration)
	default:
		recordStep(x.engine.def.ID, branch.Type, "completed", report.duration)
		_ = x.engine.recordEntry(ctx, executionID, compositeID, branch.Type, "completed", report.output, "", report.duration)
	}
}

// requiredCompletions maps the wait mode to a completion count.
func requiredCompletions(wait workflow.WaitMode, total int) int {
	switch {
	case wait.IsZero(), wait.Mode == workflow.WaitAll:
		return total
	case wait.Mode == workflow.WaitAny:
		return 1
	default:
		if wait.Count < total {
			return wait.Count
		}
		return total
	}
}

// producedCtx returns the ctx keys a branch added or changed relative to
// the base state.
func producedCtx(base, branch *State) map[string]any {
	baseCtx := base.Ctx()
	diff := map[string]any{}
	for k, v := range branch.Ctx() {
		old, existed := baseCtx[k]
		if !existed || !reflect.DeepEqual(old, v) {
			diff[k] = v
		}
	}
	return diff
}
