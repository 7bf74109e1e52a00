package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/getnvoi/conveyor/pkg/workflow"
)

// Executor implements one step type's semantics. Executors are pure apart
// from their authorized side effects (service invocation, sub-workflow
// execution): they never mutate the given State, they derive new ones.
type Executor interface {
	Execute(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error)
}

// ExecutorFactory builds an executor bound to an engine. Executors that
// run nested steps (loop, parallel, workflow) need the engine back-pointer.
type ExecutorFactory func(e *Engine) Executor

var (
	executorMu       sync.RWMutex
	executorRegistry = map[string]ExecutorFactory{}
)

// RegisterExecutor registers an executor factory for a step type. Built-in
// types register during init; extensions add their own alongside a config
// via workflow.RegisterConfig.
func RegisterExecutor(stepType string, factory ExecutorFactory) {
	executorMu.Lock()
	defer executorMu.Unlock()
	executorRegistry[stepType] = factory
}

// ExecutorTypes returns the sorted list of registered step types.
func ExecutorTypes() []string {
	executorMu.RLock()
	defer executorMu.RUnlock()
	types := make([]string, 0, len(executorRegistry))
	for t := range executorRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// buildExecutors instantiates every registered executor for one engine.
func buildExecutors(e *Engine) map[string]Executor {
	executorMu.RLock()
	defer executorMu.RUnlock()
	executors := make(map[string]Executor, len(executorRegistry))
	for t, factory := range executorRegistry {
		executors[t] = factory(e)
	}
	return executors
}

func init() {
	RegisterExecutor(workflow.StepTypeStart, func(e *Engine) Executor { return &startExecutor{engine: e} })
	RegisterExecutor(workflow.StepTypeEnd, func(e *Engine) Executor { return &endExecutor{} })
	RegisterExecutor(workflow.StepTypeAssign, func(e *Engine) Executor { return &assignExecutor{} })
	RegisterExecutor(workflow.StepTypeCall, func(e *Engine) Executor { return &callExecutor{engine: e} })
	RegisterExecutor(workflow.StepTypeRouter, func(e *Engine) Executor { return &routerExecutor{} })
	RegisterExecutor(workflow.StepTypeLoop, func(e *Engine) Executor { return &loopExecutor{engine: e} })
	RegisterExecutor(workflow.StepTypeParallel, func(e *Engine) Executor { return &parallelExecutor{engine: e} })
	RegisterExecutor(workflow.StepTypeHalt, func(e *Engine) Executor { return &haltExecutor{} })
	RegisterExecutor(workflow.StepTypeApproval, func(e *Engine) Executor { return &approvalExecutor{} })
	RegisterExecutor(workflow.StepTypeTransform, func(e *Engine) Executor { return &transformExecutor{} })
	RegisterExecutor(workflow.StepTypeWorkflow, func(e *Engine) Executor { return &workflowExecutor{engine: e} })
}
