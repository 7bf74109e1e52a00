// Package engine implements the durable workflow interpreter: the step
// loop, the per-type executors, and the persistence protocol that makes
// halt, resume, and crash recovery possible.
//
// The engine persists the Execution record before and after every step,
// and appends an Entry per step invocation. A halted execution carries a
// recover_to step; Resume reloads the record, rebuilds the State, and
// re-enters the loop there.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/getnvoi/conveyor/internal/log"
	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/store"
	"github.com/getnvoi/conveyor/pkg/workflow"
)

// Event types emitted through the engine's event sink.
const (
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowHalted    = "workflow.halted"
	EventWorkflowFailed    = "workflow.failed"
	EventWorkflowResumed   = "workflow.resumed"
	EventStepStarted       = "step.started"
	EventStepCompleted     = "step.completed"
	EventStepHalted        = "step.halted"
	EventStepFailed        = "step.failed"
)

// Event is one observable engine occurrence.
type Event struct {
	Type        string
	ExecutionID string
	WorkflowID  string
	StepID      string
	Timestamp   time.Time
	Output      any
	Error       string
}

// EventSink receives engine events. Sinks must be fast; the engine calls
// them synchronously from the interpreter loop.
type EventSink func(Event)

// Engine executes one workflow definition against a store.
type Engine struct {
	def       *workflow.Definition
	store     store.Store
	resolver  ServiceResolver
	workflows *workflow.Registry
	logger    *slog.Logger
	tracer    trace.Tracer
	executors map[string]Executor
	sink      EventSink
}

// Option configures an Engine.
type Option func(*Engine)

// WithServiceResolver replaces the default process-wide service lookup.
func WithServiceResolver(resolver ServiceResolver) Option {
	return func(e *Engine) { e.resolver = resolver }
}

// WithWorkflowRegistry provides the registry sub-workflow steps resolve
// child definitions through.
func WithWorkflowRegistry(reg *workflow.Registry) Option {
	return func(e *Engine) { e.workflows = reg }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventSink registers a sink for workflow and step events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New validates the definition and builds an engine for it. The store is
// required; everything else has defaults.
func New(def *workflow.Definition, st store.Store, opts ...Option) (*Engine, error) {
	if def == nil {
		return nil, &errors.ConfigError{Key: "workflow", Reason: "workflow definition is required"}
	}
	if st == nil {
		return nil, &errors.ConfigError{Key: "store", Reason: "store is required"}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		def:      def,
		store:    st,
		resolver: DefaultServiceResolver,
		logger:   slog.Default().With(slog.String("component", "engine"), slog.String(log.WorkflowKey, def.ID)),
		tracer:   otel.Tracer("github.com/getnvoi/conveyor/pkg/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.executors = buildExecutors(e)
	return e, nil
}

// Workflow returns the definition this engine executes.
func (e *Engine) Workflow() *workflow.Definition { return e.def }

// RunOption configures a single Run call.
type RunOption func(*runConfig)

type runConfig struct {
	executionID string
}

// WithExecutionID pins the execution ID instead of generating one. Async
// runners use this to pre-save the execution before enqueueing.
func WithExecutionID(id string) RunOption {
	return func(c *runConfig) { c.executionID = id }
}

// Run executes the workflow from its entry step until it completes,
// halts, or fails. The returned error is non-nil only for failures; a
// halt is a successful suspension.
func (e *Engine) Run(ctx context.Context, input map[string]any, opts ...RunOption) (*ExecutionResult, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	executionID := cfg.executionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	exec := &store.Execution{
		ID:         executionID,
		WorkflowID: e.def.ID,
		Status:     store.StatusPending,
		Input:      input,
	}
	if err := e.store.Save(ctx, exec); err != nil {
		return nil, err
	}

	e.logger.Info("workflow started", log.ExecutionIDKey, executionID)
	e.emit(Event{Type: EventWorkflowStarted, ExecutionID: executionID, WorkflowID: e.def.ID})

	if e.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, secondsToDuration(e.def.Timeout))
		defer cancel()
	}

	state := NewState(executionID, e.def.ID, input)
	return e.loop(ctx, exec, state, e.def.EntryStep().ID)
}

// ResumeOption configures a Resume call.
type ResumeOption func(*resumeConfig)

type resumeConfig struct {
	response    any
	hasResponse bool
	approved    *bool
}

// WithResponse injects ctx["response"] before re-entering the loop.
func WithResponse(response any) ResumeOption {
	return func(c *resumeConfig) {
		c.response = response
		c.hasResponse = true
	}
}

// WithApproval injects ctx["approved"] (including an explicit false).
func WithApproval(approved bool) ResumeOption {
	return func(c *resumeConfig) { c.approved = &approved }
}

// Resume re-enters a halted execution at its recover_to step. Resuming an
// already-terminal execution returns its stored result unchanged.
func (e *Engine) Resume(ctx context.Context, executionID string, opts ...ResumeOption) (*ExecutionResult, error) {
	var cfg resumeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	exec, err := e.store.Load(ctx, executionID)
	if err != nil {
		return nil, &errors.ExecutionError{
			Message: fmt.Sprintf("cannot resume execution %s", executionID),
			Cause:   err,
		}
	}
	if exec.Status.Terminal() {
		return resultFromExecution(exec), nil
	}
	if exec.WorkflowID != e.def.ID {
		return nil, &errors.ExecutionError{
			Message: fmt.Sprintf("execution %s belongs to workflow %s, not %s", executionID, exec.WorkflowID, e.def.ID),
		}
	}

	start := exec.RecoverTo
	if start == "" {
		start = exec.CurrentStep
	}
	if start == "" {
		return nil, &errors.ExecutionError{
			Message: fmt.Sprintf("execution %s has no resume point", executionID),
		}
	}

	state := RestoredState(exec.ID, exec.WorkflowID, exec.Input, exec.Ctx)
	if cfg.hasResponse {
		state = state.With("response", cfg.response)
	}
	if cfg.approved != nil {
		state = state.With("approved", *cfg.approved)
	}

	exec.Halt = nil
	exec.RecoverTo = ""

	e.logger.Info("workflow resumed", log.ExecutionIDKey, executionID, log.StepIDKey, start)
	e.emit(Event{Type: EventWorkflowResumed, ExecutionID: executionID, WorkflowID: e.def.ID, StepID: start})

	if e.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, secondsToDuration(e.def.Timeout))
		defer cancel()
	}
	return e.loop(ctx, exec, state, start)
}

// loop is the interpreter: resolve the current step, persist the running
// record, dispatch the executor, record an Entry, then advance, halt, or
// route to on_error.
func (e *Engine) loop(ctx context.Context, exec *store.Execution, state *State, stepID string) (*ExecutionResult, error) {
	activeExecutions.Inc()
	defer activeExecutions.Dec()

	current := stepID
	for {
		if err := ctx.Err(); err != nil {
			return e.fail(exec, state, current, e.timeoutError(current, err))
		}
		if current == "" || current == workflow.Finished {
			return e.complete(ctx, exec, state)
		}

		step := e.def.Step(current)
		if step == nil {
			return e.fail(exec, state, current, &errors.ExecutionError{
				Step:    current,
				Message: fmt.Sprintf("step not found: %s", current),
			})
		}

		state = state.WithCurrentStep(current)
		exec.Status = store.StatusRunning
		exec.CurrentStep = current
		// The start executor swaps in the defaulted input map; persist it
		// so a restored state resolves defaulted $input references.
		exec.Input = state.Input()
		exec.Ctx = state.Ctx()
		if err := e.store.Save(ctx, exec); err != nil {
			return nil, err
		}

		outcome, duration, err := e.runStep(ctx, step, state)
		if err != nil {
			recordStep(e.def.ID, step.Type, "failed", duration)
			e.emit(Event{Type: EventStepFailed, ExecutionID: exec.ID, WorkflowID: e.def.ID, StepID: step.ID, Error: err.Error()})
			if recErr := e.recordEntry(ctx, exec.ID, step.ID, step.Type, "failed", nil, err.Error(), duration); recErr != nil {
				return nil, recErr
			}

			if step.OnError != "" {
				e.logger.Warn("step failed, routing to handler",
					log.ExecutionIDKey, exec.ID, log.StepIDKey, step.ID,
					"handler", step.OnError, "error", err)
				state = state.With("_last_error", map[string]any{
					"step":    step.ID,
					"message": err.Error(),
					"class":   errors.Kind(err),
				})
				current = step.OnError
				continue
			}
			return e.fail(exec, state, current, err)
		}

		state = outcome.State
		switch result := outcome.Result.(type) {
		case *Halt:
			recordStep(e.def.ID, step.Type, "halted", duration)
			e.emit(Event{Type: EventStepHalted, ExecutionID: exec.ID, WorkflowID: e.def.ID, StepID: step.ID})
			if recErr := e.recordEntry(ctx, exec.ID, step.ID, step.Type, "halted", result.Data, "", duration); recErr != nil {
				return nil, recErr
			}
			return e.suspend(ctx, exec, state, step, result)

		case *Continue:
			recordStep(e.def.ID, step.Type, "completed", duration)
			e.emit(Event{Type: EventStepCompleted, ExecutionID: exec.ID, WorkflowID: e.def.ID, StepID: step.ID, Output: result.Output})
			if recErr := e.recordEntry(ctx, exec.ID, step.ID, step.Type, "completed", result.Output, "", duration); recErr != nil {
				return nil, recErr
			}
			e.logger.Debug("step completed",
				log.ExecutionIDKey, exec.ID, log.StepIDKey, step.ID,
				log.DurationKey, duration.Milliseconds())

			next := result.NextStep
			if next == "" {
				next = step.Next
			}
			if next == "" {
				next = workflow.Finished
			}
			current = next

		default:
			return e.fail(exec, state, current, &errors.ExecutionError{
				Step:    step.ID,
				Message: "executor returned no result",
			})
		}
	}
}

// runStep dispatches one executor inside a trace span.
func (e *Engine) runStep(ctx context.Context, step *workflow.Step, state *State) (*Outcome, time.Duration, error) {
	executor, ok := e.executors[step.Type]
	if !ok {
		return nil, 0, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("unknown step type %q", step.Type),
		}
	}

	ctx, span := e.tracer.Start(ctx, "step."+step.Type, trace.WithAttributes(
		attribute.String("workflow.id", e.def.ID),
		attribute.String("step.id", step.ID),
		attribute.String("execution.id", state.ExecutionID()),
	))
	defer span.End()

	e.emit(Event{Type: EventStepStarted, ExecutionID: state.ExecutionID(), WorkflowID: e.def.ID, StepID: step.ID})

	started := time.Now()
	outcome, err := executor.Execute(ctx, step, state)
	duration := time.Since(started)
	if err != nil {
		span.RecordError(err)
	}
	return outcome, duration, err
}

// dispatch runs one executor without the interpreter's persistence
// hooks. Nested step runners (loop bodies, parallel branches) use it.
func (e *Engine) dispatch(ctx context.Context, step *workflow.Step, state *State) (*Outcome, error) {
	executor, ok := e.executors[step.Type]
	if !ok {
		return nil, &errors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("unknown step type %q", step.Type),
		}
	}
	return executor.Execute(ctx, step, state)
}

// complete persists the terminal completed record with ctx["result"].
func (e *Engine) complete(ctx context.Context, exec *store.Execution, state *State) (*ExecutionResult, error) {
	now := time.Now()
	exec.Status = store.StatusCompleted
	exec.Result = state.Get("result")
	exec.Ctx = state.Ctx()
	exec.RecoverTo = ""
	exec.Halt = nil
	exec.CompletedAt = &now
	if err := e.store.Save(ctx, exec); err != nil {
		return nil, err
	}

	recordExecution(e.def.ID, string(store.StatusCompleted))
	e.logger.Info("workflow completed", log.ExecutionIDKey, exec.ID)
	e.emit(Event{Type: EventWorkflowCompleted, ExecutionID: exec.ID, WorkflowID: e.def.ID, Output: exec.Result})
	return resultFromExecution(exec), nil
}

// suspend persists the halted record with its recovery point.
func (e *Engine) suspend(ctx context.Context, exec *store.Execution, state *State, step *workflow.Step, halt *Halt) (*ExecutionResult, error) {
	resume := halt.ResumeStep
	if resume == "" {
		resume = step.Next
	}

	exec.Status = store.StatusHalted
	exec.Ctx = state.Ctx()
	exec.RecoverTo = resume
	exec.Halt = &store.Halt{
		Prompt:     halt.Prompt,
		Data:       halt.Data,
		ResumeStep: resume,
		Kind:       halt.Kind,
		Deadline:   halt.Deadline,
		OnReject:   halt.OnReject,
		OnTimeout:  halt.OnTimeout,
	}
	if err := e.store.Save(ctx, exec); err != nil {
		return nil, err
	}

	recordExecution(e.def.ID, string(store.StatusHalted))
	e.logger.Info("workflow halted",
		log.ExecutionIDKey, exec.ID, log.StepIDKey, step.ID, "recover_to", resume)
	e.emit(Event{Type: EventWorkflowHalted, ExecutionID: exec.ID, WorkflowID: e.def.ID, StepID: step.ID})
	return resultFromExecution(exec), nil
}

// fail persists the terminal failed record and propagates the error. The
// persisted message is prefixed with the error class so operators can
// tell validation faults from runtime faults at a glance.
func (e *Engine) fail(exec *store.Execution, state *State, stepID string, err error) (*ExecutionResult, error) {
	now := time.Now()
	exec.Status = store.StatusFailed
	exec.Error = fmt.Sprintf("%s: %s", errors.Kind(err), err.Error())
	exec.Ctx = state.Ctx()
	exec.CurrentStep = stepID
	exec.CompletedAt = &now

	// The run context may already be dead (timeout); persistence must
	// still go through.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if saveErr := e.store.Save(saveCtx, exec); saveErr != nil {
		e.logger.Error("failed to persist failed execution",
			log.ExecutionIDKey, exec.ID, "error", saveErr)
	}

	recordExecution(e.def.ID, string(store.StatusFailed))
	e.logger.Error("workflow failed",
		log.ExecutionIDKey, exec.ID, log.StepIDKey, stepID, "error", err)
	e.emit(Event{Type: EventWorkflowFailed, ExecutionID: exec.ID, WorkflowID: e.def.ID, StepID: stepID, Error: exec.Error})
	return resultFromExecution(exec), err
}

// timeoutError maps a dead context to the workflow timeout error.
func (e *Engine) timeoutError(stepID string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) && e.def.Timeout > 0 {
		return &errors.ExecutionError{
			Step:    stepID,
			Message: fmt.Sprintf("workflow timeout after %gs", e.def.Timeout),
		}
	}
	return &errors.ExecutionError{Step: stepID, Message: "workflow cancelled", Cause: err}
}

// recordEntry appends one audit entry.
func (e *Engine) recordEntry(ctx context.Context, executionID, stepID, stepType, status string, output any, errMsg string, duration time.Duration) error {
	return e.store.Record(ctx, &store.Entry{
		ExecutionID: executionID,
		StepID:      stepID,
		StepType:    stepType,
		Status:      status,
		Output:      output,
		Error:       errMsg,
		Duration:    duration,
		Timestamp:   time.Now(),
	})
}

func (e *Engine) emit(event Event) {
	if e.sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.sink(event)
}

func resultFromExecution(exec *store.Execution) *ExecutionResult {
	return &ExecutionResult{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		Output:      exec.Result,
		Ctx:         exec.Ctx,
		Halt:        exec.Halt,
		Error:       exec.Error,
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
