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

package runner

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/getnvoi/conveyor/internal/log"
	"github.com/getnvoi/conveyor/pkg/engine"
	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/store"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 4

// defaultPollInterval paces Wait's status polling.
const defaultPollInterval = 25 * time.Millisecond

// Async executes queued jobs against one engine with a worker pool.
// Submissions pre-save a pending execution so its status is observable
// before a worker picks the job up.
type Async struct {
	engine  *engine.Engine
	store   store.Store
	adapter Adapter
	workers int
	logger  *slog.Logger
}

// AsyncOption configures an Async runner.
type AsyncOption func(*Async)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) AsyncOption {
	return func(a *Async) { a.logger = logger }
}

// NewAsync builds an async runner over an engine, its store, and a queue
// adapter.
func NewAsync(eng *engine.Engine, st store.Store, adapter Adapter, opts ...AsyncOption) (*Async, error) {
	if eng == nil {
		return nil, &errors.ConfigError{Key: "engine", Reason: "engine is required"}
	}
	if st == nil {
		return nil, &errors.ConfigError{Key: "store", Reason: "store is required"}
	}
	if adapter == nil {
		return nil, &errors.ConfigError{Key: "adapter", Reason: "queue adapter is required"}
	}

	a := &Async{
		engine:  eng,
		store:   st,
		adapter: adapter,
		workers: DefaultWorkers,
		logger:  slog.Default().With(slog.String("component", "runner")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Start runs the worker pool until the context is cancelled or the
// queue is closed.
func (a *Async) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < a.workers; i++ {
		worker := i
		g.Go(func() error {
			return a.work(ctx, worker)
		})
	}
	return g.Wait()
}

// work is one worker's dequeue/process loop. Job failures are persisted
// by the engine and logged here; they never take the pool down.
func (a *Async) work(ctx context.Context, worker int) error {
	logger := a.logger.With(slog.Int("worker", worker))
	for {
		job, err := a.adapter.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		a.process(ctx, logger, job)
	}
}

func (a *Async) process(ctx context.Context, logger *slog.Logger, job *Job) {
	if job.WorkflowID != "" && job.WorkflowID != a.engine.Workflow().ID {
		logger.Warn("dropping job for foreign workflow",
			log.WorkflowKey, job.WorkflowID, log.ExecutionIDKey, job.ExecutionID)
		return
	}

	var err error
	switch job.Action {
	case ActionStart:
		_, err = a.engine.Run(ctx, job.Input, engine.WithExecutionID(job.ExecutionID))
	case ActionResume:
		var opts []engine.ResumeOption
		if job.HasResponse {
			opts = append(opts, engine.WithResponse(job.Response))
		}
		if job.Approved != nil {
			opts = append(opts, engine.WithApproval(*job.Approved))
		}
		_, err = a.engine.Resume(ctx, job.ExecutionID, opts...)
	default:
		logger.Warn("dropping job with unknown action",
			"action", string(job.Action), log.ExecutionIDKey, job.ExecutionID)
		return
	}
	if err != nil {
		logger.Error("job finished with error",
			log.ExecutionIDKey, job.ExecutionID, "action", string(job.Action), "error", err)
	}
}

// Submit pre-saves a pending execution and enqueues a start job. The
// returned execution ID can be polled immediately.
func (a *Async) Submit(ctx context.Context, input map[string]any, opts ...SubmitOption) (string, error) {
	var cfg submitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	executionID := uuid.NewString()
	exec := &store.Execution{
		ID:         executionID,
		WorkflowID: a.engine.Workflow().ID,
		Status:     store.StatusPending,
		Input:      input,
	}
	if err := a.store.Save(ctx, exec); err != nil {
		return "", err
	}

	job := &Job{
		ID:          uuid.NewString(),
		WorkflowID:  exec.WorkflowID,
		ExecutionID: executionID,
		Action:      ActionStart,
		Input:       input,
		Priority:    cfg.priority,
	}
	if err := a.adapter.Enqueue(ctx, job); err != nil {
		return "", err
	}
	return executionID, nil
}

// SubmitOption configures a Submit call.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	priority int
}

// WithPriority raises a submission above the default priority.
func WithPriority(priority int) SubmitOption {
	return func(c *submitConfig) { c.priority = priority }
}

// Respond enqueues a resume job carrying ctx["response"].
func (a *Async) Respond(ctx context.Context, executionID string, response any) error {
	return a.adapter.Enqueue(ctx, &Job{
		ID:          uuid.NewString(),
		WorkflowID:  a.engine.Workflow().ID,
		ExecutionID: executionID,
		Action:      ActionResume,
		Response:    response,
		HasResponse: true,
	})
}

// Approve enqueues a resume job carrying the approval decision.
func (a *Async) Approve(ctx context.Context, executionID string, approved bool) error {
	return a.adapter.Enqueue(ctx, &Job{
		ID:          uuid.NewString(),
		WorkflowID:  a.engine.Workflow().ID,
		ExecutionID: executionID,
		Action:      ActionResume,
		Approved:    &approved,
	})
}

// Status returns the execution's current persisted record.
func (a *Async) Status(ctx context.Context, executionID string) (*store.Execution, error) {
	return a.store.Load(ctx, executionID)
}

// Wait polls until the execution reaches a terminal status or halts,
// returning the persisted record.
func (a *Async) Wait(ctx context.Context, executionID string, interval time.Duration) (*store.Execution, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exec, err := a.store.Load(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if exec.Status.Terminal() || exec.Status == store.StatusHalted {
			return exec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
