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

// Package runner provides the execution frontends over the engine: an
// in-process synchronous runner, a queue-backed asynchronous runner with
// a worker pool, and an event emitter for observing executions.
package runner

import (
	"context"

	"github.com/getnvoi/conveyor/pkg/engine"
	"github.com/getnvoi/conveyor/pkg/errors"
)

// HaltResponder supplies the resume decision for a halted execution. It
// is called once per halt with the halt result; the returned options are
// passed to Resume.
type HaltResponder func(ctx context.Context, result *engine.ExecutionResult) ([]engine.ResumeOption, error)

// Sync runs workflows in-process, blocking until they complete, halt, or
// fail.
type Sync struct {
	engine *engine.Engine
}

// NewSync wraps an engine in a synchronous runner.
func NewSync(eng *engine.Engine) *Sync {
	return &Sync{engine: eng}
}

// Run starts a fresh execution.
func (r *Sync) Run(ctx context.Context, input map[string]any, opts ...engine.RunOption) (*engine.ExecutionResult, error) {
	return r.engine.Run(ctx, input, opts...)
}

// Resume re-enters a halted execution.
func (r *Sync) Resume(ctx context.Context, executionID string, opts ...engine.ResumeOption) (*engine.ExecutionResult, error) {
	return r.engine.Resume(ctx, executionID, opts...)
}

// RunUntilComplete drives an execution through every halt: each time the
// workflow suspends, respond is consulted and the execution resumed with
// its options. It returns the terminal result.
func (r *Sync) RunUntilComplete(ctx context.Context, input map[string]any, respond HaltResponder) (*engine.ExecutionResult, error) {
	result, err := r.engine.Run(ctx, input)
	if err != nil {
		return result, err
	}

	for result.Halted() {
		if respond == nil {
			return result, &errors.ExecutionError{
				Message: "execution halted and no responder was provided",
			}
		}
		opts, err := respond(ctx, result)
		if err != nil {
			return result, err
		}
		result, err = r.engine.Resume(ctx, result.ExecutionID, opts...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
