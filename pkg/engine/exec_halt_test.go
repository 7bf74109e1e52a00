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

package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getnvoi/conveyor/pkg/store"
)

const expenseDoc = `
id: expense
inputs:
  - name: amount
    type: integer
    required: true
steps:
  - id: begin
    type: start
    next: review
  - id: review
    type: approval
    prompt: "Approve expense of $input.amount?"
    context:
      amount: $input.amount
    approvers: [finance]
    timeout: 3600
    on_reject: rejected
    next: pay
  - id: pay
    type: assign
    set:
      outcome: paid
    next: done
  - id: rejected
    type: assign
    set:
      outcome: rejected
    next: done
  - id: done
    type: end
    output: $outcome
`

func TestApprovalRequestHalts(t *testing.T) {
	eng, st := newEngine(t, expenseDoc)

	result, err := eng.Run(context.Background(), map[string]any{"amount": 120})
	require.NoError(t, err)
	require.True(t, result.Halted())
	require.NotNil(t, result.Halt)

	assert.Equal(t, "approval", result.Halt.Kind)
	assert.Equal(t, "Approve expense of 120?", result.Halt.Prompt)
	assert.Equal(t, "review", result.Halt.ResumeStep)
	assert.Equal(t, "rejected", result.Halt.OnReject)

	data := result.Halt.Data
	assert.Equal(t, "approval", data["type"])
	assert.NotEmpty(t, data["requested_at"])
	assert.Equal(t, []string{"finance"}, data["approvers"])
	reqCtx, ok := data["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 120, reqCtx["amount"])

	require.NotNil(t, result.Halt.Deadline)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *result.Halt.Deadline, time.Minute)

	// The request metadata survives the store round trip in ctx.
	exec := loadExecution(t, st, result.ExecutionID)
	assert.Equal(t, store.StatusHalted, exec.Status)
	assert.Equal(t, "review", exec.RecoverTo)
	meta, ok := exec.Ctx["_halt"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "approval", meta["type"])
	assert.NotEmpty(t, meta["requested_at"])
}

func TestApprovalApprovedContinues(t *testing.T) {
	eng, st := newEngine(t, expenseDoc)

	result, err := eng.Run(context.Background(), map[string]any{"amount": 40})
	require.NoError(t, err)
	require.True(t, result.Halted())

	resumed, err := eng.Resume(context.Background(), result.ExecutionID, WithApproval(true))
	require.NoError(t, err)
	require.True(t, resumed.Completed())
	assert.Equal(t, "paid", resumed.Output)

	// The decision keys are consumed, not left behind.
	exec := loadExecution(t, st, result.ExecutionID)
	assert.NotContains(t, exec.Ctx, "approved")
	assert.NotContains(t, exec.Ctx, "_halt")
}

func TestApprovalRejectedRoutes(t *testing.T) {
	eng, _ := newEngine(t, expenseDoc)

	result, err := eng.Run(context.Background(), map[string]any{"amount": 900})
	require.NoError(t, err)
	require.True(t, result.Halted())

	resumed, err := eng.Resume(context.Background(), result.ExecutionID, WithApproval(false))
	require.NoError(t, err)
	require.True(t, resumed.Completed())
	assert.Equal(t, "rejected", resumed.Output)
}

func TestApprovalRejectedWithoutHandlerFails(t *testing.T) {
	eng, st := newEngine(t, `
id: gate
steps:
  - id: begin
    type: start
    next: review
  - id: review
    type: approval
    prompt: proceed?
    next: done
  - id: done
    type: end
`)

	result, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Halted())

	resumed, err := eng.Resume(context.Background(), result.ExecutionID, WithApproval(false))
	require.Error(t, err)
	require.True(t, resumed.Failed())
	assert.Contains(t, err.Error(), "approval rejected")

	exec := loadExecution(t, st, result.ExecutionID)
	assert.True(t, strings.HasPrefix(exec.Error, "ExecutionError: "), exec.Error)
}

func TestApprovalTimeoutRoutes(t *testing.T) {
	eng, _ := newEngine(t, `
id: urgent
steps:
  - id: begin
    type: start
    next: review
  - id: review
    type: approval
    prompt: quick decision needed
    timeout: 0.01
    on_timeout: expired
    next: granted
  - id: granted
    type: assign
    set:
      outcome: granted
    next: done
  - id: expired
    type: assign
    set:
      outcome: expired
    next: done
  - id: done
    type: end
    output: $outcome
`)

	result, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Halted())
	require.NotNil(t, result.Halt.Deadline)

	time.Sleep(1100 * time.Millisecond)

	resumed, err := eng.Resume(context.Background(), result.ExecutionID, WithApproval(true))
	require.NoError(t, err)
	require.True(t, resumed.Completed())
	assert.Equal(t, "expired", resumed.Output)
}

func TestApprovalTimeoutWithoutHandlerFails(t *testing.T) {
	eng, _ := newEngine(t, `
id: urgent2
steps:
  - id: begin
    type: start
    next: review
  - id: review
    type: approval
    prompt: quick
    timeout: 0.01
    next: done
  - id: done
    type: end
`)

	result, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Halted())

	time.Sleep(1100 * time.Millisecond)

	resumed, err := eng.Resume(context.Background(), result.ExecutionID, WithApproval(true))
	require.Error(t, err)
	require.True(t, resumed.Failed())
	assert.Contains(t, err.Error(), "approval timed out")
}
