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
	"errors"
	"sync"
	"time"
)

// Action says what a job asks the worker to do with its execution.
type Action string

// Job actions.
const (
	ActionStart  Action = "start"
	ActionResume Action = "resume"
)

// Job is one unit of queued work. It is JSON-serializable so adapters
// may hand it to external brokers.
type Job struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Action      Action         `json:"action"`
	Input       map[string]any `json:"input,omitempty"`
	Response    any            `json:"response,omitempty"`
	HasResponse bool           `json:"has_response,omitempty"`
	Approved    *bool          `json:"approved,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// Adapter is the queue contract the async runner works against.
type Adapter interface {
	// Enqueue adds a job.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue removes and returns the next job, blocking until one is
	// available, the context is cancelled, or the queue is closed.
	Dequeue(ctx context.Context) (*Job, error)

	// Len returns the number of queued jobs.
	Len() int

	// Close shuts the queue down; blocked Dequeue calls return
	// ErrQueueClosed.
	Close() error
}

// ErrQueueClosed is returned by operations on a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// MemoryQueue is an in-process Adapter ordered by priority (higher
// first), FIFO within a priority.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   []*Job
	signal chan struct{}
	closed bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{signal: make(chan struct{}, 1)}
}

// Enqueue implements Adapter.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	inserted := false
	for i, queued := range q.jobs {
		if job.Priority > queued.Priority {
			q.jobs = append(q.jobs[:i], append([]*Job{job}, q.jobs[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		q.jobs = append(q.jobs, job)
	}

	// Signal under the lock so Close cannot close the channel between the
	// closed check above and this send.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return nil
}

// Dequeue implements Adapter.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
			// A job may be available; loop and recheck.
		}
	}
}

// Len implements Adapter.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close implements Adapter.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}
