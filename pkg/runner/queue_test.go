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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueuePriorityOrdering(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{ID: "low", Priority: 0}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "high", Priority: 10}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "mid", Priority: 5}))

	var got []string
	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, got)
}

func TestMemoryQueueFIFOWithinPriority(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, &Job{ID: id, Priority: 1}))
	}

	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, job.ID)
	}
}

func TestMemoryQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue()

	done := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		done <- job
	}()

	select {
	case <-done:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(context.Background(), &Job{ID: "late"}))

	select {
	case job := <-done:
		assert.Equal(t, "late", job.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue()

	blocked := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, q.Close())

	select {
	case err := <-blocked:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked dequeue did not observe close")
	}

	require.ErrorIs(t, q.Enqueue(context.Background(), &Job{ID: "x"}), ErrQueueClosed)
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueueLen(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	assert.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "1"}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "2"}))
	assert.Equal(t, 2, q.Len())

	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}
