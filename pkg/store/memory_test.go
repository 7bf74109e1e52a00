package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getnvoi/conveyor/pkg/errors"
)

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	exec := &Execution{
		ID:         "exec-1",
		WorkflowID: "greeter",
		Status:     StatusRunning,
		Input:      map[string]any{"name": "ada"},
		Ctx:        map[string]any{"greeting": "hello"},
	}
	require.NoError(t, s.Save(ctx, exec))
	assert.False(t, exec.CreatedAt.IsZero())

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, "ada", loaded.Input["name"])

	// Mutating the loaded copy must not touch the stored record.
	loaded.Ctx["greeting"] = "tampered"
	again, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Ctx["greeting"])
}

func TestMemoryStoreSaveIsUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	exec := &Execution{ID: "exec-1", WorkflowID: "w", Status: StatusRunning}
	require.NoError(t, s.Save(ctx, exec))
	created := exec.CreatedAt

	exec.Status = StatusCompleted
	require.NoError(t, s.Save(ctx, exec))

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Equal(t, created.Unix(), loaded.CreatedAt.Unix())
}

func TestMemoryStoreLoadUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Load(context.Background(), "ghost")
	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "execution", nf.Resource)
}

func TestMemoryStoreList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		exec := &Execution{
			ID:         id,
			WorkflowID: "w",
			Status:     StatusCompleted,
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.Save(ctx, exec))
	}
	require.NoError(t, s.Save(ctx, &Execution{ID: "d", WorkflowID: "other", Status: StatusHalted}))

	all, err := s.List(ctx, Filter{WorkflowID: "w"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "c", all[0].ID)

	halted, err := s.List(ctx, Filter{Status: StatusHalted})
	require.NoError(t, err)
	require.Len(t, halted, 1)
	assert.Equal(t, "d", halted[0].ID)

	page, err := s.List(ctx, Filter{WorkflowID: "w", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestMemoryStoreExecutionIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		exec := &Execution{
			ID:         id,
			WorkflowID: "w",
			Status:     StatusCompleted,
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.Save(ctx, exec))
	}
	require.NoError(t, s.Save(ctx, &Execution{ID: "d", WorkflowID: "other", Status: StatusHalted}))

	ids, err := s.ExecutionIDs(ctx, Filter{WorkflowID: "w"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	capped, err := s.ExecutionIDs(ctx, Filter{WorkflowID: "w", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, capped)
}

func TestMemoryStoreEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, &Entry{ExecutionID: "exec-1", StepID: "init", Status: "completed"}))
	require.NoError(t, s.Record(ctx, &Entry{ExecutionID: "exec-1", StepID: "work", Status: "completed"}))
	require.NoError(t, s.Record(ctx, &Entry{ExecutionID: "other", StepID: "init", Status: "failed"}))

	entries, err := s.Entries(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, 2, entries[1].Seq)
	assert.Equal(t, "work", entries[1].StepID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Execution{ID: "exec-1", WorkflowID: "w", Status: StatusCompleted}))
	require.NoError(t, s.Record(ctx, &Entry{ExecutionID: "exec-1", StepID: "init", Status: "completed"}))
	require.NoError(t, s.Delete(ctx, "exec-1"))

	_, err := s.Load(ctx, "exec-1")
	assert.Error(t, err)
	entries, err := s.Entries(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Error(t, s.Delete(ctx, "exec-1"))
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusHalted.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusPending.Terminal())
}
