package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "conveyor.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deadline := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	exec := &store.Execution{
		ID:          "exec-1",
		WorkflowID:  "approvals",
		Status:      store.StatusHalted,
		Input:       map[string]any{"amount": 250.0},
		Ctx:         map[string]any{"reviewed": true},
		CurrentStep: "await",
		RecoverTo:   "await",
		Halt: &store.Halt{
			Prompt:     "approve spend of $250?",
			ResumeStep: "release",
			Kind:       "approval",
			Deadline:   &deadline,
		},
	}
	require.NoError(t, s.Save(ctx, exec))

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusHalted, loaded.Status)
	assert.Equal(t, 250.0, loaded.Input["amount"])
	assert.Equal(t, true, loaded.Ctx["reviewed"])
	assert.Equal(t, "await", loaded.RecoverTo)
	require.NotNil(t, loaded.Halt)
	assert.Equal(t, "release", loaded.Halt.ResumeStep)
	assert.Equal(t, "approval", loaded.Halt.Kind)
	require.NotNil(t, loaded.Halt.Deadline)
	assert.True(t, deadline.Equal(*loaded.Halt.Deadline))
}

func TestSaveIsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := &store.Execution{ID: "exec-1", WorkflowID: "w", Status: store.StatusRunning}
	require.NoError(t, s.Save(ctx, exec))

	completed := time.Now()
	exec.Status = store.StatusCompleted
	exec.Result = map[string]any{"ok": true}
	exec.CompletedAt = &completed
	require.NoError(t, s.Save(ctx, exec))

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, loaded.Status)
	assert.Equal(t, map[string]any{"ok": true}, loaded.Result)
	require.NotNil(t, loaded.CompletedAt)
}

func TestLoadUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "ghost")
	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct {
		id     string
		wf     string
		status store.Status
	}{
		{"a", "orders", store.StatusCompleted},
		{"b", "orders", store.StatusFailed},
		{"c", "billing", store.StatusCompleted},
	} {
		require.NoError(t, s.Save(ctx, &store.Execution{ID: tc.id, WorkflowID: tc.wf, Status: tc.status}))
	}

	orders, err := s.List(ctx, store.Filter{WorkflowID: "orders"})
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	failed, err := s.List(ctx, store.Filter{Status: store.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)

	limited, err := s.List(ctx, store.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestExecutionIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, tc := range []struct {
		id string
		wf string
	}{
		{"a", "orders"},
		{"b", "orders"},
		{"c", "billing"},
	} {
		require.NoError(t, s.Save(ctx, &store.Execution{
			ID:         tc.id,
			WorkflowID: tc.wf,
			Status:     store.StatusCompleted,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	ids, err := s.ExecutionIDs(ctx, store.Filter{WorkflowID: "orders"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	capped, err := s.ExecutionIDs(ctx, store.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, capped)
}

func TestRecordAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &store.Execution{ID: "exec-1", WorkflowID: "w", Status: store.StatusRunning}))

	first := &store.Entry{ExecutionID: "exec-1", StepID: "init", Status: "completed", Duration: 12 * time.Millisecond}
	second := &store.Entry{ExecutionID: "exec-1", StepID: "work", Status: "completed", Output: map[string]any{"n": 1.0}}
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)

	entries, err := s.Entries(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "init", entries[0].StepID)
	assert.Equal(t, 12*time.Millisecond, entries[0].Duration)
	assert.Equal(t, map[string]any{"n": 1.0}, entries[1].Output)
}

func TestDeleteCascadesEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &store.Execution{ID: "exec-1", WorkflowID: "w", Status: store.StatusCompleted}))
	require.NoError(t, s.Record(ctx, &store.Entry{ExecutionID: "exec-1", StepID: "init", Status: "completed"}))

	require.NoError(t, s.Delete(ctx, "exec-1"))

	entries, err := s.Entries(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	var nf *errors.NotFoundError
	require.ErrorAs(t, s.Delete(ctx, "exec-1"), &nf)
}
