package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// MemoryStore is an in-memory Store implementation. It is thread-safe and
// suitable for tests and single-process embedding.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	entries    map[string][]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*Execution),
		entries:    make(map[string][]*Entry),
	}
}

// Save upserts an execution record.
func (s *MemoryStore) Save(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return &errors.ValidationError{
			Field:   "execution",
			Message: "execution requires an ID",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now

	copied, err := copyExecution(exec)
	if err != nil {
		return err
	}
	s.executions[exec.ID] = copied
	return nil
}

// Load retrieves an execution by ID.
func (s *MemoryStore) Load(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	return copyExecution(exec)
}

// Delete removes an execution and its entries.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[id]; !ok {
		return &errors.NotFoundError{Resource: "execution", ID: id}
	}
	delete(s.executions, id)
	delete(s.entries, id)
	return nil
}

// List returns executions matching the filter, newest first.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		copied, err := copyExecution(exec)
		if err != nil {
			return nil, err
		}
		results = append(results, copied)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(results) {
			return []*Execution{}, nil
		}
		results = results[filter.Offset:]
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// ExecutionIDs enumerates matching execution IDs, newest first.
func (s *MemoryStore) ExecutionIDs(ctx context.Context, filter Filter) ([]string, error) {
	execs, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(execs))
	for i, exec := range execs {
		ids[i] = exec.ID
	}
	return ids, nil
}

// Record appends a step entry, assigning the next sequence number when
// the entry carries none.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.ExecutionID == "" {
		return &errors.ValidationError{
			Field:   "entry",
			Message: "entry requires an execution ID",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	if copied.Seq == 0 {
		copied.Seq = len(s.entries[entry.ExecutionID]) + 1
		entry.Seq = copied.Seq
	}
	if copied.Timestamp.IsZero() {
		copied.Timestamp = time.Now()
	}
	s.entries[entry.ExecutionID] = append(s.entries[entry.ExecutionID], &copied)
	return nil
}

// Entries returns an execution's step log in sequence order.
func (s *MemoryStore) Entries(ctx context.Context, executionID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.entries[executionID]
	results := make([]*Entry, len(stored))
	for i, e := range stored {
		copied := *e
		results[i] = &copied
	}
	return results, nil
}

// copyExecution deep-copies through JSON so stored and returned records
// never share the caller's maps.
func copyExecution(exec *Execution) (*Execution, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to copy execution: %w", err)
	}
	var out Execution
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy execution: %w", err)
	}
	return &out, nil
}
