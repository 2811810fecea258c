package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/halcyonix/playbook/model"
)

// MemoryExecutionStore is an in-memory ExecutionStore for tests and
// single-process deployments.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]model.Execution      // key: execution ID
	history    map[string][]model.StepLogEntry // key: execution ID
}

// NewMemoryExecutionStore creates a new in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]model.Execution),
		history:    make(map[string][]model.StepLogEntry),
	}
}

// CreateExecution persists a new execution.
func (s *MemoryExecutionStore) CreateExecution(_ context.Context, exec model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("execution %q already exists", exec.ID),
		)
	}

	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *MemoryExecutionStore) GetExecution(_ context.Context, executionID string) (model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, exists := s.executions[executionID]
	if !exists {
		return model.Execution{}, model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", executionID),
		)
	}
	return cloneExecution(exec), nil
}

// CommitTransition persists the execution update with its log entries as a
// unit, under optimistic locking.
func (s *MemoryExecutionStore) CommitTransition(_ context.Context, exec model.Execution, entries []model.StepLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.executions[exec.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", exec.ID),
		)
	}
	if existing.Version != exec.Version {
		return model.NewConflictError(
			fmt.Sprintf("execution %q version conflict (expected %d, got %d)", exec.ID, exec.Version, existing.Version),
		)
	}

	exec.Version++
	exec.UpdatedAt = time.Now().UTC()

	seq := len(s.history[exec.ID])
	for i := range entries {
		seq++
		entries[i].Sequence = seq
	}

	s.executions[exec.ID] = cloneExecution(exec)
	s.history[exec.ID] = append(s.history[exec.ID], entries...)
	return nil
}

// ListStepHistory returns the execution's step log in dispatch order.
func (s *MemoryExecutionStore) ListStepHistory(_ context.Context, executionID string) ([]model.StepLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.executions[executionID]; !exists {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", executionID),
		)
	}

	entries := s.history[executionID]
	result := make([]model.StepLogEntry, len(entries))
	copy(result, entries)
	return result, nil
}

// ListExecutions returns executions matching the filters, newest first.
func (s *MemoryExecutionStore) ListExecutions(_ context.Context, filters ListFilters) ([]model.Execution, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Execution
	for _, exec := range s.executions {
		if filters.UserID != "" && exec.UserID != filters.UserID {
			continue
		}
		if filters.PlaybookID != "" && exec.PlaybookID != filters.PlaybookID {
			continue
		}
		if filters.Status != "" && exec.Status != filters.Status {
			continue
		}
		result = append(result, cloneExecution(exec))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	total := len(result)
	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.Execution{}, total, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, total, nil
}

// HealthCheck reports the store as always healthy.
func (s *MemoryExecutionStore) HealthCheck(context.Context) error { return nil }

// Len returns the total number of executions. For testing.
func (s *MemoryExecutionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

// cloneExecution copies the execution deeply enough that callers can't
// mutate stored state through shared maps.
func cloneExecution(exec model.Execution) model.Execution {
	if exec.Variables != nil {
		vars := make(map[string]any, len(exec.Variables))
		for k, v := range exec.Variables {
			vars[k] = v
		}
		exec.Variables = vars
	}
	if exec.Review != nil {
		review := *exec.Review
		if review.Variables != nil {
			rv := make(map[string]any, len(review.Variables))
			for k, v := range review.Variables {
				rv[k] = v
			}
			review.Variables = rv
		}
		exec.Review = &review
	}
	return exec
}
