package engine

import (
	"context"

	"github.com/halcyonix/playbook/model"
)

// ExecutionStore persists executions and their append-only step history.
type ExecutionStore interface {
	// CreateExecution persists a new execution.
	CreateExecution(ctx context.Context, exec model.Execution) error

	// GetExecution retrieves an execution by ID. Returns NOT_FOUND if the
	// execution doesn't exist.
	GetExecution(ctx context.Context, executionID string) (model.Execution, error)

	// CommitTransition atomically persists the execution update together with
	// the appended log entries: no reader observes one without the other.
	// Uses optimistic locking on exec.Version; the stored version becomes
	// exec.Version+1. Entry sequence numbers are assigned by the store,
	// monotonically increasing per execution. Returns CONFLICT if the stored
	// version has moved.
	CommitTransition(ctx context.Context, exec model.Execution, entries []model.StepLogEntry) error

	// ListStepHistory returns the execution's step log in dispatch order.
	ListStepHistory(ctx context.Context, executionID string) ([]model.StepLogEntry, error)

	// ListExecutions returns executions matching the filters, newest first,
	// plus the total match count before paging.
	ListExecutions(ctx context.Context, filters ListFilters) ([]model.Execution, int, error)
}

// ListFilters are optional filters for listing executions. An empty field
// matches everything.
type ListFilters struct {
	UserID     string
	PlaybookID string
	Status     string
	Limit      int
	Offset     int
}
