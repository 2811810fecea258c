package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halcyonix/playbook/model"
)

func testExecution(id, userID, playbookID string) model.Execution {
	now := time.Now().UTC()
	return model.Execution{
		ID:              id,
		PlaybookID:      playbookID,
		PlaybookVersion: 1,
		UserID:          userID,
		Status:          model.ExecutionStatusRunning,
		CurrentStepID:   "s1",
		Variables:       map[string]any{"doc": "hello"},
		StartedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

func testEntry(executionID, stepID string, attempt int) model.StepLogEntry {
	now := time.Now().UTC()
	return model.StepLogEntry{
		ID:          executionID + "-" + stepID,
		ExecutionID: executionID,
		StepID:      stepID,
		Attempt:     attempt,
		Status:      model.StepStatusSuccess,
		StartedAt:   now,
		FinishedAt:  now,
	}
}

func TestMemoryExecutionStore_CreateAndGet(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	require.NoError(t, store.CreateExecution(ctx, testExecution("ex-1", "user-alice", "pb-1")))
	require.Equal(t, 1, store.Len())

	got, err := store.GetExecution(ctx, "ex-1")
	require.NoError(t, err)
	require.Equal(t, "pb-1", got.PlaybookID)
	require.Equal(t, model.ExecutionStatusRunning, got.Status)

	// Returned executions are clones: mutating one must not leak back.
	got.Variables["doc"] = "tampered"
	again, err := store.GetExecution(ctx, "ex-1")
	require.NoError(t, err)
	require.Equal(t, "hello", again.Variables["doc"])
}

func TestMemoryExecutionStore_Create_duplicate(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	require.NoError(t, store.CreateExecution(ctx, testExecution("ex-1", "user-alice", "pb-1")))
	err := store.CreateExecution(ctx, testExecution("ex-1", "user-alice", "pb-1"))
	require.Error(t, err)

	envErr, ok := err.(*model.ErrorEnvelope)
	require.True(t, ok, "error type = %T", err)
	require.Equal(t, model.ErrConflict, envErr.Code)
}

func TestMemoryExecutionStore_Get_notFound(t *testing.T) {
	store := NewMemoryExecutionStore()

	_, err := store.GetExecution(context.Background(), "absent")
	require.Error(t, err)
	envErr, ok := err.(*model.ErrorEnvelope)
	require.True(t, ok, "error type = %T", err)
	require.Equal(t, model.ErrNotFound, envErr.Code)
}

func TestMemoryExecutionStore_CommitTransition(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	exec := testExecution("ex-1", "user-alice", "pb-1")
	require.NoError(t, store.CreateExecution(ctx, exec))

	exec.CurrentStepID = "s2"
	require.NoError(t, store.CommitTransition(ctx, exec, []model.StepLogEntry{testEntry("ex-1", "s1", 1)}))

	got, err := store.GetExecution(ctx, "ex-1")
	require.NoError(t, err)
	require.Equal(t, "s2", got.CurrentStepID)
	require.Equal(t, 2, got.Version)

	// A second commit at the stale version is rejected.
	err = store.CommitTransition(ctx, exec, nil)
	require.Error(t, err)
	envErr, ok := err.(*model.ErrorEnvelope)
	require.True(t, ok, "error type = %T", err)
	require.Equal(t, model.ErrConflict, envErr.Code)
}

func TestMemoryExecutionStore_SequenceAssignment(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	exec := testExecution("ex-1", "user-alice", "pb-1")
	require.NoError(t, store.CreateExecution(ctx, exec))

	// Two entries in one commit, one in the next: sequences stay monotonic.
	require.NoError(t, store.CommitTransition(ctx, exec, []model.StepLogEntry{
		testEntry("ex-1", "s1", 1),
		testEntry("ex-1", "s1", 2),
	}))
	exec.Version = 2
	require.NoError(t, store.CommitTransition(ctx, exec, []model.StepLogEntry{
		testEntry("ex-1", "s2", 1),
	}))

	entries, err := store.ListStepHistory(ctx, "ex-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, i+1, e.Sequence, "entries[%d]", i)
	}
}

func TestMemoryExecutionStore_ListStepHistory_notFound(t *testing.T) {
	store := NewMemoryExecutionStore()

	_, err := store.ListStepHistory(context.Background(), "absent")
	require.Error(t, err)
	envErr, ok := err.(*model.ErrorEnvelope)
	require.True(t, ok, "error type = %T", err)
	require.Equal(t, model.ErrNotFound, envErr.Code)
}

func TestMemoryExecutionStore_ListExecutions(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	a1 := testExecution("ex-1", "user-alice", "pb-1")
	a2 := testExecution("ex-2", "user-alice", "pb-2")
	a2.Status = model.ExecutionStatusCompleted
	a2.StartedAt = a1.StartedAt.Add(time.Second)
	b1 := testExecution("ex-3", "user-bob", "pb-1")
	b1.StartedAt = a1.StartedAt.Add(2 * time.Second)
	for _, e := range []model.Execution{a1, a2, b1} {
		require.NoError(t, store.CreateExecution(ctx, e))
	}

	// All, newest first.
	execs, total, err := store.ListExecutions(ctx, ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, execs, 3)
	require.Equal(t, "ex-3", execs[0].ID)
	require.Equal(t, "ex-1", execs[2].ID)

	// By user.
	execs, total, err = store.ListExecutions(ctx, ListFilters{UserID: "user-alice"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, execs, 2)

	// By playbook and status.
	execs, _, err = store.ListExecutions(ctx, ListFilters{PlaybookID: "pb-2"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	execs, _, err = store.ListExecutions(ctx, ListFilters{Status: model.ExecutionStatusCompleted})
	require.NoError(t, err)
	require.Len(t, execs, 1)

	// Paging: total counts matches before the page is cut.
	execs, total, err = store.ListExecutions(ctx, ListFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, execs, 1)
	require.Equal(t, "ex-2", execs[0].ID)

	// Offset past the end.
	execs, total, err = store.ListExecutions(ctx, ListFilters{Offset: 10})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Empty(t, execs)
}
