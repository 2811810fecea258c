package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyonix/playbook/model"
)

// PgExecutionStore is a PostgreSQL-backed ExecutionStore using pgx/v5.
type PgExecutionStore struct {
	pool *pgxpool.Pool
}

// NewPgExecutionStore creates a new PostgreSQL execution store.
func NewPgExecutionStore(pool *pgxpool.Pool) *PgExecutionStore {
	return &PgExecutionStore{pool: pool}
}

// CreateExecution inserts a new execution.
func (s *PgExecutionStore) CreateExecution(ctx context.Context, exec model.Execution) error {
	varsJSON, reviewJSON, err := marshalExecutionState(exec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, playbook_id, playbook_version, user_id,
			status, current_step_id, variables, failure_reason, failed_step_id,
			review, started_at, completed_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		exec.ID, exec.PlaybookID, exec.PlaybookVersion, exec.UserID,
		exec.Status, exec.CurrentStepID, varsJSON, exec.FailureReason, exec.FailedStepID,
		reviewJSON, exec.StartedAt, exec.CompletedAt, exec.UpdatedAt, exec.Version,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *PgExecutionStore) GetExecution(ctx context.Context, executionID string) (model.Execution, error) {
	row := s.pool.QueryRow(ctx, selectExecution+` WHERE id = $1`, executionID)
	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Execution{}, model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", executionID),
		)
	}
	if err != nil {
		return model.Execution{}, fmt.Errorf("query execution: %w", err)
	}
	return exec, nil
}

// CommitTransition persists the execution update and appends the log entries
// in one transaction, under optimistic locking.
func (s *PgExecutionStore) CommitTransition(ctx context.Context, exec model.Execution, entries []model.StepLogEntry) error {
	varsJSON, reviewJSON, err := marshalExecutionState(exec)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE executions SET
			status = $1,
			current_step_id = $2,
			variables = $3,
			failure_reason = $4,
			failed_step_id = $5,
			review = $6,
			completed_at = $7,
			updated_at = $8,
			version = $9
		WHERE id = $10 AND version = $11`,
		exec.Status, exec.CurrentStepID, varsJSON,
		exec.FailureReason, exec.FailedStepID, reviewJSON,
		exec.CompletedAt, time.Now().UTC(), exec.Version+1,
		exec.ID, exec.Version,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("execution %q version conflict (expected %d)", exec.ID, exec.Version),
		)
	}

	for i := range entries {
		e := &entries[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO step_log_entries (
				id, execution_id, step_id, attempt, status,
				input_snapshot, input_truncated, output_snapshot, output_truncated,
				error_kind, error_detail, started_at, finished_at, sequence
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9,
				$10, $11, $12, $13,
				(SELECT COALESCE(MAX(sequence), 0) + 1 FROM step_log_entries WHERE execution_id = $2)
			)
			RETURNING sequence`,
			e.ID, e.ExecutionID, e.StepID, e.Attempt, e.Status,
			e.InputSnapshot.Value, e.InputSnapshot.Truncated,
			e.OutputSnapshot.Value, e.OutputSnapshot.Truncated,
			e.ErrorKind, e.ErrorDetail, e.StartedAt, e.FinishedAt,
		).Scan(&e.Sequence)
		if err != nil {
			return fmt.Errorf("insert step log entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// ListStepHistory returns the execution's step log in dispatch order.
func (s *PgExecutionStore) ListStepHistory(ctx context.Context, executionID string) ([]model.StepLogEntry, error) {
	// Verify the execution exists so a missing ID is NOT_FOUND, not an
	// empty history.
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, step_id, attempt, status,
		       input_snapshot, input_truncated, output_snapshot, output_truncated,
		       error_kind, error_detail, started_at, finished_at, sequence
		FROM step_log_entries
		WHERE execution_id = $1
		ORDER BY sequence ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step history: %w", err)
	}
	defer rows.Close()

	var entries []model.StepLogEntry
	for rows.Next() {
		var e model.StepLogEntry
		if err := rows.Scan(
			&e.ID, &e.ExecutionID, &e.StepID, &e.Attempt, &e.Status,
			&e.InputSnapshot.Value, &e.InputSnapshot.Truncated,
			&e.OutputSnapshot.Value, &e.OutputSnapshot.Truncated,
			&e.ErrorKind, &e.ErrorDetail, &e.StartedAt, &e.FinishedAt, &e.Sequence,
		); err != nil {
			return nil, fmt.Errorf("scan step log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListExecutions returns executions matching the filters, newest first.
func (s *PgExecutionStore) ListExecutions(ctx context.Context, filters ListFilters) ([]model.Execution, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argIdx := 1

	if filters.UserID != "" {
		where += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filters.UserID)
		argIdx++
	}
	if filters.PlaybookID != "" {
		where += fmt.Sprintf(" AND playbook_id = $%d", argIdx)
		args = append(args, filters.PlaybookID)
		argIdx++
	}
	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM executions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	query := selectExecution + where + " ORDER BY started_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var executions []model.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	return executions, total, rows.Err()
}

// HealthCheck pings the database.
func (s *PgExecutionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const selectExecution = `
	SELECT id, playbook_id, playbook_version, user_id,
	       status, current_step_id, variables, failure_reason, failed_step_id,
	       review, started_at, completed_at, updated_at, version
	FROM executions`

func marshalExecutionState(exec model.Execution) (varsJSON, reviewJSON []byte, err error) {
	varsJSON, err = json.Marshal(exec.Variables)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal variables: %w", err)
	}
	if exec.Review != nil {
		reviewJSON, err = json.Marshal(exec.Review)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal review: %w", err)
		}
	}
	return varsJSON, reviewJSON, nil
}

func scanExecution(row pgx.Row) (model.Execution, error) {
	var exec model.Execution
	var varsJSON, reviewJSON []byte

	err := row.Scan(
		&exec.ID, &exec.PlaybookID, &exec.PlaybookVersion, &exec.UserID,
		&exec.Status, &exec.CurrentStepID, &varsJSON, &exec.FailureReason, &exec.FailedStepID,
		&reviewJSON, &exec.StartedAt, &exec.CompletedAt, &exec.UpdatedAt, &exec.Version,
	)
	if err != nil {
		return model.Execution{}, err
	}

	if varsJSON != nil {
		if err := json.Unmarshal(varsJSON, &exec.Variables); err != nil {
			return model.Execution{}, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if reviewJSON != nil {
		if err := json.Unmarshal(reviewJSON, &exec.Review); err != nil {
			return model.Execution{}, fmt.Errorf("unmarshal review: %w", err)
		}
	}
	return exec, nil
}
