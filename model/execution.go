package model

import (
	"time"
	"unicode/utf8"
)

// Execution status constants. pending is the only initial state; completed,
// failed, and cancelled are terminal.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusPaused    = "paused_for_review"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// Step log entry status constants.
const (
	StepStatusSuccess = "success"
	StepStatusError   = "error"
	StepStatusSkipped = "skipped"
)

// Review decisions accepted by SubmitReview.
const (
	ReviewApprove = "approve"
	ReviewReject  = "reject"
)

// Failure reason recorded when a reviewer rejects a paused execution.
const FailureRejectedByReviewer = "rejected_by_reviewer"

// IsTerminalStatus reports whether status permits no further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Execution is one stateful run of a playbook for a specific user. It is
// mutated exclusively by the engine; CurrentStepID is empty only in terminal
// states.
type Execution struct {
	ID              string         `json:"id"`
	PlaybookID      string         `json:"playbook_id"`
	PlaybookVersion int            `json:"playbook_version"`
	UserID          string         `json:"user_id"`
	Status          string         `json:"status"`
	CurrentStepID   string         `json:"current_step_id,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	FailedStepID    string         `json:"failed_step_id,omitempty"`
	Review          *ReviewRequest `json:"review,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int            `json:"version"`
}

// ReviewRequest describes the pending human decision on a paused execution.
// The prompt and variables are display hints only, never control-flow inputs.
type ReviewRequest struct {
	StepID    string         `json:"step_id"`
	Prompt    string         `json:"prompt"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ExecutionSummary is a lightweight representation used in list views.
type ExecutionSummary struct {
	ID            string    `json:"id"`
	PlaybookID    string    `json:"playbook_id"`
	PlaybookName  string    `json:"playbook_name"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	CurrentStepID string    `json:"current_step_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExecutionFilters are optional filters for listing executions.
type ExecutionFilters struct {
	PlaybookID string
	Status     string
	Page       int
	PageSize   int
}

// Snapshot is a size-capped copy of a step input or output recorded in the
// audit trail. Truncated is set when the original exceeded the byte cap;
// detail loss is acceptable but never silent.
type Snapshot struct {
	Value     string `json:"value"`
	Truncated bool   `json:"truncated,omitempty"`
}

// TruncateSnapshot builds a Snapshot from raw, capping it at limit bytes.
// The cut backs off to the nearest rune boundary so the value stays valid
// UTF-8. A non-positive limit disables truncation.
func TruncateSnapshot(raw string, limit int) Snapshot {
	if limit > 0 && len(raw) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		return Snapshot{Value: raw[:cut], Truncated: true}
	}
	return Snapshot{Value: raw}
}

// StepLogEntry is one attempt at one step. Entries are append-only and
// immutable once written; retries append new entries rather than replacing
// prior ones.
type StepLogEntry struct {
	ID             string    `json:"id"`
	ExecutionID    string    `json:"execution_id"`
	StepID         string    `json:"step_id"`
	Attempt        int       `json:"attempt"`
	Status         string    `json:"status"`
	InputSnapshot  Snapshot  `json:"input_snapshot"`
	OutputSnapshot Snapshot  `json:"output_snapshot"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Sequence       int       `json:"sequence"`
}
