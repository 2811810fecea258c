// Package engine drives playbook executions: it dispatches steps in order,
// threads variables between them, resolves failures through each step's error
// policy, and records every attempt in an append-only audit trail.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonix/playbook/internal/extract"
	"github.com/halcyonix/playbook/internal/observability"
	"github.com/halcyonix/playbook/internal/step"
	"github.com/halcyonix/playbook/internal/template"
	"github.com/halcyonix/playbook/internal/vars"
	"github.com/halcyonix/playbook/model"
)

// defaultMaxDispatches bounds the number of step dispatches per execution so
// a fallback cycle cannot spin forever.
const defaultMaxDispatches = 100

// PlaybookSource resolves playbook definitions. Executions pin the version
// they started with, so both lookups are needed.
type PlaybookSource interface {
	GetPlaybook(playbookID string) (model.Playbook, bool)
	GetPlaybookVersion(playbookID string, version int) (model.Playbook, bool)
}

// Options tune engine limits. Zero values fall back to defaults.
type Options struct {
	SnapshotByteLimit int
	DefaultPageSize   int
	MaxPageSize       int
	MaxDispatches     int
}

func (o *Options) fill() {
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 20
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 100
	}
	if o.MaxDispatches <= 0 {
		o.MaxDispatches = defaultMaxDispatches
	}
}

// Engine executes playbooks. All execution state mutations flow through it,
// serialized per execution; reads go straight to the store.
type Engine struct {
	playbooks  PlaybookSource
	store      ExecutionStore
	prompts    *step.PromptExecutor
	conditions *step.ConditionExecutor
	transforms *step.TransformExecutor
	logger     *zap.Logger
	metrics    *observability.Metrics
	opts       Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine.
func New(playbooks PlaybookSource, store ExecutionStore, prompts *step.PromptExecutor, logger *zap.Logger, metrics *observability.Metrics, opts Options) *Engine {
	opts.fill()
	return &Engine{
		playbooks:  playbooks,
		store:      store,
		prompts:    prompts,
		conditions: step.NewConditionExecutor(),
		transforms: step.NewTransformExecutor(),
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing state transitions for one execution.
func (e *Engine) lockFor(executionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[executionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[executionID] = l
	}
	return l
}

// Start validates the inputs, creates a new execution of the playbook's
// current version, and drives it synchronously until it reaches a terminal
// state or pauses for review.
func (e *Engine) Start(ctx context.Context, playbookID string, inputs map[string]any) (model.Execution, error) {
	actx := model.AuthContextFrom(ctx)
	if actx == nil || actx.UserID == "" {
		return model.Execution{}, model.NewUnauthorizedError("authentication required")
	}

	pb, ok := e.playbooks.GetPlaybook(playbookID)
	if !ok {
		return model.Execution{}, model.NewNotFoundError(fmt.Sprintf("playbook %q not found", playbookID))
	}
	if pb.Visibility == "private" && !actx.CanActOn(pb.OwnerID) {
		return model.Execution{}, model.NewForbiddenError(fmt.Sprintf("playbook %q is private", playbookID))
	}
	if len(pb.Steps) == 0 {
		return model.Execution{}, model.NewInvalidStateError(fmt.Sprintf("playbook %q has no steps", playbookID))
	}
	if details := validateInputs(pb, inputs); len(details) > 0 {
		return model.Execution{}, model.NewValidationError(details)
	}

	ctx, span := observability.StartSpan(ctx, "engine.Start",
		observability.AttrPlaybookID.String(pb.ID),
		observability.AttrUserID.String(actx.UserID),
	)

	now := time.Now().UTC()
	exec := model.Execution{
		ID:              uuid.NewString(),
		PlaybookID:      pb.ID,
		PlaybookVersion: pb.Version,
		UserID:          actx.UserID,
		Status:          model.ExecutionStatusPending,
		CurrentStepID:   pb.Steps[0].ID,
		Variables:       seedVariables(pb, inputs),
		StartedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		observability.EndSpanWithError(span, err)
		return model.Execution{}, err
	}
	e.metrics.RecordExecutionStart(pb.ID)

	logger := observability.RequestLogger(ctx, e.logger).With(
		zap.String("execution_id", exec.ID),
		zap.String("playbook_id", pb.ID),
		zap.Int("playbook_version", pb.Version),
	)
	logger.Info("execution started")

	lock := e.lockFor(exec.ID)
	lock.Lock()
	defer lock.Unlock()

	exec.Status = model.ExecutionStatusRunning
	if err := e.commit(ctx, &exec, nil); err != nil {
		observability.EndSpanWithError(span, err)
		return exec, err
	}

	exec, err := e.drive(ctx, pb, exec, lock, logger)
	observability.EndSpanWithError(span, err)
	return exec, err
}

// GetExecution returns the execution if the caller may read it.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (model.Execution, error) {
	actx := model.AuthContextFrom(ctx)
	if actx == nil || actx.UserID == "" {
		return model.Execution{}, model.NewUnauthorizedError("authentication required")
	}
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return model.Execution{}, err
	}
	if !actx.CanActOn(exec.UserID) {
		return model.Execution{}, model.NewForbiddenError(fmt.Sprintf("execution %q belongs to another user", executionID))
	}
	return exec, nil
}

// ListStepHistory returns the execution's audit trail in dispatch order.
func (e *Engine) ListStepHistory(ctx context.Context, executionID string) ([]model.StepLogEntry, error) {
	if _, err := e.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return e.store.ListStepHistory(ctx, executionID)
}

// ListExecutions returns executions visible to the caller, newest first.
// Non-admin callers only ever see their own executions.
func (e *Engine) ListExecutions(ctx context.Context, f model.ExecutionFilters) ([]model.Execution, int, error) {
	actx := model.AuthContextFrom(ctx)
	if actx == nil || actx.UserID == "" {
		return nil, 0, model.NewUnauthorizedError("authentication required")
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = e.opts.DefaultPageSize
	}
	if pageSize > e.opts.MaxPageSize {
		pageSize = e.opts.MaxPageSize
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	filters := ListFilters{
		PlaybookID: f.PlaybookID,
		Status:     f.Status,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}
	if !actx.IsAdmin() {
		filters.UserID = actx.UserID
	}
	return e.store.ListExecutions(ctx, filters)
}

// SubmitReview resolves a paused execution with the reviewer's decision.
// Approval resumes the drive loop from the step after the review step;
// rejection fails the execution.
func (e *Engine) SubmitReview(ctx context.Context, executionID, decision, comment string) (model.Execution, error) {
	actx := model.AuthContextFrom(ctx)
	if actx == nil || actx.UserID == "" {
		return model.Execution{}, model.NewUnauthorizedError("authentication required")
	}
	if decision != model.ReviewApprove && decision != model.ReviewReject {
		return model.Execution{}, model.NewBadRequestError(fmt.Sprintf("decision must be %q or %q", model.ReviewApprove, model.ReviewReject))
	}

	lock := e.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return model.Execution{}, err
	}
	if !actx.CanActOn(exec.UserID) {
		return model.Execution{}, model.NewForbiddenError(fmt.Sprintf("execution %q belongs to another user", executionID))
	}
	if exec.Status != model.ExecutionStatusPaused || exec.Review == nil {
		return model.Execution{}, model.NewInvalidStateError(fmt.Sprintf("execution %q is %s, not awaiting review", executionID, exec.Status))
	}

	pb, ok := e.playbooks.GetPlaybookVersion(exec.PlaybookID, exec.PlaybookVersion)
	if !ok {
		return model.Execution{}, model.NewInvalidStateError(fmt.Sprintf("playbook %q version %d is no longer loaded", exec.PlaybookID, exec.PlaybookVersion))
	}

	ctx, span := observability.StartSpan(ctx, "engine.SubmitReview",
		observability.AttrPlaybookID.String(pb.ID),
		observability.AttrExecutionID.String(exec.ID),
		observability.AttrStepID.String(exec.Review.StepID),
	)

	logger := observability.RequestLogger(ctx, e.logger).With(
		zap.String("execution_id", exec.ID),
		zap.String("playbook_id", pb.ID),
		zap.String("step_id", exec.Review.StepID),
		zap.String("decision", decision),
	)
	e.metrics.RecordReviewDecision(pb.ID, decision)

	reviewStepID := exec.Review.StepID
	started := time.Now().UTC()
	snapshot := copyVars(exec.Variables)

	if decision == model.ReviewReject {
		stepErr := step.NewError(model.FailureRejectedByReviewer, "%s", rejectionDetail(comment))
		entry := e.newEntry(exec.ID, reviewStepID, 1, model.StepStatusError, snapshot, "", stepErr, started)
		exec, err = e.failExecution(ctx, exec, reviewStepID, model.FailureRejectedByReviewer, []model.StepLogEntry{entry}, logger)
		observability.EndSpanWithError(span, err)
		return exec, err
	}

	entry := e.newEntry(exec.ID, reviewStepID, 1, model.StepStatusSuccess, snapshot, "approved", nil, started)
	if comment != "" {
		entry.OutputSnapshot = model.TruncateSnapshot("approved: "+comment, e.opts.SnapshotByteLimit)
	}

	exec.Review = nil
	exec.Status = model.ExecutionStatusRunning
	e.advance(&exec, pb.NextStepID(reviewStepID))
	if err := e.commit(ctx, &exec, []model.StepLogEntry{entry}); err != nil {
		observability.EndSpanWithError(span, err)
		return exec, err
	}
	logger.Info("review approved, execution resumed")

	if exec.Status == model.ExecutionStatusCompleted {
		e.metrics.RecordExecutionCompletion(pb.ID, exec.Status)
		logger.Info("execution completed")
		observability.EndSpanWithError(span, nil)
		return exec, nil
	}

	exec, err = e.drive(ctx, pb, exec, lock, logger)
	observability.EndSpanWithError(span, err)
	return exec, err
}

// Cancel transitions a non-terminal execution to cancelled. A step attempt
// already in flight is not interrupted; its result is recorded as skipped and
// never applied.
func (e *Engine) Cancel(ctx context.Context, executionID string) (model.Execution, error) {
	actx := model.AuthContextFrom(ctx)
	if actx == nil || actx.UserID == "" {
		return model.Execution{}, model.NewUnauthorizedError("authentication required")
	}

	lock := e.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return model.Execution{}, err
	}
	if !actx.CanActOn(exec.UserID) {
		return model.Execution{}, model.NewForbiddenError(fmt.Sprintf("execution %q belongs to another user", executionID))
	}
	if model.IsTerminalStatus(exec.Status) {
		return model.Execution{}, model.NewInvalidStateError(fmt.Sprintf("execution %q is already %s", executionID, exec.Status))
	}

	now := time.Now().UTC()
	exec.Status = model.ExecutionStatusCancelled
	exec.CurrentStepID = ""
	exec.Review = nil
	exec.CompletedAt = &now
	if err := e.commit(ctx, &exec, nil); err != nil {
		return exec, err
	}
	e.metrics.RecordExecutionCompletion(exec.PlaybookID, exec.Status)

	observability.RequestLogger(ctx, e.logger).Info("execution cancelled",
		zap.String("execution_id", exec.ID),
		zap.String("playbook_id", exec.PlaybookID),
	)
	return exec, nil
}

// commit persists the execution update with its entries and mirrors the
// store's version bump locally.
func (e *Engine) commit(ctx context.Context, exec *model.Execution, entries []model.StepLogEntry) error {
	if err := e.store.CommitTransition(ctx, *exec, entries); err != nil {
		return err
	}
	exec.Version++
	return nil
}

// drive dispatches steps until the execution leaves the running state. The
// per-execution lock must be held by the caller; it is released only around
// LLM calls.
func (e *Engine) drive(ctx context.Context, pb model.Playbook, exec model.Execution, lock *sync.Mutex, logger *zap.Logger) (model.Execution, error) {
	for dispatches := 0; exec.Status == model.ExecutionStatusRunning; dispatches++ {
		if dispatches >= e.opts.MaxDispatches {
			stepErr := step.NewError(model.ErrInternalError, "execution exceeded %d step dispatches", e.opts.MaxDispatches)
			entry := e.newEntry(exec.ID, exec.CurrentStepID, 1, model.StepStatusError, copyVars(exec.Variables), "", stepErr, time.Now().UTC())
			return e.failExecution(ctx, exec, exec.CurrentStepID, "dispatch_limit_exceeded", []model.StepLogEntry{entry}, logger)
		}

		def := pb.Step(exec.CurrentStepID)
		if def == nil {
			stepErr := step.NewError(model.ErrInternalError, "step %q not found in playbook %q", exec.CurrentStepID, pb.ID)
			entry := e.newEntry(exec.ID, exec.CurrentStepID, 1, model.StepStatusError, copyVars(exec.Variables), "", stepErr, time.Now().UTC())
			return e.failExecution(ctx, exec, exec.CurrentStepID, "unknown_step", []model.StepLogEntry{entry}, logger)
		}

		var err error
		switch def.Type {
		case model.StepTypePrompt:
			exec, err = e.dispatchPrompt(ctx, pb, exec, def, lock, logger)
		case model.StepTypeCondition:
			exec, err = e.dispatchCondition(ctx, pb, exec, def, logger)
		case model.StepTypeTransform:
			exec, err = e.dispatchTransform(ctx, pb, exec, def, logger)
		case model.StepTypeReview:
			return e.pauseForReview(ctx, exec, def, logger)
		default:
			stepErr := step.NewError(model.ErrInternalError, "step %q has unknown type %q", def.ID, def.Type)
			entry := e.newEntry(exec.ID, def.ID, 1, model.StepStatusError, copyVars(exec.Variables), "", stepErr, time.Now().UTC())
			return e.failExecution(ctx, exec, def.ID, "unknown_step_type", []model.StepLogEntry{entry}, logger)
		}
		if err != nil {
			return exec, err
		}
	}
	return exec, nil
}

// dispatchPrompt runs one prompt step through the LLM, retrying per the error
// policy. The execution lock is released for the duration of each provider
// call; on reacquisition the execution is reloaded and, if it left the
// running state meanwhile, the late result is logged as skipped and discarded.
func (e *Engine) dispatchPrompt(ctx context.Context, pb model.Playbook, exec model.Execution, def *model.StepDefinition, lock *sync.Mutex, logger *zap.Logger) (model.Execution, error) {
	retries := retriesAllowed(def.OnError)

	for attempt := 1; ; attempt++ {
		snapshot := copyVars(exec.Variables)
		started := time.Now().UTC()

		sctx, span := observability.StartSpan(ctx, "engine.step.prompt",
			observability.AttrPlaybookID.String(pb.ID),
			observability.AttrExecutionID.String(exec.ID),
			observability.AttrStepID.String(def.ID),
			observability.AttrStepType.String(string(def.Type)),
			observability.AttrAttempt.Int(attempt),
		)

		lock.Unlock()
		outcome, stepErr := e.prompts.Execute(sctx, def, snapshot, exec.UserID)
		lock.Lock()
		duration := time.Since(started)

		// The lock was released during the call: reload and confirm the
		// execution is still running before applying anything.
		reloaded, err := e.store.GetExecution(ctx, exec.ID)
		if err != nil {
			observability.EndSpanWithError(span, err)
			return exec, err
		}
		if reloaded.Status != model.ExecutionStatusRunning {
			entry := e.newEntry(exec.ID, def.ID, attempt, model.StepStatusSkipped, snapshot, outcome.Raw, stepErr, started)
			if err := e.commit(ctx, &reloaded, []model.StepLogEntry{entry}); err != nil {
				logger.Warn("failed to record skipped step result", zap.String("step_id", def.ID), zap.Error(err))
			}
			e.metrics.RecordStepAttempt(pb.ID, string(def.Type), model.StepStatusSkipped, duration)
			logger.Info("discarding step result, execution no longer running",
				zap.String("step_id", def.ID),
				zap.String("status", reloaded.Status),
			)
			span.End()
			return reloaded, nil
		}
		exec = reloaded

		if stepErr == nil {
			value, exErr := extract.Apply(def.Extraction, outcome.Raw)
			if exErr != nil {
				stepErr = step.NewError(model.ErrExtractionError, "step %q: %v", def.ID, exErr)
			} else {
				e.metrics.RecordStepAttempt(pb.ID, string(def.Type), model.StepStatusSuccess, duration)
				e.metrics.RecordLLMTokens(pb.ID, outcome.Usage.InputTokens, outcome.Usage.OutputTokens)

				entry := e.newEntry(exec.ID, def.ID, attempt, model.StepStatusSuccess, snapshot, outcome.Raw, nil, started)
				e.setOutput(&exec, def, value)
				e.advance(&exec, pb.NextStepID(def.ID))
				if err := e.commit(ctx, &exec, []model.StepLogEntry{entry}); err != nil {
					observability.EndSpanWithError(span, err)
					return exec, err
				}
				e.noteTerminal(pb, exec, logger)
				span.End()
				return exec, nil
			}
		}

		e.metrics.RecordStepAttempt(pb.ID, string(def.Type), model.StepStatusError, duration)
		if stepErr.Kind == model.ErrBudgetExceeded {
			e.metrics.RecordBudgetDenial()
		}
		observability.EndSpanWithError(span, stepErr)

		entry := e.newEntry(exec.ID, def.ID, attempt, model.StepStatusError, snapshot, "", stepErr, started)
		var retry bool
		exec, retry, err = e.resolveFailure(ctx, pb, exec, def, attempt, retries, entry, stepErr, logger)
		if err != nil || !retry {
			return exec, err
		}
	}
}

// dispatchCondition evaluates a condition step and routes to the chosen
// branch. An empty branch target means the next step in declaration order.
func (e *Engine) dispatchCondition(ctx context.Context, pb model.Playbook, exec model.Execution, def *model.StepDefinition, logger *zap.Logger) (model.Execution, error) {
	retries := retriesAllowed(def.OnError)

	for attempt := 1; ; attempt++ {
		snapshot := copyVars(exec.Variables)
		started := time.Now().UTC()

		result, stepErr := e.conditions.Execute(def, snapshot)
		duration := time.Since(started)

		if stepErr == nil {
			e.metrics.RecordStepAttempt(pb.ID, string(def.Type), model.StepStatusSuccess, duration)

			next := def.FalseStepID
			if result {
				next = def.TrueStepID
			}
			if next == "" {
				next = pb.NextStepID(def.ID)
			}

			entry := e.newEntry(exec.ID, def.ID, attempt, model.StepStatusSuccess, snapshot, strconv.FormatBool(result), nil, started)
			e.setOutput(&exec, def, result)
			e.advance(&exec, next)
			if err := e.commit(ctx, &exec, []model.StepLogEntry{entry}); err != nil {
				return exec, err
			}
			e.noteTerminal(pb, exec, logger)
			return exec, nil
		}

		e.metrics.RecordStepAttempt(pb.ID, string(def.Type), model.StepStatusError, duration)
		entry := e.newEntry(exec.ID, def.ID, attempt, model.StepStatusError, snapshot, "", stepErr, started)
		var retry bool
		var err error
		exec, retry, err = e.resolveFailure(ctx, pb, exec, def, attempt, retries, entry, stepErr, logger)
		if err != nil || !retry {
			return exec, err
		}
	}
}

// dispatchTransform applies a deterministic transform step.
func (e *Engine) dispatchTransform(ctx context.Context, pb model.Playbook, exec model.Execution, def *model.StepDefinition, logger *zap.Logger) (model.Execution, error) {
	retries := retriesAllowed(def.OnError)

	for attempt := 1; ; attempt++ {
		snapshot := copyVars(exec.Variables)
		started := time.Now().UTC()

		outcome, stepErr := e.transforms.Execute(def, snapshot)
		duration := time.Since(started)

		if stepErr == nil {
			e.metrics.RecordStepAttempt(pb.ID, string(def.Type), model.StepStatusSuccess, duration)

			entry := e.newEntry(exec.ID, def.ID, attempt, model.StepStatusSuccess, snapshot, outcome.Raw, nil, started)
			e.setOutput(&exec, def, outcome.Raw)
			e.advance(&exec, pb.NextStepID(def.ID))
			if err := e.commit(ctx, &exec, []model.StepLogEntry{entry}); err != nil {
				return exec, err
			}
			e.noteTerminal(pb, exec, logger)
			return exec, nil
		}

		e.metrics.RecordStepAttempt(pb.ID, string(def.Type), model.StepStatusError, duration)
		entry := e.newEntry(exec.ID, def.ID, attempt, model.StepStatusError, snapshot, "", stepErr, started)
		var retry bool
		var err error
		exec, retry, err = e.resolveFailure(ctx, pb, exec, def, attempt, retries, entry, stepErr, logger)
		if err != nil || !retry {
			return exec, err
		}
	}
}

// pauseForReview transitions the execution to paused_for_review with a
// rendered review request. No log entry is written until the decision lands.
func (e *Engine) pauseForReview(ctx context.Context, exec model.Execution, def *model.StepDefinition, logger *zap.Logger) (model.Execution, error) {
	snapshot := copyVars(exec.Variables)

	// The review prompt is a display hint; an unresolved variable falls back
	// to the raw template rather than failing the step.
	prompt, err := template.Render(def.ReviewPrompt, snapshot)
	if err != nil {
		prompt = def.ReviewPrompt
	}

	review := &model.ReviewRequest{StepID: def.ID, Prompt: prompt}
	if len(def.ReviewVariables) > 0 {
		rv := make(map[string]any, len(def.ReviewVariables))
		for _, name := range def.ReviewVariables {
			if v, ok := snapshot[name]; ok {
				rv[name] = v
			}
		}
		review.Variables = rv
	}

	exec.Status = model.ExecutionStatusPaused
	exec.Review = review
	if err := e.commit(ctx, &exec, nil); err != nil {
		return exec, err
	}
	logger.Info("execution paused for review", zap.String("step_id", def.ID))
	return exec, nil
}

// resolveFailure applies the step's error policy to a failed attempt. It
// commits the error entry and returns whether the caller should retry the
// same step. A valid fallback step applies once retries are exhausted, for
// any policy action that names one. Budget denials are never retried; a
// configured fallback is the only way they keep the execution alive.
func (e *Engine) resolveFailure(ctx context.Context, pb model.Playbook, exec model.Execution, def *model.StepDefinition, attempt, retries int, entry model.StepLogEntry, stepErr *step.Error, logger *zap.Logger) (model.Execution, bool, error) {
	if attempt <= retries && stepErr.Kind != model.ErrBudgetExceeded {
		if err := e.commit(ctx, &exec, []model.StepLogEntry{entry}); err != nil {
			return exec, false, err
		}
		logger.Warn("step attempt failed, retrying",
			zap.String("step_id", def.ID),
			zap.Int("attempt", attempt),
			zap.String("error_kind", stepErr.Kind),
			zap.String("error", stepErr.Message),
		)
		return exec, true, nil
	}

	policy := def.OnError
	if policy != nil && policy.FallbackStepID != "" && pb.Step(policy.FallbackStepID) != nil {
		exec.CurrentStepID = policy.FallbackStepID
		if err := e.commit(ctx, &exec, []model.StepLogEntry{entry}); err != nil {
			return exec, false, err
		}
		logger.Warn("step failed, routing to fallback",
			zap.String("step_id", def.ID),
			zap.String("fallback_step_id", policy.FallbackStepID),
			zap.String("error_kind", stepErr.Kind),
		)
		return exec, false, nil
	}

	exec, err := e.failExecution(ctx, exec, def.ID, stepErr.Kind, []model.StepLogEntry{entry}, logger)
	return exec, false, err
}

// failExecution transitions the execution to failed and commits it together
// with the final error entries.
func (e *Engine) failExecution(ctx context.Context, exec model.Execution, stepID, reason string, entries []model.StepLogEntry, logger *zap.Logger) (model.Execution, error) {
	now := time.Now().UTC()
	exec.Status = model.ExecutionStatusFailed
	exec.FailureReason = reason
	exec.FailedStepID = stepID
	exec.CurrentStepID = ""
	exec.Review = nil
	exec.CompletedAt = &now
	if err := e.commit(ctx, &exec, entries); err != nil {
		return exec, err
	}
	e.metrics.RecordExecutionCompletion(exec.PlaybookID, exec.Status)
	logger.Warn("execution failed",
		zap.String("failed_step_id", stepID),
		zap.String("failure_reason", reason),
	)
	return exec, nil
}

// setOutput stores a step's extracted value under its output variable.
func (e *Engine) setOutput(exec *model.Execution, def *model.StepDefinition, value any) {
	if def.OutputVariable == "" {
		return
	}
	if exec.Variables == nil {
		exec.Variables = make(map[string]any)
	}
	exec.Variables[def.OutputVariable] = value
}

// advance moves the execution to the next step, or completes it when there is
// none.
func (e *Engine) advance(exec *model.Execution, next string) {
	if next == "" {
		now := time.Now().UTC()
		exec.Status = model.ExecutionStatusCompleted
		exec.CurrentStepID = ""
		exec.CompletedAt = &now
		return
	}
	exec.CurrentStepID = next
}

// noteTerminal records completion metrics and logs when a dispatch finished
// the execution.
func (e *Engine) noteTerminal(pb model.Playbook, exec model.Execution, logger *zap.Logger) {
	if exec.Status != model.ExecutionStatusCompleted {
		return
	}
	e.metrics.RecordExecutionCompletion(pb.ID, exec.Status)
	logger.Info("execution completed", zap.String("execution_id", exec.ID))
}

// newEntry builds a step log entry with size-capped snapshots. Sequence is
// assigned by the store at commit time.
func (e *Engine) newEntry(executionID, stepID string, attempt int, status string, snapshot map[string]any, output string, stepErr *step.Error, started time.Time) model.StepLogEntry {
	entry := model.StepLogEntry{
		ID:             uuid.NewString(),
		ExecutionID:    executionID,
		StepID:         stepID,
		Attempt:        attempt,
		Status:         status,
		InputSnapshot:  model.TruncateSnapshot(marshalSnapshot(snapshot), e.opts.SnapshotByteLimit),
		OutputSnapshot: model.TruncateSnapshot(output, e.opts.SnapshotByteLimit),
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
	}
	if stepErr != nil {
		entry.ErrorKind = stepErr.Kind
		entry.ErrorDetail = stepErr.Message
	}
	return entry
}

// retriesAllowed returns how many extra attempts the policy grants beyond the
// first. Abort policies, and steps without a policy, get none.
func retriesAllowed(policy *model.ErrorPolicy) int {
	if policy == nil || policy.Action == model.OnErrorAbort {
		return 0
	}
	return policy.RetryCount
}

func rejectionDetail(comment string) string {
	if comment == "" {
		return "rejected by reviewer"
	}
	return "rejected by reviewer: " + comment
}

// validateInputs checks the provided inputs against the playbook's declared
// input variables. Unknown names are rejected, not ignored.
func validateInputs(pb model.Playbook, inputs map[string]any) []model.FieldError {
	var details []model.FieldError

	declared := make([]string, 0, len(pb.Inputs))
	for name := range pb.Inputs {
		declared = append(declared, name)
	}
	sort.Strings(declared)

	for _, name := range declared {
		decl := pb.Inputs[name]
		v, ok := inputs[name]
		if !ok {
			if decl.Required {
				details = append(details, model.FieldError{
					Field:   name,
					Code:    "required",
					Message: fmt.Sprintf("input %q is required", name),
				})
			}
			continue
		}
		if !inputTypeMatches(decl.Type, v) {
			details = append(details, model.FieldError{
				Field:   name,
				Code:    "invalid_type",
				Message: fmt.Sprintf("input %q must be of type %s", name, decl.Type),
			})
		}
	}

	var unknown []string
	for name := range inputs {
		if _, ok := pb.Inputs[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		details = append(details, model.FieldError{
			Field:   name,
			Code:    "unknown_input",
			Message: fmt.Sprintf("input %q is not declared by the playbook", name),
		})
	}

	return details
}

// inputTypeMatches checks a provided value against a declared input type.
// Numbers arrive as float64 from JSON but ints are accepted for direct calls.
func inputTypeMatches(declared string, v any) bool {
	switch declared {
	case model.InputTypeText:
		_, ok := v.(string)
		return ok
	case model.InputTypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case model.InputTypeBoolean:
		_, ok := v.(bool)
		return ok
	}
	return true
}

// seedVariables builds the initial variable store from declared inputs only.
func seedVariables(pb model.Playbook, inputs map[string]any) map[string]any {
	declared := make([]string, 0, len(pb.Inputs))
	for name := range pb.Inputs {
		declared = append(declared, name)
	}
	sort.Strings(declared)

	store := vars.New()
	for _, name := range declared {
		if v, ok := inputs[name]; ok {
			store.Set(name, v)
		}
	}
	return store.Snapshot()
}

func copyVars(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func marshalSnapshot(snapshot map[string]any) string {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return ""
	}
	return string(b)
}
