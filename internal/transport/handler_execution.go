package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halcyonix/playbook/model"
)

const maxRequestBody = 1 << 20

type startRequest struct {
	Inputs map[string]any `json:"inputs"`
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

type executionListResponse struct {
	Executions []model.ExecutionSummary `json:"executions"`
	Total      int                      `json:"total"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
}

type historyResponse struct {
	Entries []model.StepLogEntry `json:"entries"`
}

// startExecution handles POST /v1/playbooks/{playbookId}/executions.
func (h *handlers) startExecution(w http.ResponseWriter, r *http.Request) {
	playbookID := chi.URLParam(r, "playbookId")
	if playbookID == "" {
		WriteBadRequest(w, "Missing playbook ID")
		return
	}

	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return
	}

	exec, err := h.engine.Start(r.Context(), playbookID, req.Inputs)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, exec)
}

// getExecution handles GET /v1/executions/{executionId}.
func (h *handlers) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.GetExecution(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

// listStepHistory handles GET /v1/executions/{executionId}/history.
func (h *handlers) listStepHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.ListStepHistory(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []model.StepLogEntry{}
	}
	WriteJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

// listExecutions handles GET /v1/executions.
func (h *handlers) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.ExecutionFilters{
		PlaybookID: q.Get("playbook_id"),
		Status:     q.Get("status"),
	}

	var err error
	if filters.Page, err = queryInt(q.Get("page")); err != nil {
		WriteBadRequest(w, "Invalid page parameter")
		return
	}
	if filters.PageSize, err = queryInt(q.Get("page_size")); err != nil {
		WriteBadRequest(w, "Invalid page_size parameter")
		return
	}

	execs, total, err := h.engine.ListExecutions(r.Context(), filters)
	if err != nil {
		WriteError(w, err)
		return
	}

	summaries := make([]model.ExecutionSummary, 0, len(execs))
	for _, exec := range execs {
		summaries = append(summaries, h.summarize(exec))
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	WriteJSON(w, http.StatusOK, executionListResponse{
		Executions: summaries,
		Total:      total,
		Page:       page,
		PageSize:   filters.PageSize,
	})
}

// submitReview handles POST /v1/executions/{executionId}/review.
func (h *handlers) submitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return
	}

	exec, err := h.engine.SubmitReview(r.Context(), chi.URLParam(r, "executionId"), req.Decision, req.Comment)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

// cancelExecution handles POST /v1/executions/{executionId}/cancel.
func (h *handlers) cancelExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

func (h *handlers) summarize(exec model.Execution) model.ExecutionSummary {
	name := exec.PlaybookID
	if pb, ok := h.catalog.GetPlaybook(exec.PlaybookID); ok {
		name = pb.Name
	}
	return model.ExecutionSummary{
		ID:            exec.ID,
		PlaybookID:    exec.PlaybookID,
		PlaybookName:  name,
		UserID:        exec.UserID,
		Status:        exec.Status,
		CurrentStepID: exec.CurrentStepID,
		StartedAt:     exec.StartedAt,
		UpdatedAt:     exec.UpdatedAt,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
