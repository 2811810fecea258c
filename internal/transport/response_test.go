package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/halcyonix/playbook/model"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error == nil {
		t.Fatalf("error body missing envelope: %s", rec.Body.String())
	}
	return body.Error
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "ex-1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["id"] != "ex-1" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad request", model.NewBadRequestError("nope"), 400, model.ErrBadRequest},
		{"unauthorized", model.NewUnauthorizedError("nope"), 401, model.ErrUnauthorized},
		{"forbidden", model.NewForbiddenError("nope"), 403, model.ErrForbidden},
		{"not found", model.NewNotFoundError("nope"), 404, model.ErrNotFound},
		{"conflict", model.NewConflictError("nope"), 409, model.ErrConflict},
		{"validation", model.NewValidationError([]model.FieldError{{Field: "doc", Code: "required"}}), 422, model.ErrValidationError},
		{"invalid state", model.NewInvalidStateError("nope"), 409, model.ErrInvalidState},
		{"storage", model.NewStorageError("nope"), 500, model.ErrStorageError},
		{"internal", model.NewInternalError(), 500, model.ErrInternalError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
			if envErr := decodeErrorBody(t, rec); envErr.Code != tc.code {
				t.Errorf("code = %q, want %q", envErr.Code, tc.code)
			}
		})
	}
}

func TestWriteError_plainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	envErr := decodeErrorBody(t, rec)
	if envErr.Code != model.ErrInternalError {
		t.Errorf("code = %q", envErr.Code)
	}
}

func TestWriteError_validationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, model.NewValidationError([]model.FieldError{
		{Field: "doc", Code: "required"},
		{Field: "score", Code: "invalid_type"},
	}))

	envErr := decodeErrorBody(t, rec)
	if len(envErr.Details) != 2 {
		t.Fatalf("details = %v", envErr.Details)
	}
	if envErr.Details[0].Field != "doc" || envErr.Details[1].Code != "invalid_type" {
		t.Errorf("details = %v", envErr.Details)
	}
}
