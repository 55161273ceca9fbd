package fhir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NewResourceNotFound("MedicationRequest", "x"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("get: %w", NewResourceNotFound("MedicationRequest", "x")), http.StatusNotFound},
		{"invalid", NewInvalidRequest("bad %s", "id"), http.StatusBadRequest},
		{"method not allowed", NewMethodNotAllowed("nope"), http.StatusMethodNotAllowed},
		{"other", errors.New("db down"), http.StatusInternalServerError},
		{"http error", fmt.Errorf("read body: %w", echo.NewHTTPError(http.StatusRequestEntityTooLarge)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestResourceNotFoundError_Message(t *testing.T) {
	err := NewResourceNotFound("MedicationRequest", "abc")
	if err.Error() != "Could not find MedicationRequest with Id abc" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestOutcomeFor(t *testing.T) {
	if oo := OutcomeFor(NewResourceNotFound("MedicationRequest", "x")); oo.Issue[0].Code != IssueTypeNotFound {
		t.Errorf("expected not-found, got %s", oo.Issue[0].Code)
	}
	if oo := OutcomeFor(NewMethodNotAllowed("x")); oo.Issue[0].Code != IssueTypeNotSupported {
		t.Errorf("expected not-supported, got %s", oo.Issue[0].Code)
	}
	if oo := OutcomeFor(echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too large")); oo.Issue[0].Code != IssueTypeTooCostly {
		t.Errorf("expected too-costly, got %s", oo.Issue[0].Code)
	}
	if oo := OutcomeFor(errors.New("x")); oo.Issue[0].Code != IssueTypeException {
		t.Errorf("expected exception, got %s", oo.Issue[0].Code)
	}

	issues := []OperationOutcomeIssue{{Severity: IssueSeverityError, Code: IssueTypeInvariant}, {Severity: IssueSeverityError, Code: IssueTypeInvariant}}
	oo := OutcomeFor(&InvalidRequestError{Msg: "invalid", Issues: issues})
	if len(oo.Issue) != 2 || oo.Issue[0].Code != IssueTypeInvariant {
		t.Errorf("expected carried issues, got %+v", oo.Issue)
	}
}

func TestWriteError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := WriteError(c, NewInvalidRequest("id mismatch")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var oo OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &oo); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if oo.ResourceType != "OperationOutcome" || oo.Issue[0].Diagnostics != "id mismatch" {
		t.Errorf("unexpected outcome: %+v", oo)
	}
}

func TestWriteError_InternalErrorHidesCause(t *testing.T) {
	cause := fmt.Errorf("create medication request: %w",
		errors.New(`ERROR: duplicate key value violates unique constraint "medication_request_fhir_id_key" (SQLSTATE 23505)`))

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/fhir/MedicationRequest", nil)
	req = req.WithContext(logger.WithContext(req.Context()))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := WriteError(c, cause); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "medication_request_fhir_id_key") {
		t.Errorf("expected driver message to stay out of the response, got %s", rec.Body.String())
	}
	var oo OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &oo); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if oo.Issue[0].Code != IssueTypeException || oo.Issue[0].Diagnostics != internalErrorDiagnostics {
		t.Errorf("unexpected outcome: %+v", oo.Issue[0])
	}
	if !strings.Contains(logs.String(), "medication_request_fhir_id_key") || !strings.Contains(logs.String(), `"level":"error"`) {
		t.Errorf("expected the cause in an error log line, got %s", logs.String())
	}
}

func TestWriteError_ClientErrorNotLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logger.WithContext(req.Context()))
	c := e.NewContext(req, httptest.NewRecorder())

	if err := WriteError(c, NewResourceNotFound("MedicationRequest", "x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs.Len() != 0 {
		t.Errorf("expected no log output, got %s", logs.String())
	}
}
