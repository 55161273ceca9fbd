package fhir

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ResourceNotFoundError is returned when a read or delete targets a resource
// that does not exist.
type ResourceNotFoundError struct {
	ResourceType string
	ID           string
}

func NewResourceNotFound(resourceType, id string) *ResourceNotFoundError {
	return &ResourceNotFoundError{ResourceType: resourceType, ID: id}
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("Could not find %s with Id %s", e.ResourceType, e.ID)
}

// InvalidRequestError reports a client error in the request itself, such as
// mismatched ids or a resource that fails validation. Issues, when present,
// are reported verbatim in the resulting OperationOutcome.
type InvalidRequestError struct {
	Msg    string
	Issues []OperationOutcomeIssue
}

func NewInvalidRequest(format string, args ...interface{}) *InvalidRequestError {
	return &InvalidRequestError{Msg: fmt.Sprintf(format, args...)}
}

func (e *InvalidRequestError) Error() string { return e.Msg }

// MethodNotAllowedError is returned when the interaction is not permitted on
// the target, e.g. updating a resource that does not exist.
type MethodNotAllowedError struct {
	Msg string
}

func NewMethodNotAllowed(format string, args ...interface{}) *MethodNotAllowedError {
	return &MethodNotAllowedError{Msg: fmt.Sprintf(format, args...)}
}

func (e *MethodNotAllowedError) Error() string { return e.Msg }

func IsNotFound(err error) bool {
	var target *ResourceNotFoundError
	return errors.As(err, &target)
}

func IsInvalidRequest(err error) bool {
	var target *InvalidRequestError
	return errors.As(err, &target)
}

func IsMethodNotAllowed(err error) bool {
	var target *MethodNotAllowedError
	return errors.As(err, &target)
}

// StatusCode maps an error to the HTTP status a FHIR server reports for it.
// Transport errors raised by middleware keep their own status.
func StatusCode(err error) int {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &he):
		return he.Code
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidRequest(err):
		return http.StatusBadRequest
	case IsMethodNotAllowed(err):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// OutcomeFor converts an error into the OperationOutcome body returned to clients.
func OutcomeFor(err error) *OperationOutcome {
	var invalid *InvalidRequestError
	if errors.As(err, &invalid) && len(invalid.Issues) > 0 {
		return &OperationOutcome{ResourceType: "OperationOutcome", Issue: invalid.Issues}
	}
	switch {
	case IsNotFound(err):
		return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, err.Error())
	case IsInvalidRequest(err):
		return NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, err.Error())
	case IsMethodNotAllowed(err):
		return NotSupportedOutcome(err.Error())
	case StatusCode(err) == http.StatusRequestEntityTooLarge:
		return NewOperationOutcome(IssueSeverityError, IssueTypeTooCostly, err.Error())
	case StatusCode(err) >= http.StatusInternalServerError:
		// Driver messages name tables and constraints; keep them in the log.
		return InternalErrorOutcome(internalErrorDiagnostics)
	default:
		return NewOperationOutcome(IssueSeverityError, IssueTypeException, err.Error())
	}
}

const internalErrorDiagnostics = "An internal error occurred while processing the request"

// WriteError writes err to the response as an OperationOutcome. Server-side
// failures are logged through the request logger with the full error.
func WriteError(c echo.Context, err error) error {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).
			Str("path", c.Request().URL.Path).
			Msg("request failed")
	}
	return c.JSON(status, OutcomeFor(err))
}
