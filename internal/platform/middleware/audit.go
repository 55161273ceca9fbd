package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/auth"
)

// AuditEntry records who performed which FHIR interaction on what.
type AuditEntry struct {
	UserID       string
	UserRoles    []string
	TenantID     string
	ResourceType string
	ResourceID   string
	Interaction  string // read, search-type, create, update, delete
	Method       string
	Path         string
	IPAddress    string
	RequestID    string
	StatusCode   int
	Timestamp    time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs one "resource_access" line for every request under /fhir/ and
// /api/v1/, after the handler has run, and hands the entry to each recorder.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			entry.TenantID, _ = c.Get("tenant_id").(string)
			entry.RequestID, _ = c.Get("request_id").(string)
			var op string
			entry.ResourceType, entry.ResourceID, op = splitResourcePath(req.URL.Path)
			entry.Interaction = interaction(req.Method, entry.ResourceID, op)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("tenant_id", entry.TenantID).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("interaction", entry.Interaction).
				Int("status", entry.StatusCode).
				Msg("resource_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/fhir/") || strings.HasPrefix(path, "/api/v1/")
}

// splitResourcePath splits paths such as /fhir/MedicationRequest/123 into
// type and id. A second segment starting with _ or $ is an operation.
func splitResourcePath(path string) (resourceType, id, op string) {
	rest := strings.TrimPrefix(strings.TrimPrefix(path, "/fhir/"), "/api/v1/")
	segments := strings.Split(rest, "/")
	resourceType = segments[0]
	if resourceType == "" {
		resourceType = "unknown"
	}
	if len(segments) > 1 {
		if strings.HasPrefix(segments[1], "_") || strings.HasPrefix(segments[1], "$") {
			op = segments[1]
		} else {
			id = segments[1]
		}
	}
	return resourceType, id, op
}

func interaction(method, id, op string) string {
	switch {
	case op == "_search":
		return "search-type"
	case op != "":
		return "operation"
	}
	switch method {
	case http.MethodPost:
		if id == "" {
			return "create"
		}
		return "operation"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	if id == "" {
		return "search-type"
	}
	return "read"
}
