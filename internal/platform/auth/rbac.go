package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == "admin" {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireScope checks SMART on FHIR scopes of the form
// "<context>/<Resource>.<read|write|*>", e.g. "user/MedicationRequest.read".
func RequireScope(resource, operation string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, scope := range ScopesFromContext(c.Request().Context()) {
				if matchScope(scope, resource, operation) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required scope: %s.%s", resource, operation))
		}
	}
}

func matchScope(granted, resource, operation string) bool {
	ctxPart, rest, ok := strings.Cut(granted, "/")
	if !ok {
		return false
	}
	switch ctxPart {
	case "user", "patient", "system":
	default:
		return false
	}
	gRes, gOp, ok := strings.Cut(rest, ".")
	if !ok {
		return false
	}
	return (gRes == "*" || gRes == resource) && (gOp == "*" || gOp == operation)
}
