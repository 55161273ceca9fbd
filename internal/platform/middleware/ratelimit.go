package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/auth"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// ExpiresIn drops idle visitors from the store.
	ExpiresIn time.Duration
	Skipper   echomw.Skipper
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		ExpiresIn:         3 * time.Minute,
	}
}

// RateLimit limits requests per caller with an in-memory token bucket store.
// Authenticated callers are keyed by user id, anonymous ones by client IP.
// Rejections are a 429 throttled OperationOutcome with a Retry-After header.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimitConfig().RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond)
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = DefaultRateLimitConfig().ExpiresIn
	}
	skipper := cfg.Skipper
	if skipper == nil {
		skipper = echomw.DefaultSkipper
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	retryAfter := strconv.Itoa(int(1/cfg.RequestsPerSecond) + 1)

	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.ExpiresIn,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: skipper,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		Store:               store,
		IdentifierExtractor: rateLimitKey,
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, fhir.NewOperationOutcome(
				fhir.IssueSeverityError, fhir.IssueTypeForbidden, "unable to identify caller",
			))
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			c.Response().Header().Set("X-RateLimit-Remaining", "0")
			return c.JSON(http.StatusTooManyRequests, fhir.NewOperationOutcome(
				fhir.IssueSeverityError, fhir.IssueTypeThrottled, "rate limit exceeded",
			))
		},
	})
}

func rateLimitKey(c echo.Context) (string, error) {
	if userID := auth.UserIDFromContext(c.Request().Context()); userID != "" {
		if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
			return "user:" + tenantID + ":" + userID, nil
		}
		return "user:" + userID, nil
	}
	return "ip:" + c.RealIP(), nil
}
