package auth

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey     contextKey = "user_id"
	UserRolesKey  contextKey = "user_roles"
	UserScopesKey contextKey = "user_scopes"
)

// Claims carries the identity of the caller. Scope holds space-separated
// SMART scopes as issued by most authorization servers; FHIRScopes is the
// array form.
type Claims struct {
	jwt.RegisteredClaims
	TenantID   string   `json:"tenant_id"`
	Roles      []string `json:"roles"`
	Scope      string   `json:"scope,omitempty"`
	FHIRScopes []string `json:"fhir_scopes,omitempty"`
}

// scopes merges both scope claims.
func (c *Claims) scopes() []string {
	out := append([]string{}, c.FHIRScopes...)
	return append(out, strings.Fields(c.Scope)...)
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// PublicKey verifies RS256 tokens.
	PublicKey *rsa.PublicKey
	// SigningKey verifies HS256 tokens; development and tests only.
	SigningKey []byte
}

func (cfg JWTConfig) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA:
		if cfg.PublicKey != nil {
			return cfg.PublicKey, nil
		}
	case *jwt.SigningMethodHMAC:
		if len(cfg.SigningKey) > 0 {
			return cfg.SigningKey, nil
		}
	}
	return nil, jwt.ErrTokenUnverifiable
}

// JWTMiddleware validates the bearer token and publishes its claims on the
// request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, cfg.keyFunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("jwt_tenant_id", claims.TenantID)
			c.SetRequest(c.Request().WithContext(withIdentity(c.Request().Context(), claims.Subject, claims.Roles, claims.scopes())))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin with
// full scopes. It must only be installed when ENV=development.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := withIdentity(c.Request().Context(), "dev-user", []string{"admin"}, []string{"user/*.*"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func withIdentity(ctx context.Context, userID string, roles, scopes []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	return context.WithValue(ctx, UserScopesKey, scopes)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(UserScopesKey).([]string)
	return scopes
}
