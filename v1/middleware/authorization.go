package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	sharedutils "github.com/gov-dx-sandbox/access-broker/shared/utils"
	"github.com/gov-dx-sandbox/access-broker/v1/models"
	authutils "github.com/gov-dx-sandbox/access-broker/v1/utils"
)

// AuthorizationConfig configures the authorization middleware behavior
type AuthorizationConfig struct {
	// Mode defines the behavior when no explicit permission is defined for an endpoint
	Mode models.AuthorizationMode

	// StrictMode when true, logs warnings about undefined endpoints
	StrictMode bool
}

// AuthorizationMiddleware provides role-based access control for the request API
type AuthorizationMiddleware struct {
	config AuthorizationConfig
}

// NewAuthorizationMiddleware creates an authorization middleware with the default configuration
func NewAuthorizationMiddleware() *AuthorizationMiddleware {
	return NewAuthorizationMiddlewareWithConfig(AuthorizationConfig{
		Mode:       models.AuthorizationModeFailOpenAdminSystem,
		StrictMode: false,
	})
}

// NewAuthorizationMiddlewareWithConfig creates an authorization middleware with a custom configuration
func NewAuthorizationMiddlewareWithConfig(config AuthorizationConfig) *AuthorizationMiddleware {
	return &AuthorizationMiddleware{config: config}
}

// AuthorizeRequest returns a middleware function that checks user permissions for endpoints
func (a *AuthorizationMiddleware) AuthorizeRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.shouldSkipAuthorization(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// The JWT middleware runs first and populates the context
		user, err := authutils.RequireAuthentication(r)
		if err != nil {
			slog.Warn("Authorization failed: user not authenticated", "path", r.URL.Path, "method", r.Method, "error", err)
			sharedutils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		endpointPermission, found := authutils.FindEndpointPermission(r.Method, r.URL.Path)
		if !found {
			if a.handleUndefinedEndpoint(w, r, user) {
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !user.HasPermission(endpointPermission.Permission) {
			slog.Warn("Access denied: insufficient permissions",
				"user", user.Username,
				"role", user.GetPrimaryRole(),
				"required_permission", endpointPermission.Permission,
				"path", r.URL.Path,
				"method", r.Method)
			sharedutils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole returns a middleware that requires a specific role
func (a *AuthorizationMiddleware) RequireRole(requiredRole models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := authutils.RequireRole(r, requiredRole)
			if err != nil {
				slog.Warn("Role requirement not met",
					"required_role", requiredRole,
					"path", r.URL.Path,
					"method", r.Method,
					"error", err)
				sharedutils.RespondWithError(w, http.StatusForbidden, "Insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole returns a middleware that requires any of the specified roles
func (a *AuthorizationMiddleware) RequireAnyRole(requiredRoles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := authutils.RequireAnyRole(r, requiredRoles...)
			if err != nil {
				roleNames := make([]string, len(requiredRoles))
				for i, role := range requiredRoles {
					roleNames[i] = role.String()
				}
				slog.Warn("Role requirement not met",
					"required_roles", strings.Join(roleNames, ", "),
					"path", r.URL.Path,
					"method", r.Method,
					"error", err)
				sharedutils.RespondWithError(w, http.StatusForbidden, "Insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdminRole is a convenience middleware that requires the admin role
func (a *AuthorizationMiddleware) RequireAdminRole() func(http.Handler) http.Handler {
	return a.RequireRole(models.RoleAdmin)
}

// RequireAdminOrSystemRole requires either the admin or the system role
func (a *AuthorizationMiddleware) RequireAdminOrSystemRole() func(http.Handler) http.Handler {
	return a.RequireAnyRole(models.RoleAdmin, models.RoleSystem)
}

// handleUndefinedEndpoint applies the configured mode for endpoints with no
// explicit permission mapping. Returns true if a response was already sent.
func (a *AuthorizationMiddleware) handleUndefinedEndpoint(w http.ResponseWriter, r *http.Request, user *models.AuthenticatedUser) bool {
	if a.config.StrictMode {
		slog.Warn("SECURITY: Undefined endpoint accessed - consider adding explicit permission mapping",
			"user", user.Username,
			"role", user.GetPrimaryRole(),
			"path", r.URL.Path,
			"method", r.Method,
			"mode", a.config.Mode)
	}

	switch a.config.Mode {
	case models.AuthorizationModeFailClosed:
		slog.Warn("Access denied to undefined endpoint (fail-closed mode)",
			"user", user.Username, "path", r.URL.Path, "method", r.Method)
		sharedutils.RespondWithError(w, http.StatusForbidden, "Endpoint access not explicitly permitted")
		return true

	case models.AuthorizationModeFailOpenAdmin:
		if user.IsAdmin() {
			return false
		}
		slog.Warn("Access denied to undefined endpoint (admin-only mode)",
			"user", user.Username, "path", r.URL.Path, "method", r.Method)
		sharedutils.RespondWithError(w, http.StatusForbidden, "Administrative access required")
		return true

	case models.AuthorizationModeFailOpenAdminSystem:
		if user.IsAdmin() || user.IsSystem() {
			return false
		}
		slog.Warn("Access denied to undefined endpoint (admin/system mode)",
			"user", user.Username, "path", r.URL.Path, "method", r.Method)
		sharedutils.RespondWithError(w, http.StatusForbidden, "Administrative or system access required")
		return true

	default:
		slog.Error("Invalid authorization mode, defaulting to fail-closed",
			"mode", a.config.Mode, "path", r.URL.Path, "method", r.Method)
		sharedutils.RespondWithError(w, http.StatusForbidden, "Access denied")
		return true
	}
}

// shouldSkipAuthorization determines if authorization should be skipped for this path
func (a *AuthorizationMiddleware) shouldSkipAuthorization(path string) bool {
	skipPaths := []string{
		"/health",
		"/metrics",
		"/favicon.ico",
	}

	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// GetUserFromRequest is a helper to extract the authenticated user from request context
func GetUserFromRequest(r *http.Request) (*models.AuthenticatedUser, error) {
	return authutils.GetAuthenticatedUser(r.Context())
}

// GetAuthContextFromRequest is a helper to extract the auth context from request context
func GetAuthContextFromRequest(r *http.Request) (*models.AuthContext, error) {
	return authutils.GetAuthContext(r.Context())
}
