package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/c5473c4c/rag-rbac/internal/authz"
)

// Identity headers, normally set by an authenticating reverse proxy.
const (
	HeaderSubjectID   = "X-Subject-ID"
	HeaderSubjectRole = "X-Subject-Role"
)

// identityMiddleware resolves the caller's access context from the
// identity headers and stores it on the request context. Requests with
// missing or unresolvable identities are rejected.
func (s *Server) identityMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		subjectID := c.Request().Header.Get(HeaderSubjectID)
		roleName := c.Request().Header.Get(HeaderSubjectRole)

		if subjectID == "" || roleName == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "identity headers required")
		}

		role, err := authz.ParseRole(roleName)
		if err != nil {
			s.logger.Warn("rejected unknown role",
				zap.String("subject_id", subjectID),
				zap.String("role", roleName),
			)
			return echo.NewHTTPError(http.StatusForbidden, "unknown role")
		}

		access, err := authz.Resolve(role, subjectID)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "access denied")
		}

		ctx := authz.ContextWithAccess(c.Request().Context(), access)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requirePrivileged rejects callers whose resolved role is not
// privileged. It must run after identityMiddleware.
func (s *Server) requirePrivileged(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		access, err := authz.AccessFromContext(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "identity required")
		}
		if access.Role != authz.RolePrivileged {
			return echo.NewHTTPError(http.StatusForbidden, "privileged role required")
		}
		return next(c)
	}
}
