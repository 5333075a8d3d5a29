package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/feature"
	"github.com/smallbiznis/sendora/internal/providers/domainauth"
	"github.com/smallbiznis/sendora/internal/tenantcontext"
)

const contextTenantIDKey = "tenant_id"

// TenantContext lifts the tenant id path parameter into the request
// context so audit rows and log lines carry it without every handler
// re-parsing the param.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Param("tenant_id"))
		if raw == "" {
			AbortWithError(c, customerdomain.ErrInvalidID)
			return
		}

		ctx := c.Request.Context()
		ctx = tenantcontext.WithActor(ctx, actorType(c), raw)
		if id, ok := tenantcontext.ParseTenantID(raw); ok {
			ctx = tenantcontext.WithTenantID(ctx, int64(id))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextTenantIDKey, raw)
		c.Next()
	}
}

// actorType attributes mutations: callers acting on a tenant's behalf
// pass X-Actor: admin|tenant; everything else is recorded as system.
func actorType(c *gin.Context) string {
	switch strings.ToLower(strings.TrimSpace(c.GetHeader("X-Actor"))) {
	case "admin":
		return "admin"
	case "tenant":
		return "tenant"
	default:
		return "system"
	}
}

func (s *Server) tenantID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("tenant_id"))
}

// classifyErrorForLog keeps expected taxonomy failures out of
// error-level request logs. The returned pair feeds the error_type and
// error_code log fields.
func classifyErrorForLog(err error) (string, string) {
	var restricted *feature.RestrictedError
	switch {
	case err == nil:
		return "", ""
	case errors.As(err, &restricted):
		return "plan_restricted", restricted.Reason
	case errors.Is(err, domainauth.ErrProvider):
		return "external_error", "domain_provider_error"
	case isConflictError(err):
		return "conflict", err.Error()
	case isNotFoundError(err):
		return "not_found", err.Error()
	case isValidationError(err):
		return "validation_error", validationErrorCode(err)
	default:
		return "internal_error", "internal_error"
	}
}
