package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/tenantcontext"
)

func (s *Server) GetUsageStats(c *gin.Context) {
	id, err := s.parsedTenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.usageSvc.GetUsageStats(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type resetUsageRequest struct {
	// Value is the counter value after the reset; omitted means 0.
	Value *int64 `json:"value"`
}

// ResetUsage re-anchors the tenant's 30-day window from now. An explicit
// value supports admin corrections; the scheduler path never sets one.
func (s *Server) ResetUsage(c *gin.Context) {
	id, err := s.parsedTenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resetUsageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, newValidationError("value", "invalid_request", "invalid request"))
			return
		}
	}

	ctx := c.Request.Context()
	if req.Value != nil {
		err = s.usageSvc.ResetMonthlyUsageTo(ctx, id, *req.Value)
	} else {
		err = s.usageSvc.ResetMonthlyUsage(ctx, id)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.usageSvc.GetUsageStats(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) parsedTenantID(c *gin.Context) (snowflake.ID, error) {
	parsed, ok := tenantcontext.ParseTenantID(s.tenantID(c))
	if !ok {
		return 0, customerdomain.ErrInvalidID
	}
	return parsed, nil
}
