package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/pkg/db/pagination"
)

type listAuditEventsQuery struct {
	pagination.Pagination
	Action  string `form:"action"`
	Actor   string `form:"actor"`
	StartAt string `form:"start_at"`
	EndAt   string `form:"end_at"`
}

func (s *Server) ListAuditEvents(c *gin.Context) {
	var query listAuditEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("query", "invalid_request", "invalid request"))
		return
	}

	req := auditdomain.ListEventsRequest{
		Pagination: query.Pagination,
		CustomerID: s.tenantID(c),
		Action:     query.Action,
		ActorType:  query.Actor,
	}

	if query.StartAt != "" {
		parsed, err := time.Parse(time.RFC3339, query.StartAt)
		if err != nil {
			AbortWithError(c, newValidationError("start_at", "invalid_time", "must be RFC 3339"))
			return
		}
		req.StartAt = &parsed
	}
	if query.EndAt != "" {
		parsed, err := time.Parse(time.RFC3339, query.EndAt)
		if err != nil {
			AbortWithError(c, newValidationError("end_at", "invalid_time", "must be RFC 3339"))
			return
		}
		req.EndAt = &parsed
	}

	events, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}
