package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	usagedomain "github.com/smallbiznis/sendora/internal/usage/domain"
)

type authorizeSendResponse struct {
	Authorized bool              `json:"authorized"`
	Reason     string            `json:"reason,omitempty"`
	RetryAfter int64             `json:"retry_after_seconds,omitempty"`
	Usage      *usagedomain.Stats `json:"usage,omitempty"`
}

// AuthorizeSend is the send path: per-minute rate limit first, then one
// unit charged against the monthly quota. A 200 means exactly one send
// was charged; 429 means nothing was.
func (s *Server) AuthorizeSend(c *gin.Context) {
	id, err := s.parsedTenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	tenant, err := s.customerSvc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: s.tenantID(c)})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.sendLimiter.Allow(ctx, tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		retryAfter := int64(decision.RetryAfter / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.JSON(http.StatusTooManyRequests, authorizeSendResponse{
			Authorized: false,
			Reason:     "rate_limited",
			RetryAfter: retryAfter,
		})
		return
	}

	stats, charged, err := s.usageSvc.TryCharge(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !charged {
		s.obsMetrics.RecordSendDenied(ctx, string(tenant.Plan), "monthly_limit_exceeded")
		c.JSON(http.StatusTooManyRequests, authorizeSendResponse{
			Authorized: false,
			Reason:     "monthly_limit_exceeded",
			Usage:      &stats,
		})
		return
	}

	c.JSON(http.StatusOK, authorizeSendResponse{
		Authorized: true,
		Usage:      &stats,
	})
}
