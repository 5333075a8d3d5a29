package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	sendingdomaindomain "github.com/smallbiznis/sendora/internal/sendingdomain/domain"
)

type requestDomainBody struct {
	Domain string `json:"domain"`
}

func (s *Server) RequestSendingDomain(c *gin.Context) {
	var req requestDomainBody
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("domain", "invalid_request", "invalid request"))
		return
	}

	result, err := s.domainSvc.Request(c.Request.Context(), sendingdomaindomain.RequestDomainRequest{
		TenantID: s.tenantID(c),
		Domain:   req.Domain,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// CheckSendingDomain is the poll endpoint tenants hit after creating
// their DNS records. Safe to call indefinitely; it never re-registers.
func (s *Server) CheckSendingDomain(c *gin.Context) {
	result, err := s.domainSvc.CheckVerification(c.Request.Context(), sendingdomaindomain.CheckVerificationRequest{
		TenantID: s.tenantID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) GetSendingDomain(c *gin.Context) {
	probe := strings.EqualFold(strings.TrimSpace(c.Query("probe")), "true")

	status, err := s.domainSvc.GetStatus(c.Request.Context(), sendingdomaindomain.GetStatusRequest{
		TenantID: s.tenantID(c),
		Probe:    probe,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) RemoveSendingDomain(c *gin.Context) {
	err := s.domainSvc.RemoveDomain(c.Request.Context(), sendingdomaindomain.RemoveDomainRequest{
		TenantID: s.tenantID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(sendingdomaindomain.StatusNone)})
}
