package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
)

type signupRequest struct {
	DisplayName string `json:"display_name"`
}

func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	created, err := s.customerSvc.Signup(c.Request.Context(), customerdomain.SignupRequest{
		DisplayName: req.DisplayName,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) GetTenant(c *gin.Context) {
	found, err := s.customerSvc.GetByID(c.Request.Context(), customerdomain.GetCustomerRequest{
		ID: s.tenantID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

type changePlanRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("plan", "invalid_request", "invalid request"))
		return
	}

	updated, err := s.customerSvc.ChangePlan(c.Request.Context(), customerdomain.ChangePlanRequest{
		ID:   s.tenantID(c),
		Plan: req.Plan,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

type overrideLimitRequest struct {
	MonthlyLimit int64 `json:"monthly_limit"`
}

func (s *Server) OverrideMonthlyLimit(c *gin.Context) {
	var req overrideLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("monthly_limit", "invalid_request", "invalid request"))
		return
	}

	updated, err := s.customerSvc.OverrideMonthlyLimit(c.Request.Context(), customerdomain.OverrideLimitRequest{
		ID:           s.tenantID(c),
		MonthlyLimit: req.MonthlyLimit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

type storeCredentialRequest struct {
	// APIKey is the tenant's own send-provider key. Empty clears the
	// stored credential. The response never echoes it back.
	APIKey string `json:"api_key"`
}

func (s *Server) StoreSendCredential(c *gin.Context) {
	var req storeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("api_key", "invalid_request", "invalid request"))
		return
	}

	err := s.customerSvc.StoreSendCredential(c.Request.Context(), customerdomain.StoreCredentialRequest{
		ID:           s.tenantID(c),
		PlaintextKey: req.APIKey,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stored": strings.TrimSpace(req.APIKey) != ""})
}

type subscriptionStatusRequest struct {
	Status string `json:"status"`
}

// SetSubscriptionStatus is the hook payment-webhook collaborators call
// when the provider reports a subscription state change.
func (s *Server) SetSubscriptionStatus(c *gin.Context) {
	var req subscriptionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("status", "invalid_request", "invalid request"))
		return
	}

	updated, err := s.customerSvc.SetSubscriptionStatus(c.Request.Context(), customerdomain.SetSubscriptionStatusRequest{
		ID:     s.tenantID(c),
		Status: req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}
