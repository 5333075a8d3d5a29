package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/feature"
)

type checkFeatureRequest struct {
	Feature string `json:"feature"`
}

type checkFeatureResponse struct {
	Feature string `json:"feature"`
	Plan    string `json:"plan"`
	Allowed bool   `json:"allowed"`
}

// CheckFeature answers "may this tenant do X right now". Denials map to
// 403 with the upgrade message; callers treat any non-200 as a deny.
func (s *Server) CheckFeature(c *gin.Context) {
	var req checkFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("feature", "invalid_request", "invalid request"))
		return
	}
	c.Set("feature", strings.TrimSpace(req.Feature))

	ctx := c.Request.Context()
	tenant, err := s.customerSvc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: s.tenantID(c)})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.obsMetrics.RecordFeatureCheck(ctx, req.Feature, string(tenant.Plan))

	var gateErr error
	if req.Feature == feature.FeatureSendCredential {
		// The stateful credential check needs the decrypted key; the
		// gate itself never touches the vault.
		key, err := s.customerSvc.SendCredential(ctx, customerdomain.GetCustomerRequest{ID: s.tenantID(c)})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if key == "" && s.sendsOnSharedCredential(tenant) {
			key = s.cfg.SharedSendCredential
		}
		gateErr = s.gate.AssertSendCredential(tenant, key)
	} else {
		gateErr = s.gate.AssertFeatureAllowed(tenant, req.Feature)
	}
	if gateErr != nil {
		var restricted *feature.RestrictedError
		if errors.As(gateErr, &restricted) {
			s.obsMetrics.RecordFeatureDenial(ctx, req.Feature, restricted.Reason)
		}
		AbortWithError(c, gateErr)
		return
	}

	c.JSON(http.StatusOK, checkFeatureResponse{
		Feature: strings.TrimSpace(req.Feature),
		Plan:    string(tenant.Plan),
		Allowed: true,
	})
}

// sendsOnSharedCredential reports whether the tenant's plan rides the
// operator-owned key. Paid tiers must present their own credential, so
// the shared key never substitutes for a missing paid-tier key.
func (s *Server) sendsOnSharedCredential(tenant customerdomain.Customer) bool {
	ent, ok := s.catalog.Get().Lookup(tenant.Plan)
	return ok && !ent.UsesOwnCredential
}
