package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/sendora/internal/domaininspect"
	"github.com/smallbiznis/sendora/internal/providers/domainauth"
)

type RequestDomainRequest struct {
	TenantID string `json:"tenant_id"`
	Domain   string `json:"domain"`
}

type CheckVerificationRequest struct {
	TenantID string
}

type GetStatusRequest struct {
	TenantID string
	// Probe adds live DNS observations and WHOIS intel to the reply.
	Probe bool
}

type RemoveDomainRequest struct {
	TenantID string
}

// DNSInstruction is a provider DNS record plus the description shown in
// setup UIs.
type DNSInstruction struct {
	domainauth.DNSRecord
	Description string `json:"description"`
}

type RegistrationResult struct {
	Status       Status           `json:"status"`
	Domain       string           `json:"domain"`
	Records      []DNSInstruction `json:"records"`
	Instructions string           `json:"instructions"`
}

// VerificationResult reports one validation poll. Records carries the
// provider's per-record verdicts; Probes carries our own resolver's view
// so tenants can see which entry is wrong before propagation finishes.
type VerificationResult struct {
	Status   Status                             `json:"status"`
	Verified bool                               `json:"verified"`
	Records  map[string]domainauth.RecordResult `json:"records,omitempty"`
	Probes   []domaininspect.Observation        `json:"probes,omitempty"`
}

type DomainStatus struct {
	Status      Status                      `json:"status"`
	Domain      string                      `json:"domain,omitempty"`
	Verified    bool                        `json:"verified"`
	RequestedAt *time.Time                  `json:"requestedAt,omitempty"`
	CheckedAt   *time.Time                  `json:"checkedAt,omitempty"`
	VerifiedAt  *time.Time                  `json:"verifiedAt,omitempty"`
	Records     []DNSInstruction            `json:"records,omitempty"`
	Probes      []domaininspect.Observation `json:"probes,omitempty"`
	Intel       *domaininspect.Intel        `json:"intel,omitempty"`
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant_id")
	ErrNoDomain      = errors.New("no_domain_configured")
	ErrDomainTaken   = errors.New("domain_already_verified_by_another_tenant")
)

type Service interface {
	Request(ctx context.Context, req RequestDomainRequest) (*RegistrationResult, error)
	CheckVerification(ctx context.Context, req CheckVerificationRequest) (*VerificationResult, error)
	GetStatus(ctx context.Context, req GetStatusRequest) (*DomainStatus, error)
	RemoveDomain(ctx context.Context, req RemoveDomainRequest) error
}
