package domainauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Record names the provider uses for the three DNS entries, in the order
// tenants are asked to create them.
const (
	RecordMailCNAME = "mail_cname"
	RecordDKIM1     = "dkim1"
	RecordDKIM2     = "dkim2"
)

// ErrProvider matches any failure talking to the domain-authentication
// provider, transport or API-level.
var ErrProvider = errors.New("domain_provider_error")

// ProviderError carries the provider's own failure detail.
type ProviderError struct {
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "request failed"
	}
	if e.Status > 0 {
		return fmt.Sprintf("domain_provider_error: %s (status %d)", message, e.Status)
	}
	return fmt.Sprintf("domain_provider_error: %s", message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

// DNSRecord is one entry the tenant must create at their DNS host.
type DNSRecord struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Host  string `json:"host"`
	Value string `json:"value"`
	Valid bool   `json:"valid"`
}

// Registration is the provider's answer to a new authentication request.
// Valid is true when the provider validated the domain synchronously.
type Registration struct {
	ReferenceID string
	Records     []DNSRecord
	Valid       bool
}

// RecordResult is the provider's verdict for a single DNS record.
type RecordResult struct {
	Valid  bool
	Reason string
}

// ValidationResult reports one validation poll, keyed by record name.
type ValidationResult struct {
	Valid   bool
	Records map[string]RecordResult
}

// Provider registers sending domains with the external
// domain-authentication API and polls their DNS validation state.
type Provider interface {
	Authenticate(ctx context.Context, domain string) (*Registration, error)
	Validate(ctx context.Context, referenceID string) (*ValidationResult, error)
	Delete(ctx context.Context, referenceID string) error
}
