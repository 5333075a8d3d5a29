package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/internal/clock"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/domaininspect"
	"github.com/smallbiznis/sendora/internal/feature"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	"github.com/smallbiznis/sendora/internal/providers/domainauth"
	"github.com/smallbiznis/sendora/internal/sendingdomain/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const setupInstructions = "Create each record at your DNS host exactly as shown. " +
	"Changes usually propagate within 15-60 minutes; re-check verification once they do."

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Customers customerdomain.Repository
	Repo      domain.Repository
	Provider  domainauth.Provider
	Gate      *feature.Gate
	Inspector *domaininspect.Inspector `optional:"true"`
	Audit     auditdomain.Service
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	customers customerdomain.Repository
	repo      domain.Repository
	provider  domainauth.Provider
	gate      *feature.Gate
	inspector *domaininspect.Inspector
	audit     auditdomain.Service
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("sendingdomain.service"),
		clock:     p.Clock,
		customers: p.Customers,
		repo:      p.Repo,
		provider:  p.Provider,
		gate:      p.Gate,
		inspector: p.Inspector,
		audit:     p.Audit,
		metrics:   p.Metrics,
	}
}

func (s *Service) Request(ctx context.Context, req domain.RequestDomainRequest) (*domain.RegistrationResult, error) {
	customer, err := s.loadCustomer(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.AssertDomainSetupAllowed(*customer); err != nil {
		return nil, err
	}
	hostname, err := domain.NormalizeHostname(req.Domain)
	if err != nil {
		return nil, err
	}

	taken, err := s.repo.VerifiedHolderExists(ctx, s.db, hostname, customer.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrDomainTaken
	}

	s.cleanupStaleRegistration(ctx, customer, hostname)

	registration, err := s.provider.Authenticate(ctx, hostname)
	if err != nil {
		s.metrics.RecordDomainVerification(ctx, "provider_error")
		return nil, err
	}

	encoded, err := json.Marshal(registration.Records)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	params := domain.RegistrationParams{
		Domain:      hostname,
		ProviderID:  registration.ReferenceID,
		DNSRecords:  datatypes.JSON(encoded),
		RequestedAt: now,
		Verified:    registration.Valid,
		UpdatedAt:   now,
	}
	if registration.Valid {
		params.VerifiedAt = &now
	}
	rows, err := s.repo.SaveRegistration(ctx, s.db, customer.ID, params)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, customerdomain.ErrCustomerNotFound
	}

	status := domain.StatusRequested
	outcome := "requested"
	if registration.Valid {
		status = domain.StatusVerified
		outcome = "verified"
	}
	s.log.Info("sending domain registered",
		zap.String("customer_id", customer.ID.String()),
		zap.String("domain", hostname),
		zap.String("provider_id", registration.ReferenceID),
		zap.Bool("valid", registration.Valid),
	)
	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: customer.ID,
		Action:     auditdomain.ActionDomainRequested,
		Metadata: map[string]any{
			"domain":      hostname,
			"provider_id": registration.ReferenceID,
			"valid":       registration.Valid,
		},
	})
	s.metrics.RecordDomainVerification(ctx, outcome)

	return &domain.RegistrationResult{
		Status:       status,
		Domain:       hostname,
		Records:      describeRecords(registration.Records),
		Instructions: setupInstructions,
	}, nil
}

func (s *Service) CheckVerification(ctx context.Context, req domain.CheckVerificationRequest) (*domain.VerificationResult, error) {
	customer, err := s.loadCustomer(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if customer.DomainProviderID == nil || strings.TrimSpace(*customer.DomainProviderID) == "" {
		return nil, domain.ErrNoDomain
	}

	result, err := s.provider.Validate(ctx, *customer.DomainProviderID)
	if err != nil {
		s.metrics.RecordDomainVerification(ctx, "provider_error")
		return nil, err
	}

	now := s.clock.Now()
	if result.Valid {
		if !customer.DomainVerified {
			if _, err := s.repo.MarkVerified(ctx, s.db, customer.ID, now); err != nil {
				return nil, err
			}
			s.log.Info("sending domain verified",
				zap.String("customer_id", customer.ID.String()),
				zap.Stringp("domain", customer.SendingDomain),
			)
			s.audit.Record(ctx, auditdomain.Event{
				CustomerID: customer.ID,
				Action:     auditdomain.ActionDomainVerified,
				Metadata:   map[string]any{"domain": deref(customer.SendingDomain)},
			})
			s.metrics.RecordDomainVerification(ctx, "verified")
		} else if _, err := s.repo.MarkChecked(ctx, s.db, customer.ID, now); err != nil {
			return nil, err
		}
		return &domain.VerificationResult{Status: domain.StatusVerified, Verified: true}, nil
	}

	if _, err := s.repo.MarkChecked(ctx, s.db, customer.ID, now); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: customer.ID,
		Action:     auditdomain.ActionDomainChecked,
		Metadata: map[string]any{
			"domain": deref(customer.SendingDomain),
			"valid":  false,
		},
	})
	s.metrics.RecordDomainVerification(ctx, "pending")

	return &domain.VerificationResult{
		Status:   domain.StatusPending,
		Verified: false,
		Records:  result.Records,
		Probes:   s.probeRecords(ctx, customer),
	}, nil
}

func (s *Service) GetStatus(ctx context.Context, req domain.GetStatusRequest) (*domain.DomainStatus, error) {
	customer, err := s.loadCustomer(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	status := domain.DeriveStatus(customer)
	out := &domain.DomainStatus{Status: status}
	if status == domain.StatusNone {
		return out, nil
	}

	out.Domain = deref(customer.SendingDomain)
	out.Verified = customer.DomainVerified
	out.RequestedAt = customer.DomainRequestedAt
	out.CheckedAt = customer.DomainCheckedAt
	out.VerifiedAt = customer.DomainVerifiedAt
	out.Records = describeRecords(s.storedRecords(customer))

	if req.Probe && s.inspector != nil {
		out.Probes = s.probeRecords(ctx, customer)
		intel, err := s.inspector.DomainIntel(ctx, out.Domain)
		if err != nil {
			s.log.Debug("whois probe failed",
				zap.String("domain", out.Domain),
				zap.Error(err),
			)
		} else {
			out.Intel = intel
		}
	}
	return out, nil
}

func (s *Service) RemoveDomain(ctx context.Context, req domain.RemoveDomainRequest) error {
	customer, err := s.loadCustomer(ctx, req.TenantID)
	if err != nil {
		return err
	}
	if domain.DeriveStatus(customer) == domain.StatusNone {
		return domain.ErrNoDomain
	}

	if customer.DomainProviderID != nil && strings.TrimSpace(*customer.DomainProviderID) != "" {
		if err := s.provider.Delete(ctx, *customer.DomainProviderID); err != nil {
			s.log.Warn("failed to delete domain registration",
				zap.String("customer_id", customer.ID.String()),
				zap.String("provider_id", *customer.DomainProviderID),
				zap.Error(err),
			)
		}
	}

	now := s.clock.Now()
	if _, err := s.repo.ClearDomain(ctx, s.db, customer.ID, now); err != nil {
		return err
	}
	s.log.Info("sending domain removed",
		zap.String("customer_id", customer.ID.String()),
		zap.Stringp("domain", customer.SendingDomain),
	)
	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: customer.ID,
		Action:     auditdomain.ActionDomainRemoved,
		Metadata:   map[string]any{"domain": deref(customer.SendingDomain)},
	})
	s.metrics.RecordDomainVerification(ctx, "removed")
	return nil
}

// cleanupStaleRegistration best-effort deletes a previous registration for
// a different hostname. Stale provider entries are acceptable collateral;
// blocking the tenant is not.
func (s *Service) cleanupStaleRegistration(ctx context.Context, customer *customerdomain.Customer, hostname string) {
	if customer.DomainProviderID == nil || strings.TrimSpace(*customer.DomainProviderID) == "" {
		return
	}
	if customer.SendingDomain != nil && strings.EqualFold(*customer.SendingDomain, hostname) {
		return
	}
	if err := s.provider.Delete(ctx, *customer.DomainProviderID); err != nil {
		s.log.Warn("failed to delete stale domain registration",
			zap.String("customer_id", customer.ID.String()),
			zap.String("provider_id", *customer.DomainProviderID),
			zap.Error(err),
		)
	}
}

func (s *Service) probeRecords(ctx context.Context, customer *customerdomain.Customer) []domaininspect.Observation {
	if s.inspector == nil {
		return nil
	}
	records := s.storedRecords(customer)
	if len(records) == 0 {
		return nil
	}
	return s.inspector.InspectRecords(ctx, records)
}

func (s *Service) storedRecords(customer *customerdomain.Customer) []domainauth.DNSRecord {
	if len(customer.DomainDNSRecords) == 0 {
		return nil
	}
	var records []domainauth.DNSRecord
	if err := json.Unmarshal(customer.DomainDNSRecords, &records); err != nil {
		s.log.Debug("stored dns records unreadable",
			zap.String("customer_id", customer.ID.String()),
			zap.Error(err),
		)
		return nil
	}
	return records
}

func (s *Service) loadCustomer(ctx context.Context, tenantID string) (*customerdomain.Customer, error) {
	raw := strings.TrimSpace(tenantID)
	if raw == "" {
		return nil, domain.ErrInvalidTenant
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, domain.ErrInvalidTenant
	}
	customer, err := s.customers.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, customerdomain.ErrCustomerNotFound
	}
	return customer, nil
}

func describeRecords(records []domainauth.DNSRecord) []domain.DNSInstruction {
	instructions := make([]domain.DNSInstruction, 0, len(records))
	for _, record := range records {
		instructions = append(instructions, domain.DNSInstruction{
			DNSRecord:   record,
			Description: describe(record.Name),
		})
	}
	return instructions
}

func describe(name string) string {
	switch name {
	case domainauth.RecordMailCNAME:
		return "Routes bounce and open-tracking mail through the sending infrastructure"
	case domainauth.RecordDKIM1:
		return "First DKIM signing key"
	case domainauth.RecordDKIM2:
		return "Second DKIM signing key"
	default:
		return "Required for domain authentication"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
