package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	auditrepository "github.com/smallbiznis/sendora/internal/audit/repository"
	auditservice "github.com/smallbiznis/sendora/internal/audit/service"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	customerrepository "github.com/smallbiznis/sendora/internal/customer/repository"
	"github.com/smallbiznis/sendora/internal/feature"
	"github.com/smallbiznis/sendora/internal/plan"
	"github.com/smallbiznis/sendora/internal/providers/domainauth"
	"github.com/smallbiznis/sendora/internal/sendingdomain/domain"
	"github.com/smallbiznis/sendora/internal/sendingdomain/repository"
	"github.com/smallbiznis/sendora/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testBase = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestWorkflow(t *testing.T) (domain.Service, *gorm.DB, *domainauth.Fake, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&customerdomain.Customer{}, &auditdomain.AuditEvent{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	fake := clock.NewFakeClock(testBase)
	provider := domainauth.NewFake()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     fake,
		Customers: customerrepository.Provide(),
		Repo:      repository.Provide(),
		Provider:  provider,
		Gate:      feature.New(feature.Params{Catalog: config.NewStaticCatalogHolder(plan.Default())}),
		Audit:     auditSvc,
	})
	return svc, conn, provider, fake
}

func seedCustomer(t *testing.T, conn *gorm.DB, c customerdomain.Customer) customerdomain.Customer {
	t.Helper()
	if c.Slug == "" {
		c.Slug = fmt.Sprintf("tenant-%d", c.ID)
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Slug
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = customerdomain.SubscriptionActive
	}
	if c.UsageResetAt.IsZero() {
		c.UsageResetAt = testBase.Add(customerdomain.CycleDuration)
	}
	if c.BillingCycleStartAt.IsZero() {
		c.BillingCycleStartAt = testBase
	}
	require.NoError(t, conn.Create(&c).Error)
	return c
}

func fetchCustomer(t *testing.T, conn *gorm.DB, id snowflake.ID) customerdomain.Customer {
	t.Helper()
	var c customerdomain.Customer
	require.NoError(t, conn.First(&c, "id = ?", id).Error)
	return c
}

func countAudit(t *testing.T, conn *gorm.DB, action string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&auditdomain.AuditEvent{}).Where("action = ?", action).Count(&count).Error)
	return count
}

func strPtr(s string) *string {
	return &s
}

func TestRequestRegistersDomain(t *testing.T) {
	svc, conn, provider, fake := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4001, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	result, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(),
		Domain:   "  Mail.Acme.DEV ",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRequested, result.Status)
	require.Equal(t, "mail.acme.dev", result.Domain)
	require.NotEmpty(t, result.Instructions)
	require.Len(t, result.Records, 3)
	require.Equal(t, domainauth.RecordMailCNAME, result.Records[0].Name)
	for _, record := range result.Records {
		require.NotEmpty(t, record.Description)
		require.NotEmpty(t, record.Host)
		require.NotEmpty(t, record.Value)
	}

	after := fetchCustomer(t, conn, tenant.ID)
	require.NotNil(t, after.SendingDomain)
	require.Equal(t, "mail.acme.dev", *after.SendingDomain)
	require.NotNil(t, after.DomainProviderID)
	require.Equal(t, "ref-1", *after.DomainProviderID)
	require.False(t, after.DomainVerified)
	require.NotNil(t, after.DomainRequestedAt)
	require.WithinDuration(t, fake.Now(), *after.DomainRequestedAt, time.Second)
	require.Nil(t, after.DomainCheckedAt)
	require.Nil(t, after.DomainVerifiedAt)
	require.NotEmpty(t, after.DomainDNSRecords)

	require.Equal(t, "mail.acme.dev", provider.Registered["ref-1"])
	require.EqualValues(t, 1, countAudit(t, conn, auditdomain.ActionDomainRequested))
}

func TestRequestDeniedForFreePlan(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4002, Plan: plan.TierFree, MonthlyLimit: 100, IsActive: true,
	})

	_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(),
		Domain:   "mail.acme.dev",
	})
	require.ErrorIs(t, err, feature.ErrPlanRestricted)
	require.Empty(t, provider.Registered)
}

func TestRequestRejectsMalformedHostnames(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4003, Plan: plan.TierStartup, MonthlyLimit: 10000, IsActive: true,
	})

	hostnames := []string{
		"",
		"acme",
		"-mail.acme.dev",
		"mail-.acme.dev",
		"mail..acme.dev",
		"ma_il.acme.dev",
		strings.Repeat("a", 64) + ".acme.dev",
		strings.TrimSuffix(strings.Repeat("ab.", 100), ".") + ".dev",
	}
	for _, hostname := range hostnames {
		_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
			TenantID: tenant.ID.String(),
			Domain:   hostname,
		})
		require.ErrorIs(t, err, domain.ErrInvalidDomain, "hostname %q", hostname)
	}
	require.Empty(t, provider.Registered)
}

func TestRequestConflictsOnVerifiedHolder(t *testing.T) {
	svc, conn, _, _ := newTestWorkflow(t)
	seedCustomer(t, conn, customerdomain.Customer{
		ID: 4004, Plan: plan.TierStartup, MonthlyLimit: 10000, IsActive: true,
		SendingDomain: strPtr("mail.acme.dev"), DomainVerified: true,
		DomainProviderID: strPtr("ref-held"),
	})
	seedCustomer(t, conn, customerdomain.Customer{
		ID: 4005, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
		SendingDomain: strPtr("news.acme.dev"), DomainVerified: false,
		DomainProviderID: strPtr("ref-unverified"),
	})
	requester := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4006, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: requester.ID.String(),
		Domain:   "mail.acme.dev",
	})
	require.ErrorIs(t, err, domain.ErrDomainTaken)

	// An unverified registration elsewhere does not block the hostname.
	_, err = svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: requester.ID.String(),
		Domain:   "news.acme.dev",
	})
	require.NoError(t, err)
}

func TestRequestReplacesPriorRegistration(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4007, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
		SendingDomain: strPtr("old.acme.dev"), DomainProviderID: strPtr("ref-old"),
	})

	result, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(),
		Domain:   "mail.acme.dev",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRequested, result.Status)
	require.Contains(t, provider.Deleted, "ref-old")

	after := fetchCustomer(t, conn, tenant.ID)
	require.Equal(t, "mail.acme.dev", *after.SendingDomain)
	require.Equal(t, "ref-1", *after.DomainProviderID)
}

func TestRequestSurvivesStaleDeleteFailure(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4008, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
		SendingDomain: strPtr("old.acme.dev"), DomainProviderID: strPtr("ref-old"),
	})
	provider.DeleteErr = &domainauth.ProviderError{Status: 502, Message: "backend down"}

	_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(),
		Domain:   "mail.acme.dev",
	})
	require.NoError(t, err)
	require.Equal(t, "mail.acme.dev", *fetchCustomer(t, conn, tenant.ID).SendingDomain)
}

func TestRequestSameDomainReRegisters(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4009, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(), Domain: "mail.acme.dev",
	})
	require.NoError(t, err)

	// A failed poll moves the registration from requested to pending.
	_, err = svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	status, err := svc.GetStatus(context.Background(), domain.GetStatusRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, status.Status)

	// Re-requesting the same hostname re-registers and starts over.
	_, err = svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(), Domain: "mail.acme.dev",
	})
	require.NoError(t, err)
	require.Empty(t, provider.Deleted)

	after := fetchCustomer(t, conn, tenant.ID)
	require.Equal(t, "ref-2", *after.DomainProviderID)
	require.Nil(t, after.DomainCheckedAt)

	status, err = svc.GetStatus(context.Background(), domain.GetStatusRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRequested, status.Status)
}

func TestRequestAcceptsSynchronousValidation(t *testing.T) {
	svc, conn, provider, fake := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4010, Plan: plan.TierStartup, MonthlyLimit: 10000, IsActive: true,
	})
	provider.ValidNow = true

	result, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(), Domain: "mail.acme.dev",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusVerified, result.Status)

	after := fetchCustomer(t, conn, tenant.ID)
	require.True(t, after.DomainVerified)
	require.NotNil(t, after.DomainVerifiedAt)
	require.WithinDuration(t, fake.Now(), *after.DomainVerifiedAt, time.Second)
}

func TestCheckVerificationFlipsOnValid(t *testing.T) {
	svc, conn, provider, fake := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4011, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(), Domain: "mail.acme.dev",
	})
	require.NoError(t, err)

	fake.Advance(45 * time.Minute)
	provider.Validations["ref-1"] = &domainauth.ValidationResult{Valid: true}

	result, err := svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusVerified, result.Status)
	require.True(t, result.Verified)

	after := fetchCustomer(t, conn, tenant.ID)
	require.True(t, after.DomainVerified)
	require.NotNil(t, after.DomainVerifiedAt)
	require.WithinDuration(t, fake.Now(), *after.DomainVerifiedAt, time.Second)
	require.EqualValues(t, 1, countAudit(t, conn, auditdomain.ActionDomainVerified))

	// Re-polling an already-verified domain stays verified and does not
	// audit a second flip.
	result, err = svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.EqualValues(t, 1, countAudit(t, conn, auditdomain.ActionDomainVerified))
}

func TestCheckVerificationReportsRecordDetail(t *testing.T) {
	svc, conn, _, fake := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4012, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(), Domain: "mail.acme.dev",
	})
	require.NoError(t, err)

	result, err := svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, result.Status)
	require.False(t, result.Verified)
	require.False(t, result.Records[domainauth.RecordMailCNAME].Valid)
	require.NotEmpty(t, result.Records[domainauth.RecordMailCNAME].Reason)

	after := fetchCustomer(t, conn, tenant.ID)
	require.NotNil(t, after.DomainCheckedAt)
	require.WithinDuration(t, fake.Now(), *after.DomainCheckedAt, time.Second)
	require.False(t, after.DomainVerified)
	require.EqualValues(t, 1, countAudit(t, conn, auditdomain.ActionDomainChecked))
}

func TestCheckVerificationWithoutRegistration(t *testing.T) {
	svc, conn, _, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4013, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	_, err := svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.ErrorIs(t, err, domain.ErrNoDomain)

	_, err = svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: "999999"})
	require.ErrorIs(t, err, customerdomain.ErrCustomerNotFound)

	_, err = svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: "not-a-number"})
	require.ErrorIs(t, err, domain.ErrInvalidTenant)
}

func TestCheckVerificationProviderOutage(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4014, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	_, err := svc.Request(context.Background(), domain.RequestDomainRequest{
		TenantID: tenant.ID.String(), Domain: "mail.acme.dev",
	})
	require.NoError(t, err)

	provider.ValidateErr = &domainauth.ProviderError{Status: 503, Message: "try again later"}
	_, err = svc.CheckVerification(context.Background(), domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.ErrorIs(t, err, domainauth.ErrProvider)

	// The outage leaves the registration untouched; the tenant can re-poll.
	after := fetchCustomer(t, conn, tenant.ID)
	require.Nil(t, after.DomainCheckedAt)
	require.False(t, after.DomainVerified)
}

func TestGetStatusLifecycle(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4015, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})
	ctx := context.Background()

	status, err := svc.GetStatus(ctx, domain.GetStatusRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusNone, status.Status)
	require.Empty(t, status.Domain)

	_, err = svc.Request(ctx, domain.RequestDomainRequest{TenantID: tenant.ID.String(), Domain: "mail.acme.dev"})
	require.NoError(t, err)
	status, err = svc.GetStatus(ctx, domain.GetStatusRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRequested, status.Status)
	require.Equal(t, "mail.acme.dev", status.Domain)
	require.NotNil(t, status.RequestedAt)
	require.Len(t, status.Records, 3)
	require.NotEmpty(t, status.Records[0].Description)

	_, err = svc.CheckVerification(ctx, domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	status, err = svc.GetStatus(ctx, domain.GetStatusRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, status.Status)
	require.NotNil(t, status.CheckedAt)

	provider.Validations["ref-1"] = &domainauth.ValidationResult{Valid: true}
	_, err = svc.CheckVerification(ctx, domain.CheckVerificationRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	status, err = svc.GetStatus(ctx, domain.GetStatusRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusVerified, status.Status)
	require.True(t, status.Verified)
	require.NotNil(t, status.VerifiedAt)
}

func TestRemoveDomainClearsState(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4016, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})
	ctx := context.Background()

	_, err := svc.Request(ctx, domain.RequestDomainRequest{TenantID: tenant.ID.String(), Domain: "mail.acme.dev"})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveDomain(ctx, domain.RemoveDomainRequest{TenantID: tenant.ID.String()}))
	require.Contains(t, provider.Deleted, "ref-1")

	after := fetchCustomer(t, conn, tenant.ID)
	require.Nil(t, after.SendingDomain)
	require.Nil(t, after.DomainProviderID)
	require.False(t, after.DomainVerified)
	require.Nil(t, after.DomainRequestedAt)
	require.Nil(t, after.DomainCheckedAt)
	require.Nil(t, after.DomainVerifiedAt)
	require.Empty(t, after.DomainDNSRecords)
	require.EqualValues(t, 1, countAudit(t, conn, auditdomain.ActionDomainRemoved))

	status, err := svc.GetStatus(ctx, domain.GetStatusRequest{TenantID: tenant.ID.String()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusNone, status.Status)

	require.ErrorIs(t, svc.RemoveDomain(ctx, domain.RemoveDomainRequest{TenantID: tenant.ID.String()}), domain.ErrNoDomain)
}

func TestRemoveDomainSurvivesProviderFailure(t *testing.T) {
	svc, conn, provider, _ := newTestWorkflow(t)
	tenant := seedCustomer(t, conn, customerdomain.Customer{
		ID: 4017, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})
	ctx := context.Background()

	_, err := svc.Request(ctx, domain.RequestDomainRequest{TenantID: tenant.ID.String(), Domain: "mail.acme.dev"})
	require.NoError(t, err)

	provider.DeleteErr = &domainauth.ProviderError{Status: 500, Message: "boom"}
	require.NoError(t, svc.RemoveDomain(ctx, domain.RemoveDomainRequest{TenantID: tenant.ID.String()}))
	require.Nil(t, fetchCustomer(t, conn, tenant.ID).SendingDomain)
}
