package e2e

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	auditrepository "github.com/smallbiznis/sendora/internal/audit/repository"
	auditservice "github.com/smallbiznis/sendora/internal/audit/service"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	customerrepository "github.com/smallbiznis/sendora/internal/customer/repository"
	customerservice "github.com/smallbiznis/sendora/internal/customer/service"
	"github.com/smallbiznis/sendora/internal/feature"
	"github.com/smallbiznis/sendora/internal/plan"
	"github.com/smallbiznis/sendora/internal/providers/domainauth"
	sendingdomaindomain "github.com/smallbiznis/sendora/internal/sendingdomain/domain"
	sendingdomainrepository "github.com/smallbiznis/sendora/internal/sendingdomain/repository"
	sendingdomainservice "github.com/smallbiznis/sendora/internal/sendingdomain/service"
	usagedomain "github.com/smallbiznis/sendora/internal/usage/domain"
	usagerepository "github.com/smallbiznis/sendora/internal/usage/repository"
	usageservice "github.com/smallbiznis/sendora/internal/usage/service"
	"github.com/smallbiznis/sendora/internal/vault"
	"github.com/smallbiznis/sendora/pkg/db"
)

var lifecycleBase = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

type stack struct {
	conn      *gorm.DB
	clock     *clock.FakeClock
	provider  *domainauth.Fake
	gate      *feature.Gate
	customers customerdomain.Service
	usage     usagedomain.Service
	domains   sendingdomaindomain.Service
	audit     auditdomain.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&customerdomain.Customer{}, &auditdomain.AuditEvent{}))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	fake := clock.NewFakeClock(lifecycleBase)
	provider := domainauth.NewFake()
	holder := config.NewStaticCatalogHolder(plan.Default())
	gate := feature.New(feature.Params{Catalog: holder})

	sealer, err := vault.New(bytes.Repeat([]byte("e"), 32))
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})
	customerSvc := customerservice.New(customerservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Vault:   sealer,
		Catalog: holder,
		Repo:    customerrepository.Provide(),
		Audit:   auditSvc,
	})
	usageSvc := usageservice.NewService(usageservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   fake,
		Catalog: holder,
		Repo:    usagerepository.Provide(),
		Audit:   auditSvc,
	})
	domainSvc := sendingdomainservice.NewService(sendingdomainservice.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     fake,
		Customers: customerrepository.Provide(),
		Repo:      sendingdomainrepository.Provide(),
		Provider:  provider,
		Gate:      gate,
		Audit:     auditSvc,
	})

	return &stack{
		conn:      conn,
		clock:     fake,
		provider:  provider,
		gate:      gate,
		customers: customerSvc,
		usage:     usageSvc,
		domains:   domainSvc,
		audit:     auditSvc,
	}
}

// TestTenantLifecycle walks one tenant from signup through paid
// upgrade, domain verification, metered sending, cycle reset and the
// eventual downgrade back to FREE.
func TestTenantLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	created, err := s.customers.Signup(ctx, customerdomain.SignupRequest{DisplayName: "Nightjar Post"})
	require.NoError(t, err)
	require.Equal(t, plan.TierFree, created.Plan)
	require.EqualValues(t, 100, created.MonthlyLimit)

	id := created.ID.String()

	// FREE tenants cannot bring a domain.
	_, err = s.domains.Request(ctx, sendingdomaindomain.RequestDomainRequest{TenantID: id, Domain: "mail.nightjar.dev"})
	require.ErrorIs(t, err, feature.ErrPlanRestricted)

	upgraded, err := s.customers.ChangePlan(ctx, customerdomain.ChangePlanRequest{ID: id, Plan: "INDIE"})
	require.NoError(t, err)
	require.Equal(t, plan.TierIndie, upgraded.Plan)
	require.EqualValues(t, 3000, upgraded.MonthlyLimit)

	require.NoError(t, s.customers.StoreSendCredential(ctx, customerdomain.StoreCredentialRequest{
		ID:           id,
		PlaintextKey: "SG.lifecycle-key",
	}))
	key, err := s.customers.SendCredential(ctx, customerdomain.GetCustomerRequest{ID: id})
	require.NoError(t, err)
	require.Equal(t, "SG.lifecycle-key", key)

	registration, err := s.domains.Request(ctx, sendingdomaindomain.RequestDomainRequest{TenantID: id, Domain: "mail.nightjar.dev"})
	require.NoError(t, err)
	require.Equal(t, sendingdomaindomain.StatusRequested, registration.Status)
	require.NotEmpty(t, registration.Records)

	// First poll: DNS has not propagated yet.
	pending, err := s.domains.CheckVerification(ctx, sendingdomaindomain.CheckVerificationRequest{TenantID: id})
	require.NoError(t, err)
	require.False(t, pending.Verified)

	for reference := range s.provider.Registered {
		s.provider.Validations[reference] = &domainauth.ValidationResult{Valid: true}
	}
	verified, err := s.domains.CheckVerification(ctx, sendingdomaindomain.CheckVerificationRequest{TenantID: id})
	require.NoError(t, err)
	require.True(t, verified.Verified)
	require.Equal(t, sendingdomaindomain.StatusVerified, verified.Status)

	// The paid tenant now clears both the matrix gate and the
	// bring-your-own-credential gate.
	current, err := s.customers.GetByID(ctx, customerdomain.GetCustomerRequest{ID: id})
	require.NoError(t, err)
	require.NoError(t, s.gate.AssertFeatureAllowed(current, feature.FeatureCustomDomain))
	require.NoError(t, s.gate.AssertSendCredential(current, key))

	// Burn through the cycle allowance.
	require.NoError(t, s.conn.Model(&customerdomain.Customer{}).
		Where("id = ?", created.ID).
		Update("usage_count", 2999).Error)

	stats, charged, err := s.usage.TryCharge(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, charged)
	require.EqualValues(t, 3000, stats.Usage)
	require.EqualValues(t, 0, stats.Remaining)

	_, charged, err = s.usage.TryCharge(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, charged)

	// The cycle ends; the reset sweep reopens the allowance.
	s.clock.Advance(customerdomain.CycleDuration + time.Hour)
	swept, err := s.usage.SweepDueResets(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	stats, err = s.usage.GetUsageStats(ctx, created.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Usage)
	require.EqualValues(t, 3000, stats.Remaining)

	// Payment lapses; the downgrade sweep lands the tenant back on FREE.
	_, err = s.customers.SetSubscriptionStatus(ctx, customerdomain.SetSubscriptionStatusRequest{ID: id, Status: "EXPIRED"})
	require.NoError(t, err)

	downgraded, err := s.usage.SweepDowngrades(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, 1, downgraded)

	after, err := s.customers.GetByID(ctx, customerdomain.GetCustomerRequest{ID: id})
	require.NoError(t, err)
	require.Equal(t, plan.TierFree, after.Plan)
	require.EqualValues(t, 100, after.MonthlyLimit)
	require.NotNil(t, after.PreviousPlan)
	require.Equal(t, plan.TierIndie, *after.PreviousPlan)

	// The whole journey left a trail.
	trail, err := s.audit.List(ctx, auditdomain.ListEventsRequest{CustomerID: id})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, event := range trail.Events {
		seen[event.Action] = true
	}
	require.True(t, seen[auditdomain.ActionPlanChanged])
	require.True(t, seen[auditdomain.ActionDomainVerified])
	require.True(t, seen[auditdomain.ActionPlanDowngraded])
}

// TestSharedCredentialFallback covers the FREE path: no stored key and
// sends ride the operator credential, but only within the plan limit.
func TestSharedCredentialFallback(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	created, err := s.customers.Signup(ctx, customerdomain.SignupRequest{DisplayName: "Tiny List"})
	require.NoError(t, err)

	key, err := s.customers.SendCredential(ctx, customerdomain.GetCustomerRequest{ID: created.ID.String()})
	require.NoError(t, err)
	require.Empty(t, key)

	require.NoError(t, s.gate.AssertSendCredential(created, "operator-shared-key"))

	for i := 0; i < int(created.MonthlyLimit); i++ {
		_, charged, err := s.usage.TryCharge(ctx, created.ID)
		require.NoError(t, err)
		require.True(t, charged)
	}
	_, charged, err := s.usage.TryCharge(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, charged)
}
