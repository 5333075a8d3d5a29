package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	"github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/plan"
	"github.com/smallbiznis/sendora/internal/vault"
	"github.com/smallbiznis/sendora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// slugAttempts bounds the numeric-suffix probe before falling back to the
// snowflake id, which is unique by construction.
const slugAttempts = 25

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Vault   *vault.Vault
	Catalog *config.CatalogHolder
	Repo    domain.Repository
	Audit   auditdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	vault   *vault.Vault
	catalog *config.CatalogHolder
	repo    domain.Repository
	audit   auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("customer.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		vault:   p.Vault,
		catalog: p.Catalog,
		repo:    p.Repo,
		audit:   p.Audit,
	}
}

func (s *Service) Signup(ctx context.Context, req domain.SignupRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}
	base := slug.Make(name)
	if base == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}

	id := s.genID.Generate()

	candidate := base
	for n := 2; ; n++ {
		exists, err := s.repo.SlugExists(ctx, s.db, candidate)
		if err != nil {
			return domain.Customer{}, err
		}
		if !exists {
			break
		}
		if n > slugAttempts {
			candidate = fmt.Sprintf("%s-%s", base, id.String())
			break
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}

	ent, ok := s.catalog.Get().Lookup(plan.TierFree)
	if !ok {
		return domain.Customer{}, plan.ErrInvalidCatalog
	}

	now := s.clock.Now()
	customer := domain.Customer{
		ID:                  id,
		Slug:                candidate,
		DisplayName:         name,
		Plan:                plan.TierFree,
		MonthlyLimit:        ent.MonthlyLimit,
		UsageCount:          0,
		UsageResetAt:        now.Add(domain.CycleDuration),
		BillingCycleStartAt: now,
		IsActive:            true,
		SubscriptionStatus:  domain.SubscriptionActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Insert(ctx, s.db, &customer); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Customer{}, domain.ErrSlugTaken
		}
		return domain.Customer{}, err
	}

	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: customer.ID,
		Action:     auditdomain.ActionCustomerCreated,
		Metadata: map[string]any{
			"slug": customer.Slug,
			"plan": string(customer.Plan),
		},
	})

	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetCustomerRequest) (domain.Customer, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Customer{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return *item, nil
}

func (s *Service) GetBySlug(ctx context.Context, req domain.GetBySlugRequest) (domain.Customer, error) {
	value := strings.TrimSpace(req.Slug)
	if value == "" {
		return domain.Customer{}, domain.ErrInvalidSlug
	}

	item, err := s.repo.FindBySlug(ctx, s.db, value)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return *item, nil
}

func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (domain.Customer, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	tier, err := plan.ParseTier(req.Plan)
	if err != nil {
		return domain.Customer{}, err
	}

	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if current == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	if current.Plan == tier {
		return *current, nil
	}

	ent, ok := s.catalog.Get().Lookup(tier)
	if !ok {
		return domain.Customer{}, plan.ErrInvalidPlan
	}

	status := current.SubscriptionStatus
	if current.Plan == plan.TierFree && tier != plan.TierFree {
		status = domain.SubscriptionActive
	}

	change := domain.PlanChange{
		Plan:               tier,
		PreviousPlan:       current.Plan,
		MonthlyLimit:       ent.MonthlyLimit,
		SubscriptionStatus: status,
		UpdatedAt:          s.clock.Now(),
	}
	rows, err := s.repo.UpdatePlan(ctx, s.db, id, change)
	if err != nil {
		return domain.Customer{}, err
	}
	if rows == 0 {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: id,
		Action:     auditdomain.ActionPlanChanged,
		Metadata: map[string]any{
			"from":          string(current.Plan),
			"to":            string(tier),
			"monthly_limit": ent.MonthlyLimit,
		},
	})

	previous := current.Plan
	current.PreviousPlan = &previous
	current.Plan = tier
	current.MonthlyLimit = ent.MonthlyLimit
	current.SubscriptionStatus = status
	current.UpdatedAt = change.UpdatedAt
	return *current, nil
}

func (s *Service) OverrideMonthlyLimit(ctx context.Context, req domain.OverrideLimitRequest) (domain.Customer, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	if req.MonthlyLimit <= 0 {
		return domain.Customer{}, domain.ErrInvalidLimit
	}

	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if current == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	now := s.clock.Now()
	rows, err := s.repo.UpdateMonthlyLimit(ctx, s.db, id, req.MonthlyLimit, now)
	if err != nil {
		return domain.Customer{}, err
	}
	if rows == 0 {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: id,
		Action:     auditdomain.ActionLimitOverridden,
		Metadata: map[string]any{
			"old_limit": current.MonthlyLimit,
			"new_limit": req.MonthlyLimit,
		},
	})

	current.MonthlyLimit = req.MonthlyLimit
	current.UpdatedAt = now
	return *current, nil
}

func (s *Service) StoreSendCredential(ctx context.Context, req domain.StoreCredentialRequest) error {
	id, err := s.parseID(req.ID)
	if err != nil {
		return err
	}

	now := s.clock.Now()

	if req.PlaintextKey == "" {
		rows, err := s.repo.UpdateSendCredential(ctx, s.db, id, nil, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrCustomerNotFound
		}
		s.audit.Record(ctx, auditdomain.Event{
			CustomerID: id,
			Action:     auditdomain.ActionCredentialCleared,
		})
		return nil
	}

	token, err := s.vault.Encrypt(req.PlaintextKey)
	if err != nil {
		return err
	}

	rows, err := s.repo.UpdateSendCredential(ctx, s.db, id, &token, now)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrCustomerNotFound
	}

	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: id,
		Action:     auditdomain.ActionCredentialStored,
		Metadata: map[string]any{
			"api_key": req.PlaintextKey,
		},
	})
	return nil
}

func (s *Service) SendCredential(ctx context.Context, req domain.GetCustomerRequest) (string, error) {
	customer, err := s.GetByID(ctx, req)
	if err != nil {
		return "", err
	}
	if customer.SendgridAPIKey == nil || *customer.SendgridAPIKey == "" {
		return "", nil
	}
	return s.vault.Decrypt(*customer.SendgridAPIKey)
}

func (s *Service) SetSubscriptionStatus(ctx context.Context, req domain.SetSubscriptionStatusRequest) (domain.Customer, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	status, err := domain.ParseSubscriptionStatus(req.Status)
	if err != nil {
		return domain.Customer{}, err
	}

	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if current == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	now := s.clock.Now()
	rows, err := s.repo.UpdateSubscriptionStatus(ctx, s.db, id, status, now)
	if err != nil {
		return domain.Customer{}, err
	}
	if rows == 0 {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: id,
		Action:     auditdomain.ActionSubscriptionStatus,
		Metadata: map[string]any{
			"from": string(current.SubscriptionStatus),
			"to":   string(status),
		},
	})

	current.SubscriptionStatus = status
	current.UpdatedAt = now
	return *current, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
