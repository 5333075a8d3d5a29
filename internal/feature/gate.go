package feature

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/plan"
	"go.uber.org/fx"
)

// Gate feature names. custom_domain and priority_queue also live in the
// catalog matrix; send_credential is a stateful check, never a matrix row.
const (
	FeatureSendCredential = "send_credential"
	FeatureCustomDomain   = "custom_domain"
	FeaturePriorityQueue  = "priority_queue"
	FeatureRemoveBranding = "remove_branding"
	FeatureDedicatedIP    = "dedicated_ip"
)

// Denial reasons. Distinct so callers and metrics can tell an upsell
// apart from a misconfiguration.
const (
	ReasonUpgradeRequired     = "upgrade_required"
	ReasonDomainNotConfigured = "domain_not_configured"
	ReasonDomainNotVerified   = "domain_not_verified"
	ReasonCredentialMissing   = "credential_missing"
	ReasonNotAvailable        = "feature_not_available"
)

// ErrPlanRestricted matches every gate denial via errors.Is.
var ErrPlanRestricted = errors.New("plan_restricted")

// RestrictedError is a gate denial. Message is tenant-facing and always
// names the action that would unblock the feature.
type RestrictedError struct {
	Feature string
	Plan    plan.Tier
	Reason  string
	Message string
}

func (e *RestrictedError) Error() string {
	return fmt.Sprintf("plan_restricted: %s", e.Message)
}

func (e *RestrictedError) Unwrap() error {
	return ErrPlanRestricted
}

type Params struct {
	fx.In

	Catalog *config.CatalogHolder
}

// Gate evaluates entitlements against a customer row. Every check is
// pure and fail-closed: unknown plans and unknown features deny.
type Gate struct {
	catalog *config.CatalogHolder
}

func New(p Params) *Gate {
	return &Gate{catalog: p.Catalog}
}

// AssertFeatureAllowed answers the generic check. custom_domain and
// priority_queue route through their stateful variants; everything else
// is an overrides-then-matrix lookup.
func (g *Gate) AssertFeatureAllowed(customer customerdomain.Customer, feature string) error {
	name := strings.TrimSpace(feature)
	switch name {
	case FeatureCustomDomain:
		return g.AssertCustomDomain(customer)
	case FeaturePriorityQueue:
		return g.AssertPriorityQueue(customer)
	}

	if name == "" {
		return &RestrictedError{
			Feature: name,
			Plan:    customer.Plan,
			Reason:  ReasonNotAvailable,
			Message: "feature name is required",
		}
	}
	if customer.HasFeatureOverride(name) {
		return nil
	}

	catalog := g.catalog.Get()
	if catalog.AllowsFeature(customer.Plan, name) {
		return nil
	}
	if catalog.KnownFeature(name) {
		return &RestrictedError{
			Feature: name,
			Plan:    customer.Plan,
			Reason:  ReasonUpgradeRequired,
			Message: fmt.Sprintf("upgrade your plan to use %s", name),
		}
	}
	return &RestrictedError{
		Feature: name,
		Plan:    customer.Plan,
		Reason:  ReasonNotAvailable,
		Message: fmt.Sprintf("feature %q is not available", name),
	}
}

// AssertSendCredential gates the send path on plans that use their own
// provider credential. The caller passes the already-decrypted key; the
// gate never touches the vault.
func (g *Gate) AssertSendCredential(customer customerdomain.Customer, decryptedKey string) error {
	ent, ok := g.catalog.Get().Lookup(customer.Plan)
	if !ok {
		return &RestrictedError{
			Feature: FeatureSendCredential,
			Plan:    customer.Plan,
			Reason:  ReasonNotAvailable,
			Message: fmt.Sprintf("unknown plan %q", customer.Plan),
		}
	}
	if !ent.UsesOwnCredential {
		return nil
	}
	if strings.TrimSpace(decryptedKey) == "" {
		return &RestrictedError{
			Feature: FeatureSendCredential,
			Plan:    customer.Plan,
			Reason:  ReasonCredentialMissing,
			Message: "your plan sends with your own credential: store a provider API key first",
		}
	}
	return nil
}

// AssertCustomDomain allows sending from the tenant's own domain only
// once it is configured and verified. An admin override lifts the plan
// restriction but not the verification requirement.
func (g *Gate) AssertCustomDomain(customer customerdomain.Customer) error {
	allowed := customer.HasFeatureOverride(FeatureCustomDomain) ||
		g.catalog.Get().AllowsFeature(customer.Plan, FeatureCustomDomain)
	if !allowed {
		return &RestrictedError{
			Feature: FeatureCustomDomain,
			Plan:    customer.Plan,
			Reason:  ReasonUpgradeRequired,
			Message: "upgrade your plan to send from a custom domain",
		}
	}
	if customer.SendingDomain == nil || strings.TrimSpace(*customer.SendingDomain) == "" {
		return &RestrictedError{
			Feature: FeatureCustomDomain,
			Plan:    customer.Plan,
			Reason:  ReasonDomainNotConfigured,
			Message: "no sending domain configured: request domain authentication first",
		}
	}
	if !customer.DomainVerified {
		return &RestrictedError{
			Feature: FeatureCustomDomain,
			Plan:    customer.Plan,
			Reason:  ReasonDomainNotVerified,
			Message: "sending domain is pending DNS verification: add the records and re-check",
		}
	}
	return nil
}

// AssertDomainSetupAllowed gates registering a sending domain. Unlike
// AssertCustomDomain it does not require a verified domain yet.
func (g *Gate) AssertDomainSetupAllowed(customer customerdomain.Customer) error {
	if customer.HasFeatureOverride(FeatureCustomDomain) {
		return nil
	}
	if g.catalog.Get().AllowsFeature(customer.Plan, FeatureCustomDomain) {
		return nil
	}
	return &RestrictedError{
		Feature: FeatureCustomDomain,
		Plan:    customer.Plan,
		Reason:  ReasonUpgradeRequired,
		Message: "upgrade your plan to send from a custom domain",
	}
}

func (g *Gate) AssertPriorityQueue(customer customerdomain.Customer) error {
	if customer.HasFeatureOverride(FeaturePriorityQueue) {
		return nil
	}
	if g.catalog.Get().AllowsFeature(customer.Plan, FeaturePriorityQueue) {
		return nil
	}
	return &RestrictedError{
		Feature: FeaturePriorityQueue,
		Plan:    customer.Plan,
		Reason:  ReasonUpgradeRequired,
		Message: "upgrade your plan to use the priority queue",
	}
}

var Module = fx.Module("feature.gate",
	fx.Provide(New),
)
