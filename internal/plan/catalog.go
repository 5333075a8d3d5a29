package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is the subscription level a customer pays for.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierIndie   Tier = "INDIE"
	TierStartup Tier = "STARTUP"
)

// RetentionUnlimited marks a tier whose logs are never pruned.
const RetentionUnlimited = 0

var (
	ErrInvalidPlan    = errors.New("invalid_plan")
	ErrInvalidCatalog = errors.New("invalid_catalog")
)

// Tiers lists every known tier, cheapest first.
func Tiers() []Tier {
	return []Tier{TierFree, TierIndie, TierStartup}
}

// ParseTier normalizes user-supplied plan names.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, nil
	case TierIndie:
		return TierIndie, nil
	case TierStartup:
		return TierStartup, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, s)
	}
}

// Entitlements is what a tier buys. Price is carried in cents to keep
// money integral end to end.
type Entitlements struct {
	MonthlyLimit       int64 `mapstructure:"monthlyLimit"`
	RateLimitPerMinute int   `mapstructure:"rateLimitPerMinute"`
	LogRetentionDays   int   `mapstructure:"logRetentionDays"`
	PriceCents         int64 `mapstructure:"priceCents"`
	UsesOwnCredential  bool  `mapstructure:"usesOwnCredential"`
}

// Catalog is the immutable tier table plus the feature matrix. Reads
// are lock-free; a new Catalog value replaces the old one wholesale on
// config reload.
type Catalog struct {
	version string
	entries map[Tier]Entitlements
	matrix  map[string][]Tier
}

// New validates and freezes a catalog. Every known tier must be present
// with positive limits; a zero monthly limit would later divide usage
// percentages by zero, so it is rejected here, at startup.
func New(version string, entries map[Tier]Entitlements, matrix map[string][]Tier) (Catalog, error) {
	for _, tier := range Tiers() {
		ent, ok := entries[tier]
		if !ok {
			return Catalog{}, fmt.Errorf("%w: missing tier %s", ErrInvalidCatalog, tier)
		}
		if ent.MonthlyLimit <= 0 {
			return Catalog{}, fmt.Errorf("%w: tier %s monthly limit must be positive", ErrInvalidCatalog, tier)
		}
		if ent.RateLimitPerMinute <= 0 {
			return Catalog{}, fmt.Errorf("%w: tier %s rate limit must be positive", ErrInvalidCatalog, tier)
		}
		if ent.LogRetentionDays < 0 {
			return Catalog{}, fmt.Errorf("%w: tier %s retention must be >= 0", ErrInvalidCatalog, tier)
		}
	}

	frozen := make(map[Tier]Entitlements, len(entries))
	for tier, ent := range entries {
		frozen[tier] = ent
	}
	frozenMatrix := make(map[string][]Tier, len(matrix))
	for feature, tiers := range matrix {
		name := strings.TrimSpace(feature)
		if name == "" {
			continue
		}
		frozenMatrix[name] = append([]Tier(nil), tiers...)
	}

	return Catalog{version: version, entries: frozen, matrix: frozenMatrix}, nil
}

// Default is the compiled-in catalog used when no override file exists.
func Default() Catalog {
	c, err := New("builtin", map[Tier]Entitlements{
		TierFree: {
			MonthlyLimit:       100,
			RateLimitPerMinute: 10,
			LogRetentionDays:   7,
			PriceCents:         0,
			UsesOwnCredential:  false,
		},
		TierIndie: {
			MonthlyLimit:       3000,
			RateLimitPerMinute: 60,
			LogRetentionDays:   30,
			PriceCents:         1900,
			UsesOwnCredential:  true,
		},
		TierStartup: {
			MonthlyLimit:       10000,
			RateLimitPerMinute: 120,
			LogRetentionDays:   RetentionUnlimited,
			PriceCents:         4900,
			UsesOwnCredential:  true,
		},
	}, map[string][]Tier{
		"custom_domain":   {TierIndie, TierStartup},
		"priority_queue":  {TierIndie, TierStartup},
		"remove_branding": {TierIndie, TierStartup},
		"dedicated_ip":    {TierStartup},
	})
	if err != nil {
		panic(err)
	}
	return c
}

func (c Catalog) Version() string {
	return c.version
}

// Lookup returns the entitlements for a tier.
func (c Catalog) Lookup(tier Tier) (Entitlements, bool) {
	ent, ok := c.entries[tier]
	return ent, ok
}

// AllowsFeature answers the matrix lookup. Unknown feature names deny;
// the matrix is a closed table, not a rules engine.
func (c Catalog) AllowsFeature(tier Tier, feature string) bool {
	tiers, ok := c.matrix[strings.TrimSpace(feature)]
	if !ok {
		return false
	}
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// KnownFeature reports whether the matrix has any row for the name.
func (c Catalog) KnownFeature(feature string) bool {
	_, ok := c.matrix[strings.TrimSpace(feature)]
	return ok
}
