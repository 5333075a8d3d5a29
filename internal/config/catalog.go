package config

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/sendora/internal/plan"
	"github.com/spf13/viper"
)

// CatalogHolder serves the current plan catalog and feature matrix.
// The compiled-in defaults apply when no override file exists; when a
// file is present it is watched and swapped in atomically on change.
// An invalid file never replaces a valid snapshot: startup fails, a
// reload is ignored with a log line.
type CatalogHolder struct {
	current atomic.Value // holds plan.Catalog
}

type catalogFile struct {
	Version  string                       `mapstructure:"version"`
	Plans    map[string]plan.Entitlements `mapstructure:"plans"`
	Features map[string][]string          `mapstructure:"features"`
}

func NewCatalogHolder() (*CatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/sendora/config") // Volume-mounted config
	v.AddConfigPath("/etc/sendora")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("SENDORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(plan.Default())
		return holder, nil
	}

	catalog, err := buildCatalog(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := buildCatalog(v)
		if err != nil {
			log.Printf("[catalog-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[catalog-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticCatalogHolder wraps a fixed catalog; used by tests.
func NewStaticCatalogHolder(c plan.Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(c)
	return holder
}

func (h *CatalogHolder) Get() plan.Catalog {
	return h.current.Load().(plan.Catalog)
}

func buildCatalog(v *viper.Viper) (plan.Catalog, error) {
	var file catalogFile
	if err := v.Unmarshal(&file); err != nil {
		return plan.Catalog{}, err
	}

	// Start from the builtin table so a partial file only overrides
	// what it names.
	defaults := plan.Default()
	entries := map[plan.Tier]plan.Entitlements{}
	for _, tier := range []plan.Tier{plan.TierFree, plan.TierIndie, plan.TierStartup} {
		ent, _ := defaults.Lookup(tier)
		entries[tier] = ent
	}
	for name, ent := range file.Plans {
		tier, err := plan.ParseTier(name)
		if err != nil {
			return plan.Catalog{}, fmt.Errorf("catalog plans: %w", err)
		}
		entries[tier] = ent
	}

	matrix := map[string][]plan.Tier{}
	if len(file.Features) == 0 {
		for _, feature := range []string{"custom_domain", "priority_queue", "remove_branding", "dedicated_ip"} {
			for _, tier := range []plan.Tier{plan.TierFree, plan.TierIndie, plan.TierStartup} {
				if defaults.AllowsFeature(tier, feature) {
					matrix[feature] = append(matrix[feature], tier)
				}
			}
		}
	} else {
		for feature, tierNames := range file.Features {
			for _, name := range tierNames {
				tier, err := plan.ParseTier(name)
				if err != nil {
					return plan.Catalog{}, fmt.Errorf("catalog features[%s]: %w", feature, err)
				}
				matrix[feature] = append(matrix[feature], tier)
			}
		}
	}

	version := strings.TrimSpace(file.Version)
	if version == "" {
		version = "file"
	}
	return plan.New(version, entries, matrix)
}
