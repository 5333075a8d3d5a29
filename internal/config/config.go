package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// CredentialKey protects tenant provider keys at rest. Must be
	// exactly 32 bytes; the vault refuses to start otherwise.
	CredentialKey string

	// SharedSendCredential is the operator-owned provider key FREE
	// tenants send with when they have no credential of their own.
	SharedSendCredential string

	DomainAuth DomainAuthConfig
	RateLimit  RateLimitConfig
	Scheduler  SchedulerConfig
	Cloud      CloudConfig
	Bootstrap  BootstrapConfig
}

// DomainAuthConfig points at the external domain-authentication provider.
type DomainAuthConfig struct {
	BaseURL string
	APIKey  string
	// MaxRequestsPerSecond throttles our own calls to the provider.
	MaxRequestsPerSecond float64
	Burst                int
}

// RateLimitConfig configures the Redis-backed send limiter and the
// scheduler job leases.
type RateLimitConfig struct {
	Enabled          bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	LeaseTTLSeconds  int
	FailOpenOnOutage bool
}

// SchedulerConfig carries the env-tunable scheduler knobs. An empty
// EnabledJobs list runs every job (monolith mode); a worker that should
// only sweep resets lists just that job.
type SchedulerConfig struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	EnabledJobs []string
}

type CloudConfig struct {
	OrganizationID   string
	OrganizationName string
	Metrics          CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	AuthToken    string
	PushInterval time.Duration
}

type BootstrapConfig struct {
	SeedDemoTenant bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	mode := normalizeMode(getenv("APP_MODE", ModeOSS))
	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "sendora"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Mode:        mode,
		Environment: environment,

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "sendora"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),

		CredentialKey:        getenv("CREDENTIAL_ENCRYPTION_KEY", ""),
		SharedSendCredential: strings.TrimSpace(getenv("SHARED_SEND_CREDENTIAL", "")),

		DomainAuth: DomainAuthConfig{
			BaseURL:              strings.TrimRight(getenv("DOMAIN_AUTH_BASE_URL", "https://api.sendgrid.com"), "/"),
			APIKey:               strings.TrimSpace(getenv("DOMAIN_AUTH_API_KEY", "")),
			MaxRequestsPerSecond: getenvFloat("DOMAIN_AUTH_MAX_RPS", 5),
			Burst:                int(getenvInt64("DOMAIN_AUTH_BURST", 5)),
		},

		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:        strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:    getenv("REDIS_PASSWORD", ""),
			RedisDB:          int(getenvInt64("REDIS_DB", 0)),
			LeaseTTLSeconds:  int(getenvInt64("SCHEDULER_LEASE_TTL_SECONDS", 120)),
			FailOpenOnOutage: getenvBool("RATE_LIMIT_FAIL_OPEN", true),
		},

		Scheduler: SchedulerConfig{
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:   int(getenvInt64("SCHEDULER_BATCH_SIZE", 50)),
			JobTimeout:  getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Second),
			EnabledJobs: getenvList("SCHEDULER_ENABLED_JOBS"),
		},

		Cloud: CloudConfig{
			OrganizationID:   strings.TrimSpace(getenv("CLOUD_ORGANIZATION_ID", "")),
			OrganizationName: getenv("CLOUD_ORGANIZATION_NAME", ""),
			Metrics: CloudMetricsConfig{
				Enabled:      getenvBool("CLOUD_METRICS_ENABLED", true),
				Exporter:     strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:     strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken:    strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
				PushInterval: getenvDuration("CLOUD_METRICS_PUSH_INTERVAL", time.Minute),
			},
		},

		Bootstrap: BootstrapConfig{
			SeedDemoTenant: getenvBool("BOOTSTRAP_SEED_DEMO_TENANT", false),
		},
	}

	return cfg
}

const (
	ModeOSS        = "oss"
	ModeCloud      = "cloud"
	ModeStandalone = "standalone"
)

func (c Config) IsCloud() bool {
	return c.Mode == ModeCloud
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeCloud:
		return ModeCloud
	case ModeStandalone, ModeOSS:
		return ModeOSS
	default:
		return ModeOSS
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvList(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCatalogHolder),
)
