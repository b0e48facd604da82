package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	Store      StoreConfig
	GCP        GCPConfig
	Firestore  FirestoreConfig
	Auth       AuthConfig
	Redis      RedisConfig
	PubSub     PubSubConfig
	Trigger    TriggerConfig
	Aggregator AggregatorConfig
	Catalog    CatalogConfig
	RateLimit  RateLimitConfig
	Policy     PolicyConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CODELAB_APP_ENV" required:"true"`
	Port         string `envconfig:"CODELAB_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CODELAB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CODELAB_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists the storefront origins allowed to call the API.
	CORSOrigins []string `envconfig:"CODELAB_CORS_ALLOWED_ORIGINS" default:"http://localhost:5000,http://127.0.0.1:5000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CODELAB_SERVICE_KIND" default:"api"`
}

type StoreConfig struct {
	Backend string `envconfig:"CODELAB_STORE_BACKEND" default:"firestore"`
}

// UsesMemory reports whether the in-process document store is selected.
func (s StoreConfig) UsesMemory() bool {
	return strings.EqualFold(strings.TrimSpace(s.Backend), StoreBackendMemory)
}

type GCPConfig struct {
	ProjectID       string `envconfig:"CODELAB_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"CODELAB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type FirestoreConfig struct {
	EmulatorHost string `envconfig:"CODELAB_FIRESTORE_EMULATOR_HOST"`
	MaxAttempts  int    `envconfig:"CODELAB_FIRESTORE_TX_MAX_ATTEMPTS" default:"5"`
}

type AuthConfig struct {
	Mode              string `envconfig:"CODELAB_AUTH_MODE" default:"firebase"`
	EmulatorHost      string `envconfig:"CODELAB_AUTH_EMULATOR_HOST"`
	JWTSecret         string `envconfig:"CODELAB_AUTH_JWT_SECRET"`
	JWTIssuer         string `envconfig:"CODELAB_AUTH_JWT_ISSUER" default:"emulators-codelab"`
	ExpirationMinutes int    `envconfig:"CODELAB_AUTH_JWT_EXPIRATION_MINUTES" default:"60"`
}

// IsLocal reports whether tokens are minted and verified in-process.
func (a AuthConfig) IsLocal() bool {
	return strings.EqualFold(strings.TrimSpace(a.Mode), AuthModeLocal)
}

// TokenTTL returns the local token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	if a.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(a.ExpirationMinutes) * time.Minute
}

type RedisConfig struct {
	URL          string        `envconfig:"CODELAB_REDIS_URL"`
	Address      string        `envconfig:"CODELAB_REDIS_ADDR"`
	Password     string        `envconfig:"CODELAB_REDIS_PASSWORD"`
	DB           int           `envconfig:"CODELAB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CODELAB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CODELAB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CODELAB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CODELAB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CODELAB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type PubSubConfig struct {
	EmulatorHost        string `envconfig:"CODELAB_PUBSUB_EMULATOR_HOST"`
	TriggerTopic        string `envconfig:"CODELAB_PUBSUB_TRIGGER_TOPIC" default:"cart-item-writes"`
	TriggerSubscription string `envconfig:"CODELAB_PUBSUB_TRIGGER_SUBSCRIPTION" default:"cart-aggregator"`
}

type TriggerConfig struct {
	Source        string        `envconfig:"CODELAB_TRIGGER_SOURCE" default:"pubsub"`
	MaxDeliveries int           `envconfig:"CODELAB_TRIGGER_MAX_DELIVERIES" default:"5"`
	RetryBackoff  time.Duration `envconfig:"CODELAB_TRIGGER_RETRY_BACKOFF" default:"200ms"`
	Concurrency   int           `envconfig:"CODELAB_TRIGGER_CONCURRENCY" default:"8"`
	DedupeTTL     time.Duration `envconfig:"CODELAB_TRIGGER_DEDUPE_TTL" default:"24h"`
}

type AggregatorConfig struct {
	RecomputeOnDelete bool `envconfig:"CODELAB_AGGREGATOR_RECOMPUTE_ON_DELETE" default:"true"`
}

type CatalogConfig struct {
	SeedCount int  `envconfig:"CODELAB_CATALOG_SEED_COUNT" default:"9"`
	AutoSeed  bool `envconfig:"CODELAB_CATALOG_AUTO_SEED" default:"true"`
}

type RateLimitConfig struct {
	CartWriteWindow time.Duration `envconfig:"CODELAB_RATE_LIMIT_CART_WRITE_WINDOW" default:"1m"`
	CartWriteLimit  int           `envconfig:"CODELAB_RATE_LIMIT_CART_WRITE_LIMIT" default:"60"`
}

type PolicyConfig struct {
	RulesFile string `envconfig:"CODELAB_POLICY_RULES_FILE"`
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Backend)) {
	case StoreBackendFirestore:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvStoreBackend, StoreBackendFirestore)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unsupported %s %q", EnvStoreBackend, c.Store.Backend)
	}

	switch strings.ToLower(strings.TrimSpace(c.Auth.Mode)) {
	case AuthModeFirebase:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvAuthMode, AuthModeFirebase)
		}
	case AuthModeLocal:
		if strings.TrimSpace(c.Auth.JWTSecret) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvAuthJWTSecret, EnvAuthMode, AuthModeLocal)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvAuthMode, c.Auth.Mode)
	}

	switch strings.ToLower(strings.TrimSpace(c.Trigger.Source)) {
	case TriggerSourceLocal, TriggerSourcePubSub, TriggerSourceFirestore:
	default:
		return fmt.Errorf("unsupported %s %q", EnvTriggerSource, c.Trigger.Source)
	}
	return nil
}
