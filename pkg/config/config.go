package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Codes        CodesConfig
	Loyalty      LoyaltyConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Codes.validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Loyalty.Location(); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvLoyaltyTimezone, err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LEALTAD_APP_ENV" required:"true"`
	Port         string `envconfig:"LEALTAD_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LEALTAD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEALTAD_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"LEALTAD_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// HTTPConfig shapes the API surface used by venue terminals.
type HTTPConfig struct {
	CORSOrigins []string `envconfig:"LEALTAD_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	// ClientRPS and ClientBurst feed the per-client token bucket on /api.
	ClientRPS   float64 `envconfig:"LEALTAD_HTTP_CLIENT_RPS" default:"20"`
	ClientBurst int     `envconfig:"LEALTAD_HTTP_CLIENT_BURST" default:"40"`
	// ResolvePerMinute caps code lookups per staff member across instances.
	ResolvePerMinute int `envconfig:"LEALTAD_HTTP_RESOLVE_PER_MINUTE" default:"60"`
	// RequestTimeout bounds handlers that hold an idempotency claim; the
	// claim outlives it so a slow request cannot run twice.
	RequestTimeout time.Duration `envconfig:"LEALTAD_HTTP_REQUEST_TIMEOUT" default:"30s"`
}

type ServiceConfig struct {
	Kind string `envconfig:"LEALTAD_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background binaries expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"LEALTAD_METRICS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEALTAD_DB_DSN"`
	Driver string `envconfig:"LEALTAD_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"LEALTAD_DB_HOST"`
	Port     int    `envconfig:"LEALTAD_DB_PORT" default:"5432"`
	User     string `envconfig:"LEALTAD_DB_USER"`
	Password string `envconfig:"LEALTAD_DB_PASSWORD"`
	Name     string `envconfig:"LEALTAD_DB_NAME"`
	SSLMode  string `envconfig:"LEALTAD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEALTAD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEALTAD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEALTAD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEALTAD_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements that run longer. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"LEALTAD_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`

	// SerializableRetries bounds how often a serialization failure re-runs a redemption transaction.
	SerializableRetries int `envconfig:"LEALTAD_DB_SERIALIZABLE_RETRIES" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEALTAD_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEALTAD_REDIS_ADDR"`
	Password     string        `envconfig:"LEALTAD_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEALTAD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEALTAD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEALTAD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEALTAD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEALTAD_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"LEALTAD_REDIS_WRITE_TIMEOUT" default:"2s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LEALTAD_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LEALTAD_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LEALTAD_JWT_EXPIRATION_MINUTES" default:"720"`
}

// Expiration returns the staff token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LEALTAD_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LEALTAD_AUTO_MIGRATE" default:"false"`
}

// CodesConfig drives the rotating code generator and the code index.
type CodesConfig struct {
	Digits            int     `envconfig:"LEALTAD_CODE_DIGITS" default:"8"`
	StepSeconds       int     `envconfig:"LEALTAD_CODE_STEP_SECONDS" default:"30"`
	DriftSteps        int     `envconfig:"LEALTAD_CODE_DRIFT_STEPS" default:"1"`
	Pepper            string  `envconfig:"LEALTAD_CODE_PEPPER" required:"true"`
	IndexBackend      string  `envconfig:"LEALTAD_CODE_INDEX_BACKEND" default:"memory"`
	IndexBatchSize    int     `envconfig:"LEALTAD_CODE_INDEX_BATCH_SIZE" default:"2000"`
	IndexWorkers      int     `envconfig:"LEALTAD_CODE_INDEX_WORKERS" default:"4"`
	CollisionWarnRate float64 `envconfig:"LEALTAD_CODE_COLLISION_WARN_RATE" default:"0.001"`
}

// Step returns the configured time step length.
func (c CodesConfig) Step() time.Duration {
	return time.Duration(c.StepSeconds) * time.Second
}

func (c CodesConfig) validate() error {
	if c.Digits < 6 || c.Digits > 10 {
		return fmt.Errorf("%s must be between 6 and 10, got %d", EnvCodeDigits, c.Digits)
	}
	if c.StepSeconds < 5 {
		return fmt.Errorf("%s must be at least 5, got %d", EnvCodeStepSeconds, c.StepSeconds)
	}
	if c.DriftSteps < 0 || c.DriftSteps > 3 {
		return fmt.Errorf("%s must be between 0 and 3, got %d", EnvCodeDriftSteps, c.DriftSteps)
	}
	switch strings.ToLower(c.IndexBackend) {
	case IndexBackendMemory, IndexBackendRedis:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvCodeIndexBackend, IndexBackendMemory, IndexBackendRedis, c.IndexBackend)
	}
	return nil
}

// LoyaltyConfig holds program-wide rules that are not stored per tier or benefit.
type LoyaltyConfig struct {
	Timezone          string        `envconfig:"LEALTAD_LOYALTY_TIMEZONE" default:"America/Mexico_City"`
	EntryTierName     string        `envconfig:"LEALTAD_LOYALTY_ENTRY_TIER" default:"Bronce"`
	ReconcileInterval time.Duration `envconfig:"LEALTAD_LOYALTY_RECONCILE_INTERVAL" default:"24h"`
}

// Location resolves the business timezone used for per-day and per-month quotas.
func (l LoyaltyConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(l.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(l.Timezone)
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"LEALTAD_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LEALTAD_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LEALTAD_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LEALTAD_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LoyaltyTopic              string `envconfig:"LEALTAD_PUBSUB_LOYALTY_TOPIC" default:"lealtad-loyalty-events"`
	ExternalStateSubscription string `envconfig:"LEALTAD_PUBSUB_EXTERNAL_STATE_SUBSCRIPTION" default:"lealtad-external-state-sub"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LEALTAD_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LEALTAD_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LEALTAD_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// RetentionDays keeps settled outbox rows; DLQRetentionDays keeps dead
	// letters around longer for replay.
	RetentionDays    int `envconfig:"LEALTAD_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int `envconfig:"LEALTAD_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

// PollInterval returns the publisher poll interval.
func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = "file:lealtad.db?_busy_timeout=5000&_txlock=immediate"
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
