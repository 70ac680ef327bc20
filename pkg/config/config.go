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
	Gateway      GatewayConfig
	Subscription SubscriptionConfig
	Reconciler   ReconcilerConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPRAQ_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPRAQ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPRAQ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPRAQ_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPRAQ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPRAQ_DB_DSN"`
	Driver string `envconfig:"SHOPRAQ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPRAQ_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPRAQ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPRAQ_DB_USER"`
	LegacyPassword string `envconfig:"SHOPRAQ_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPRAQ_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPRAQ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPRAQ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPRAQ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPRAQ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPRAQ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPRAQ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPRAQ_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPRAQ_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPRAQ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPRAQ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPRAQ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPRAQ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPRAQ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPRAQ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig configures the external payment provider API.
type GatewayConfig struct {
	BaseURL        string        `envconfig:"SHOPRAQ_GATEWAY_BASE_URL" required:"true"`
	CallbackURL    string        `envconfig:"SHOPRAQ_GATEWAY_CALLBACK_URL"`
	RequestTimeout time.Duration `envconfig:"SHOPRAQ_GATEWAY_REQUEST_TIMEOUT" default:"30s"`
}

// SubscriptionConfig holds subscription lifecycle tunables.
type SubscriptionConfig struct {
	TrialDays           int           `envconfig:"SHOPRAQ_SUBSCRIPTION_TRIAL_DAYS" default:"14"`
	PendingPaymentTTL   time.Duration `envconfig:"SHOPRAQ_SUBSCRIPTION_PENDING_TTL" default:"24h"`
	MaxCheckAttempts    int           `envconfig:"SHOPRAQ_SUBSCRIPTION_MAX_CHECK_ATTEMPTS" default:"50"`
	MaxActivationErrors int           `envconfig:"SHOPRAQ_SUBSCRIPTION_MAX_ACTIVATION_ERRORS" default:"5"`
	ExpiryWarningWindow time.Duration `envconfig:"SHOPRAQ_SUBSCRIPTION_EXPIRY_WARNING_WINDOW" default:"72h"`
	CleanupRetention    time.Duration `envconfig:"SHOPRAQ_SUBSCRIPTION_CLEANUP_RETENTION" default:"24h"`
}

// ReconcilerConfig drives the payment reconciliation loop cadence.
type ReconcilerConfig struct {
	IdleInterval   time.Duration `envconfig:"SHOPRAQ_RECONCILER_IDLE_INTERVAL" default:"60s"`
	ActiveInterval time.Duration `envconfig:"SHOPRAQ_RECONCILER_ACTIVE_INTERVAL" default:"10s"`
	ItemDelay      time.Duration `envconfig:"SHOPRAQ_RECONCILER_ITEM_DELAY" default:"500ms"`
	BatchLimit     int           `envconfig:"SHOPRAQ_RECONCILER_BATCH_LIMIT" default:"100"`
}

// CronConfig sets per-job cadences for the scheduled sweeps.
type CronConfig struct {
	ExpirySweepInterval  time.Duration `envconfig:"SHOPRAQ_CRON_EXPIRY_INTERVAL" default:"1h"`
	AutoRenewInterval    time.Duration `envconfig:"SHOPRAQ_CRON_AUTO_RENEW_INTERVAL" default:"1h"`
	CleanupInterval      time.Duration `envconfig:"SHOPRAQ_CRON_CLEANUP_INTERVAL" default:"24h"`
	ExpiringSoonInterval time.Duration `envconfig:"SHOPRAQ_CRON_EXPIRING_SOON_INTERVAL" default:"24h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPRAQ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPRAQ_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
