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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Payments     PaymentsConfig
	Korapay      KorapayConfig
	CJ           CJConfig
	Tracking     TrackingConfig
	Fulfillment  FulfillmentConfig
	Cron         CronConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"ORDERFLOW_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`
	MaxBodyBytes int64  `envconfig:"ORDERFLOW_MAX_BODY_BYTES" default:"1048576"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERFLOW_DB_DSN"`
	Driver string `envconfig:"ORDERFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERFLOW_DB_USER"`
	LegacyPassword string `envconfig:"ORDERFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERFLOW_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"ORDERFLOW_DB_SQLITE_PATH" default:"orderflow.db"`

	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORDERFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
	AutoRefund  bool `envconfig:"ORDERFLOW_FEATURE_AUTO_REFUND" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"ORDERFLOW_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"ORDERFLOW_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERFLOW_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ORDERFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	FulfillmentTopic         string `envconfig:"ORDERFLOW_PUBSUB_FULFILLMENT_TOPIC" required:"true"`
	FulfillmentSubscription  string `envconfig:"ORDERFLOW_PUBSUB_FULFILLMENT_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"ORDERFLOW_PUBSUB_NOTIFICATION_TOPIC" default:"orderflow-notification-events"`
	NotificationSubscription string `envconfig:"ORDERFLOW_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORDERFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// PaymentsConfig holds settings for payment providers without a dedicated
// integration.
type PaymentsConfig struct {
	WebhookSecret string `envconfig:"ORDERFLOW_PAYMENT_WEBHOOK_SECRET"`
}

type KorapayConfig struct {
	BaseURL       string        `envconfig:"ORDERFLOW_KORAPAY_BASE_URL" default:"https://api.korapay.com"`
	SecretKey     string        `envconfig:"ORDERFLOW_KORAPAY_SECRET_KEY"`
	PublicKey     string        `envconfig:"ORDERFLOW_KORAPAY_PUBLIC_KEY"`
	WebhookSecret string        `envconfig:"ORDERFLOW_KORAPAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"ORDERFLOW_KORAPAY_TIMEOUT" default:"30s"`
}

// SigningSecret falls back to the secret key, which Korapay uses to sign webhooks.
func (k KorapayConfig) SigningSecret() string {
	if secret := strings.TrimSpace(k.WebhookSecret); secret != "" {
		return secret
	}
	return strings.TrimSpace(k.SecretKey)
}

type CJConfig struct {
	BaseURL          string        `envconfig:"ORDERFLOW_CJ_BASE_URL" default:"https://developers.cjdropshipping.com/api2.0/v1"`
	Email            string        `envconfig:"ORDERFLOW_CJ_EMAIL"`
	APIKey           string        `envconfig:"ORDERFLOW_CJ_API_KEY"`
	WebhookSecret    string        `envconfig:"ORDERFLOW_CJ_WEBHOOK_SECRET"`
	ReplayWindow     time.Duration `envconfig:"ORDERFLOW_CJ_WEBHOOK_REPLAY_WINDOW" default:"5m"`
	TokenRefreshSkew time.Duration `envconfig:"ORDERFLOW_CJ_TOKEN_REFRESH_SKEW" default:"10m"`
	Timeout          time.Duration `envconfig:"ORDERFLOW_CJ_TIMEOUT" default:"60s"`
	AuthTimeout      time.Duration `envconfig:"ORDERFLOW_CJ_AUTH_TIMEOUT" default:"10s"`
	DefaultLogistic  string        `envconfig:"ORDERFLOW_CJ_DEFAULT_LOGISTIC" default:"CJPacket Ordinary"`
	FromCountryCode  string        `envconfig:"ORDERFLOW_CJ_FROM_COUNTRY" default:"CN"`
}

// Enabled reports whether enough credentials exist to talk to CJ.
func (c CJConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type TrackingConfig struct {
	WebhookSecret string `envconfig:"ORDERFLOW_TRACKING_WEBHOOK_SECRET"`
}

type FulfillmentConfig struct {
	DispatchConcurrency int           `envconfig:"ORDERFLOW_FULFILLMENT_DISPATCH_CONCURRENCY" default:"4"`
	DispatchTimeout     time.Duration `envconfig:"ORDERFLOW_FULFILLMENT_DISPATCH_TIMEOUT" default:"300s"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"ORDERFLOW_CRON_INTERVAL" default:"5m"`
	ReplayMaxAttempts int           `envconfig:"ORDERFLOW_CRON_REPLAY_MAX_ATTEMPTS" default:"5"`
	ReplayBatchSize   int           `envconfig:"ORDERFLOW_CRON_REPLAY_BATCH_SIZE" default:"50"`
	OutboxRetention   int           `envconfig:"ORDERFLOW_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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

// MetricsConfig is the private listener used by the non-API processes.
type MetricsConfig struct {
	Addr string `envconfig:"ORDERFLOW_METRICS_ADDR" default:":9090"`
}
