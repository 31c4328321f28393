package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Classifier   ClassifierConfig
	Policy       PolicyConfig
	SLA          SLAConfig
	PubSub       PubSubConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables the
// distributed case lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines staff authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	// PseudonymKey keys the user hash. Rotating it unlinks old cases.
	PseudonymKey string
	// Bootstrap admin is created at startup when no staff with that email exists.
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// ClassifierConfig configures the external risk classifier.
type ClassifierConfig struct {
	GeminiAPIKey string
	GeminiModel  string
	Attempts     int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Jitter       time.Duration
	Timeout      time.Duration
}

// PolicyConfig configures privacy guards.
type PolicyConfig struct {
	K                     int
	DenyCrisisExperiments bool
}

// SLAConfig holds per-severity response windows and the sweep cadence.
type SLAConfig struct {
	LowMinutes      int
	MediumMinutes   int
	HighMinutes     int
	CriticalMinutes int
	SweepInterval   time.Duration
}

// PubSubConfig enables event forwarding when both values are set.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
}

// Enabled reports whether forwarding is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicID != ""
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "safety-orchestrator"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 10*time.Second),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			PseudonymKey:          getEnv("AUTH_PSEUDONYM_KEY", "dev-pseudonym-key"),

			BootstrapAdminEmail:    os.Getenv("AUTH_BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapAdminPassword: os.Getenv("AUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "safety-desk@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Classifier: ClassifierConfig{
			GeminiAPIKey: os.Getenv("CLASSIFIER_GEMINI_API_KEY"),
			GeminiModel:  getEnv("CLASSIFIER_GEMINI_MODEL", "gemini-1.5-flash"),
			Attempts:     getEnvAsInt("CLASSIFIER_ATTEMPTS", 3),
			BaseDelay:    getEnvAsDuration("CLASSIFIER_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:     getEnvAsDuration("CLASSIFIER_MAX_DELAY", 2*time.Second),
			Jitter:       getEnvAsDuration("CLASSIFIER_JITTER", 100*time.Millisecond),
			Timeout:      getEnvAsDuration("CLASSIFIER_TIMEOUT", 8*time.Second),
		},
		Policy: PolicyConfig{
			K:                     getEnvAsInt("POLICY_K_ANON", 5),
			DenyCrisisExperiments: getEnvAsBool("POLICY_DENY_CRISIS_EXPERIMENTS", true),
		},
		SLA: SLAConfig{
			LowMinutes:      getEnvAsInt("SLA_LOW_MINUTES", 24*60),
			MediumMinutes:   getEnvAsInt("SLA_MED_MINUTES", 8*60),
			HighMinutes:     getEnvAsInt("SLA_HIGH_MINUTES", 60),
			CriticalMinutes: getEnvAsInt("SLA_CRITICAL_MINUTES", 15),
			SweepInterval:   getEnvAsDuration("SLA_SWEEP_INTERVAL", time.Minute),
		},
		PubSub: PubSubConfig{
			ProjectID: os.Getenv("PUBSUB_PROJECT_ID"),
			TopicID:   os.Getenv("PUBSUB_TOPIC_ID"),
		},
	}

	if cfg.Policy.K < 1 {
		return nil, fmt.Errorf("invalid POLICY_K_ANON %d: must be >= 1", cfg.Policy.K)
	}
	// The classifier must give up before the request does, or an escalation
	// would be dropped with the cancelled request.
	if rt := cfg.App.RequestTimeout(); rt > 0 && (cfg.Classifier.Timeout <= 0 || cfg.Classifier.Timeout >= rt) {
		return nil, fmt.Errorf("invalid CLASSIFIER_TIMEOUT %s: must be positive and shorter than HTTP_REQUEST_TIMEOUT_SECONDS (%s)",
			cfg.Classifier.Timeout, rt)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the staff token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
