package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Ledger   LedgerConfig
	Pricing  PricingConfig
	Packages []models.CreditPackage
	Payments PaymentsConfig
	Gateway  GatewayConfig
	Refine   RefineConfig
	OCR      OCRConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	PublicHost      string // host advertised in the API docs; empty means the request host
}

type StorageConfig struct {
	Driver     string
	SQLitePath string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN builds a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

type LedgerConfig struct {
	WelcomeGrant        int64
	LowBalanceThreshold int64
	ConflictRetries     int
	CacheTTL            time.Duration
	CacheSize           int
}

type PricingConfig struct {
	OCRExtract int64
	TextRefine int64
}

// Costs returns the per-feature price list.
func (p PricingConfig) Costs() map[models.Feature]int64 {
	return map[models.Feature]int64{
		models.FeatureOCRExtract: p.OCRExtract,
		models.FeatureTextRefine: p.TextRefine,
	}
}

type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

type PaymentsConfig struct {
	CallbackURL   string
	WebhookSecret string
	PendingTTL    time.Duration
	SweepInterval time.Duration
	Retry         RetryConfig
}

type GatewayConfig struct {
	BaseURL  string
	AppKey   string
	Username string
	Password string
	Timeout  time.Duration
}

type RefineConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type OCRConfig struct {
	Languages   []string
	MaxParallel int64
}

type LoggingConfig struct {
	Format string
	Level  string
}

var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.allowed_origins":  "ALLOWED_ORIGINS",
	"server.public_host":      "PUBLIC_HOST",
	"storage.driver":          "STORAGE_DRIVER",
	"storage.sqlite_path":     "SQLITE_PATH",
	"database.host":           "DATABASE_HOST",
	"database.port":           "DATABASE_PORT",
	"database.user":           "DATABASE_USER",
	"database.password":       "DATABASE_PASSWORD",
	"database.name":           "DATABASE_NAME",
	"database.ssl_mode":       "DATABASE_SSL_MODE",
	"redis.host":              "REDIS_HOST",
	"redis.port":              "REDIS_PORT",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"jwt.secret_key":          "JWT_SECRET_KEY",
	"jwt.issuer":              "JWT_ISSUER",
	"ledger.welcome_grant":    "LEDGER_WELCOME_GRANT",
	"ledger.low_balance":      "LEDGER_LOW_BALANCE",
	"ledger.cache_ttl":        "LEDGER_CACHE_TTL",
	"pricing.ocr_extract":     "PRICE_OCR_EXTRACT",
	"pricing.text_refine":     "PRICE_TEXT_REFINE",
	"payments.callback_url":   "PAYMENT_CALLBACK_URL",
	"payments.webhook_secret": "PAYMENT_WEBHOOK_SECRET",
	"payments.pending_ttl":    "PAYMENT_PENDING_TTL",
	"gateway.base_url":        "GATEWAY_BASE_URL",
	"gateway.app_key":         "GATEWAY_APP_KEY",
	"gateway.username":        "GATEWAY_USERNAME",
	"gateway.password":        "GATEWAY_PASSWORD",
	"refine.api_key":          "REFINE_API_KEY",
	"refine.model":            "REFINE_MODEL",
	"refine.base_url":         "REFINE_BASE_URL",
	"ocr.languages":           "OCR_LANGUAGES",
	"logging.format":          "LOG_FORMAT",
	"logging.level":           "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("storage.sqlite_path", "credits.db")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "banglalekha")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.issuer", "")

	v.SetDefault("ledger.welcome_grant", 0)
	v.SetDefault("ledger.low_balance", 50)
	v.SetDefault("ledger.conflict_retries", 3)
	v.SetDefault("ledger.cache_ttl", 30*time.Second)
	v.SetDefault("ledger.cache_size", 10000)

	v.SetDefault("pricing.ocr_extract", 5)
	v.SetDefault("pricing.text_refine", 15)

	v.SetDefault("payments.callback_url", "http://localhost:8080/api/v1/payments/callback")
	v.SetDefault("payments.pending_ttl", 30*time.Minute)
	v.SetDefault("payments.sweep_interval", time.Minute)
	v.SetDefault("payments.retry.max_attempts", 5)
	v.SetDefault("payments.retry.initial_interval", 200*time.Millisecond)
	v.SetDefault("payments.retry.max_interval", 5*time.Second)
	v.SetDefault("payments.retry.max_elapsed", 30*time.Second)

	v.SetDefault("gateway.base_url", "https://tokenized.sandbox.bka.sh/v1.2.0-beta/tokenized")
	v.SetDefault("gateway.timeout", 10*time.Second)

	v.SetDefault("refine.model", "gpt-4o-mini")
	v.SetDefault("refine.timeout", 60*time.Second)

	v.SetDefault("ocr.languages", []string{"ben", "eng"})
	v.SetDefault("ocr.max_parallel", 2)

	v.SetDefault("logging.format", "auto")
	v.SetDefault("logging.level", "info")
}

// Load reads configuration from the optional config file, then the
// environment. An empty path means ".env" in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = ".env"
	}
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("config file not found, using defaults")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
			PublicHost:      v.GetString("server.public_host"),
		},
		Storage: StorageConfig{
			Driver:     strings.ToLower(v.GetString("storage.driver")),
			SQLitePath: v.GetString("storage.sqlite_path"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
			Issuer:    v.GetString("jwt.issuer"),
		},
		Ledger: LedgerConfig{
			WelcomeGrant:        v.GetInt64("ledger.welcome_grant"),
			LowBalanceThreshold: v.GetInt64("ledger.low_balance"),
			ConflictRetries:     v.GetInt("ledger.conflict_retries"),
			CacheTTL:            v.GetDuration("ledger.cache_ttl"),
			CacheSize:           v.GetInt("ledger.cache_size"),
		},
		Pricing: PricingConfig{
			OCRExtract: v.GetInt64("pricing.ocr_extract"),
			TextRefine: v.GetInt64("pricing.text_refine"),
		},
		Payments: PaymentsConfig{
			CallbackURL:   v.GetString("payments.callback_url"),
			WebhookSecret: v.GetString("payments.webhook_secret"),
			PendingTTL:    v.GetDuration("payments.pending_ttl"),
			SweepInterval: v.GetDuration("payments.sweep_interval"),
			Retry: RetryConfig{
				MaxAttempts:     v.GetUint("payments.retry.max_attempts"),
				InitialInterval: v.GetDuration("payments.retry.initial_interval"),
				MaxInterval:     v.GetDuration("payments.retry.max_interval"),
				MaxElapsed:      v.GetDuration("payments.retry.max_elapsed"),
			},
		},
		Gateway: GatewayConfig{
			BaseURL:  v.GetString("gateway.base_url"),
			AppKey:   v.GetString("gateway.app_key"),
			Username: v.GetString("gateway.username"),
			Password: v.GetString("gateway.password"),
			Timeout:  v.GetDuration("gateway.timeout"),
		},
		Refine: RefineConfig{
			APIKey:  v.GetString("refine.api_key"),
			Model:   v.GetString("refine.model"),
			BaseURL: v.GetString("refine.base_url"),
			Timeout: v.GetDuration("refine.timeout"),
		},
		OCR: OCRConfig{
			Languages:   v.GetStringSlice("ocr.languages"),
			MaxParallel: v.GetInt64("ocr.max_parallel"),
		},
		Logging: LoggingConfig{
			Format: v.GetString("logging.format"),
			Level:  v.GetString("logging.level"),
		},
	}

	cfg.Packages = catalog.DefaultPackages()
	if v.IsSet("packages") {
		var packages []models.CreditPackage
		if err := v.UnmarshalKey("packages", &packages); err != nil {
			return nil, fmt.Errorf("parse packages: %w", err)
		}
		cfg.Packages = packages
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Ledger.WelcomeGrant < 0 {
		return fmt.Errorf("ledger.welcome_grant must not be negative")
	}
	for feature, cost := range c.Pricing.Costs() {
		if cost <= 0 {
			return fmt.Errorf("price of %s must be positive", feature)
		}
	}
	seen := make(map[string]bool, len(c.Packages))
	for _, p := range c.Packages {
		if p.ID == "" || p.Credits <= 0 || p.Price <= 0 || p.Bonus < 0 {
			return fmt.Errorf("invalid credit package %q", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate credit package %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
