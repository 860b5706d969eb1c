// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Deployment variants. The fixed variant runs with baked-in credentials and
// ports; the parameterized variant takes everything from the environment and
// refuses to start when a variable is missing.
const (
	VariantFixed         = "fixed"
	VariantParameterized = "parameterized"
)

const defaultJWTSecret = "dev-insecure-secret"

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Mail     MailConfig     `mapstructure:"mail"`
	Startup  StartupConfig  `mapstructure:"startup"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
	Variant     string `mapstructure:"variant"`
}

// DatabaseConfig contains PostgreSQL configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleTime     time.Duration `mapstructure:"max_idle_time"`
	MigrationsTable string        `mapstructure:"migrations_table"`
}

// CacheConfig contains Redis configuration
type CacheConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// MailConfig contains outgoing mail configuration
type MailConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	FromEmail     string        `mapstructure:"from_email"`
	FromName      string        `mapstructure:"from_name"`
	UseTLS        bool          `mapstructure:"use_tls"`
	UseStartTLS   bool          `mapstructure:"use_start_tls"`
	Timeout       time.Duration `mapstructure:"timeout"`
	QueueEnabled  bool          `mapstructure:"queue_enabled"`
	QueueKey      string        `mapstructure:"queue_key"`
	Workers       int           `mapstructure:"workers"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// HealthCheckConfig mirrors the orchestrator health check parameters
type HealthCheckConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
}

// StartupConfig controls the startup sequence of the web process
type StartupConfig struct {
	WaitForDatabase bool              `mapstructure:"wait_for_database"`
	WaitForCache    bool              `mapstructure:"wait_for_cache"`
	WaitForMailSink bool              `mapstructure:"wait_for_mail_sink"`
	RunMigrations   bool              `mapstructure:"run_migrations"`
	CollectStatic   bool              `mapstructure:"collect_static"`
	StaticRoot      string            `mapstructure:"static_root"`
	HealthCheck     HealthCheckConfig `mapstructure:"health_check"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
	EnableHealth    bool          `mapstructure:"enable_health"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// AuthConfig contains token configuration
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `mapstructure:"refresh_token_ttl"`
	VerificationTTL  time.Duration `mapstructure:"verification_ttl"`
	PasswordResetTTL time.Duration `mapstructure:"password_reset_ttl"`
	FrontendURL      string        `mapstructure:"frontend_url"`
}

// CurrencyConfig contains exchange rate configuration
type CurrencyConfig struct {
	APIURL          string        `mapstructure:"api_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	RefreshSchedule string        `mapstructure:"refresh_schedule"`
	RefreshOnStart  bool          `mapstructure:"refresh_on_start"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file, discard
	File   string `mapstructure:"file"`
}

// envBindings maps config keys to the plain environment variables used by the
// deployment descriptors.
var envBindings = map[string]string{
	"app.environment":     "DEV_ENV",
	"app.debug":           "DEBUG",
	"app.variant":         "TRACKER_VARIANT",
	"database.url":        "DATABASE_URL",
	"database.name":       "POSTGRES_DB",
	"database.user":       "POSTGRES_USER",
	"database.password":   "POSTGRES_PASSWORD",
	"cache.url":           "REDIS_URL",
	"mail.host":           "EMAIL_HOST",
	"mail.port":           "EMAIL_PORT",
	"mail.username":       "EMAIL_HOST_USER",
	"mail.password":       "EMAIL_HOST_PASSWORD",
	"mail.from_email":     "DEFAULT_FROM_EMAIL",
	"auth.jwt_secret":     "JWT_SECRET",
	"startup.static_root": "STATIC_ROOT",
}

// RequiredEnv returns the environment variables the web process cannot start
// without in the given variant.
func RequiredEnv(variant string) []string {
	if variant != VariantParameterized {
		return nil
	}
	return []string{"DATABASE_URL", "REDIS_URL", "DEBUG", "DEV_ENV"}
}

// MissingEnv lists the required variables that lookup reports as unset or
// empty, sorted.
func MissingEnv(variant string, lookup func(string) (string, bool)) []string {
	var missing []string
	for _, name := range RequiredEnv(variant) {
		if value, ok := lookup(name); !ok || strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// LoadDotEnv loads variables from an env file without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return LoadVariant(configPath, "")
}

// LoadVariant loads configuration, forcing the deployment variant when
// variant is non-empty.
func LoadVariant(configPath, variant string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env, "TRACKER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	if variant != "" {
		v.Set("app.variant", variant)
	}
	resolved := strings.ToLower(v.GetString("app.variant"))
	if resolved == "" {
		resolved = VariantFixed
	}

	if resolved == VariantParameterized {
		if missing := MissingEnv(resolved, os.LookupEnv); len(missing) > 0 {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration,
				"Required environment variables are not set", strings.Join(missing, ", "))
		}
	}

	setDefaults(v, resolved)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.Variant = resolved

	if config.Database.URL == "" {
		config.Database.URL = config.Database.BuildURL()
	}
	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper, variant string) {
	// App defaults
	v.SetDefault("app.name", "financial-tracker")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Database defaults (container network view)
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.migrations_table", "schema_migrations")

	// Cache defaults
	v.SetDefault("cache.dial_timeout", "5s")
	v.SetDefault("cache.read_timeout", "3s")
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.key_prefix", "")

	// Mail defaults
	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.from_email", "noreply@financial-tracker.local")
	v.SetDefault("mail.from_name", "Your Finance App")
	v.SetDefault("mail.use_tls", false)
	v.SetDefault("mail.use_start_tls", false)
	v.SetDefault("mail.timeout", "10s")
	v.SetDefault("mail.queue_enabled", true)
	v.SetDefault("mail.queue_key", "mail:outbox")
	v.SetDefault("mail.workers", 2)
	v.SetDefault("mail.retry_attempts", 3)
	v.SetDefault("mail.retry_delay", "5s")

	// Startup defaults: 5 retries, 10s apart, 5s per probe
	v.SetDefault("startup.wait_for_database", true)
	v.SetDefault("startup.wait_for_cache", true)
	v.SetDefault("startup.run_migrations", true)
	v.SetDefault("startup.static_root", "/app/staticfiles")
	v.SetDefault("startup.health_check.interval", "10s")
	v.SetDefault("startup.health_check.timeout", "5s")
	v.SetDefault("startup.health_check.retries", 5)

	// Server defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Auth defaults
	v.SetDefault("auth.jwt_secret", defaultJWTSecret)
	v.SetDefault("auth.access_token_ttl", "5m")
	v.SetDefault("auth.refresh_token_ttl", "24h")
	v.SetDefault("auth.verification_ttl", "24h")
	v.SetDefault("auth.password_reset_ttl", "1h")
	v.SetDefault("auth.frontend_url", "http://localhost:8000")

	// Currency defaults
	v.SetDefault("currency.api_url", "https://api.exchangerate-api.com/v4/latest/USD")
	v.SetDefault("currency.request_timeout", "10s")
	v.SetDefault("currency.cache_ttl", "1h")
	v.SetDefault("currency.refresh_schedule", "@hourly")
	v.SetDefault("currency.refresh_on_start", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	switch variant {
	case VariantParameterized:
		// Everything else comes from the environment.
		v.SetDefault("mail.host", "mailhog")
		v.SetDefault("mail.port", 1025)
		v.SetDefault("startup.wait_for_mail_sink", true)
		v.SetDefault("startup.collect_static", false)
	default:
		v.SetDefault("database.name", "financial_tracker")
		v.SetDefault("database.user", "postgres")
		v.SetDefault("database.password", "postgres")
		v.SetDefault("cache.url", "redis://redis:6379/0")
		v.SetDefault("mail.host", "localhost")
		v.SetDefault("mail.port", 1025)
		v.SetDefault("startup.wait_for_mail_sink", false)
		v.SetDefault("startup.collect_static", true)
	}
}

// BuildURL assembles a postgres URL from the discrete settings.
func (d DatabaseConfig) BuildURL() string {
	if d.Name == "" || d.User == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + d.SSLMode
	}
	return u.String()
}

// RedactedURL returns the database URL with the password hidden.
func (d DatabaseConfig) RedactedURL() string {
	u, err := url.Parse(d.URL)
	if err != nil {
		return utils.MaskSecret(d.URL)
	}
	return u.Redacted()
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns host:port of the SMTP server.
func (m MailConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.App.Variant {
	case VariantFixed, VariantParameterized:
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration, "Unknown deployment variant", c.App.Variant)
	}
	if c.Database.URL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Database URL is required", "DATABASE_URL")
	}
	if _, err := url.Parse(c.Database.URL); err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Database URL is malformed", err.Error())
	}
	if c.Cache.URL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Redis URL is required", "REDIS_URL")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Server port out of range", fmt.Sprint(c.Server.Port))
	}
	hc := c.Startup.HealthCheck
	if hc.Retries <= 0 || hc.Interval <= 0 || hc.Timeout <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Health check interval, timeout and retries must be positive", "")
	}
	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.Port <= 0) {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Mail host and port are required when mail is enabled", "")
	}
	if c.Mail.QueueEnabled && c.Mail.Workers <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Mail workers must be positive", "")
	}
	if c.Auth.JWTSecret == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "JWT secret is required", "JWT_SECRET")
	}
	if c.IsProduction() && c.Auth.JWTSecret == defaultJWTSecret {
		return utils.NewAppError(utils.ErrCodeConfiguration, "JWT secret must be set in production", "JWT_SECRET")
	}
	return nil
}

// IsProduction reports whether the process runs in a production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.App.Environment)
	return env == "production" || env == "prod"
}
