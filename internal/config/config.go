package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "GITEVENTS"

	// MemoryDSN selects the in-process record store.
	MemoryDSN = "memory"

	defaultMaxBodyBytes = 25 << 20
)

type Config struct {
	Addr          string `mapstructure:"addr"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	MaxBodyBytes  int64  `mapstructure:"max_body_bytes"`

	DBDriver   string `mapstructure:"db_driver"`
	DBDSN      string `mapstructure:"db_dsn"`
	DBDialect  string `mapstructure:"db_dialect"`
	DBMigrate  bool   `mapstructure:"db_migrate"`
	DBHost     string `mapstructure:"db_host"`
	DBPort     string `mapstructure:"db_port"`
	DBName     string `mapstructure:"db_name"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`

	DB        DBTLSConfig     `mapstructure:"db"`
	Log       LogConfig       `mapstructure:"log"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	TLS       TLSConfig       `mapstructure:"tls"`
}

type DBTLSConfig struct {
	SSLMode     string `mapstructure:"sslmode"`
	SSLRootCert string `mapstructure:"sslrootcert"`
	SSLCert     string `mapstructure:"sslcert"`
	SSLKey      string `mapstructure:"sslkey"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	TimeKey string `mapstructure:"time_key"`
}

type AuditConfig struct {
	LogFile string `mapstructure:"log_file"`
}

type RateLimitConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	WebhookPerMinute int  `mapstructure:"webhook_per_min"`
	ReadPerMinute    int  `mapstructure:"read_per_min"`

	// TrustForwardedFor keys clients on X-Forwarded-For. Enable only behind
	// a proxy that overwrites the header.
	TrustForwardedFor bool `mapstructure:"trust_forwarded_for"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoadFromEnv reads GITEVENTS_* variables and an optional config.yaml. Every
// key has a default so that viper resolves nested keys from the environment
// when unmarshalling.
func LoadFromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":5000")
	v.SetDefault("webhook_secret", "")
	v.SetDefault("max_body_bytes", defaultMaxBodyBytes)
	v.SetDefault("db_driver", "")
	v.SetDefault("db_dsn", "")
	v.SetDefault("db_dialect", "")
	v.SetDefault("db_migrate", true)
	v.SetDefault("db_host", "")
	v.SetDefault("db_port", "")
	v.SetDefault("db_name", "")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db.sslmode", "")
	v.SetDefault("db.sslrootcert", "")
	v.SetDefault("db.sslcert", "")
	v.SetDefault("db.sslkey", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.time_key", "ts")
	v.SetDefault("audit.log_file", "")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.webhook_per_min", 600)
	v.SetDefault("rate_limit.read_per_min", 600)
	v.SetDefault("rate_limit.trust_forwarded_for", false)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gitevents/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	// Aliases understood by common hosting platforms. The prefixed name wins.
	_ = v.BindEnv("db_dsn", EnvPrefix+"_DB_DSN", "DATABASE_URL")
	_ = v.BindEnv("webhook_secret", EnvPrefix+"_WEBHOOK_SECRET", "GITHUB_WEBHOOK_SECRET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.DBDSN = strings.TrimSpace(c.DBDSN)
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBDialect = strings.ToLower(strings.TrimSpace(c.DBDialect))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	if c.DBDSN == "" {
		c.DBDSN = buildDSNFromParts(*c)
		if c.DBDSN != "" && c.DBDriver == "" {
			c.DBDriver = "pgx"
		}
	}
	if c.UseMemoryStore() {
		return
	}
	if c.DBDriver == "" {
		c.DBDriver = driverFromDSN(c.DBDSN)
	}
	if c.DBDialect == "" {
		c.DBDialect = dialectFromDriver(c.DBDriver)
	}
}

// UseMemoryStore reports whether GITEVENTS_DB_DSN selects the in-memory store.
func (c Config) UseMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(c.DBDSN), MemoryDSN)
}

func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Addr) == "" {
		problems = append(problems, "GITEVENTS_ADDR must not be empty")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		problems = append(problems, "GITEVENTS_WEBHOOK_SECRET (or GITHUB_WEBHOOK_SECRET) is required")
	}
	if c.MaxBodyBytes <= 0 {
		problems = append(problems, "GITEVENTS_MAX_BODY_BYTES must be positive")
	}
	if c.DBDSN == "" && hasAnyDBParts(c) && !hasAllDBParts(c) {
		problems = append(problems, "incomplete split DB config; set all of GITEVENTS_DB_HOST/GITEVENTS_DB_PORT/GITEVENTS_DB_NAME/GITEVENTS_DB_USER/GITEVENTS_DB_PASSWORD")
	} else if c.DBDSN == "" {
		problems = append(problems, "database connection is not configured; set GITEVENTS_DB_DSN (or DATABASE_URL), use GITEVENTS_DB_DSN=memory for a volatile store")
	}
	if c.DBDSN != "" && !c.UseMemoryStore() {
		switch c.DBDriver {
		case "":
			problems = append(problems, "GITEVENTS_DB_DRIVER is required when it cannot be derived from GITEVENTS_DB_DSN")
		case "pgx", "sqlite":
		default:
			problems = append(problems, fmt.Sprintf("GITEVENTS_DB_DRIVER must be one of: pgx, sqlite (got %q)", c.DBDriver))
		}
		if c.DBDialect != "postgres" && c.DBDialect != "sqlite" {
			problems = append(problems, fmt.Sprintf("GITEVENTS_DB_DIALECT must be one of: postgres, sqlite (got %q)", c.DBDialect))
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("GITEVENTS_LOG_LEVEL must be one of: debug, info, warn, error (got %q)", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console", "logfmt":
	default:
		problems = append(problems, fmt.Sprintf("GITEVENTS_LOG_FORMAT must be one of: json, console, logfmt (got %q)", c.Log.Format))
	}
	if c.RateLimit.Enabled && (c.RateLimit.WebhookPerMinute <= 0 || c.RateLimit.ReadPerMinute <= 0) {
		problems = append(problems, "GITEVENTS_RATE_LIMIT_WEBHOOK_PER_MIN and GITEVENTS_RATE_LIMIT_READ_PER_MIN must be positive when GITEVENTS_RATE_LIMIT_ENABLED=true")
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.CertFile) == "" {
		problems = append(problems, "GITEVENTS_TLS_CERT_FILE is required when GITEVENTS_TLS_ENABLED=true")
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.KeyFile) == "" {
		problems = append(problems, "GITEVENTS_TLS_KEY_FILE is required when GITEVENTS_TLS_ENABLED=true")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

type StartupSummary struct {
	Addr           string
	RepositoryMode string
	DBMigrate      bool
	MaxBodyBytes   int64
	LogFormat      string
	AuditLog       bool
	RateLimit      bool
	TLSEnabled     bool
}

func (c Config) Summary() StartupSummary {
	mode := "memory"
	if !c.UseMemoryStore() {
		mode = "sql:" + c.DBDialect
	}
	return StartupSummary{
		Addr:           c.Addr,
		RepositoryMode: mode,
		DBMigrate:      c.DBMigrate,
		MaxBodyBytes:   c.MaxBodyBytes,
		LogFormat:      c.Log.Format,
		AuditLog:       strings.TrimSpace(c.Audit.LogFile) != "",
		RateLimit:      c.RateLimit.Enabled,
		TLSEnabled:     c.TLS.Enabled,
	}
}

func driverFromDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx"
	case strings.HasPrefix(lower, "file:"), strings.HasPrefix(lower, "sqlite:"),
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), lower == ":memory:":
		return "sqlite"
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return "pgx"
	default:
		return ""
	}
}

func dialectFromDriver(driver string) string {
	switch driver {
	case "pgx", "postgres":
		return "postgres"
	case "sqlite":
		return "sqlite"
	default:
		return ""
	}
}

func hasAnyDBParts(c Config) bool {
	return strings.TrimSpace(c.DBHost) != "" ||
		strings.TrimSpace(c.DBPort) != "" ||
		strings.TrimSpace(c.DBName) != "" ||
		strings.TrimSpace(c.DBUser) != "" ||
		strings.TrimSpace(c.DBPassword) != ""
}

func hasAllDBParts(c Config) bool {
	return strings.TrimSpace(c.DBHost) != "" &&
		strings.TrimSpace(c.DBPort) != "" &&
		strings.TrimSpace(c.DBName) != "" &&
		strings.TrimSpace(c.DBUser) != "" &&
		strings.TrimSpace(c.DBPassword) != ""
}

func buildDSNFromParts(c Config) string {
	if !hasAllDBParts(c) {
		return ""
	}
	port := strings.TrimSpace(c.DBPort)
	if _, err := strconv.Atoi(port); err != nil {
		return ""
	}
	sslMode := strings.TrimSpace(c.DB.SSLMode)
	if sslMode == "" {
		sslMode = "disable"
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%s", c.DBHost, port),
		Path:   "/" + url.PathEscape(c.DBName),
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}
