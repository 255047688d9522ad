package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/xhit/go-str2duration/v2"
)

// DefaultJWTSecret is accepted outside production only.
const DefaultJWTSecret = "change-me"

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DBAdapter  string `env:"DB_ADAPTER" envDefault:"sqlite"`
	SQLiteFile string `env:"SQLITE_FILE" envDefault:"./data/tasks.db"`

	// PostgreSQL connection settings
	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Optional; when set the token blacklist is kept in Redis.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JwtSecret        string `env:"JWT_SECRET" envDefault:"change-me"`
	JwtExpiresIn     string `env:"JWT_EXPIRES_IN" envDefault:"1h"`
	JwtRefreshExpiry string `env:"JWT_REFRESH_EXPIRES_IN" envDefault:"7d"`
	JwtIssuer        string `env:"JWT_ISSUER" envDefault:"task-management-api"`
	JwtAudience      string `env:"JWT_AUDIENCE" envDefault:"task-management-client"`

	BcryptCost    int    `env:"BCRYPT_COST" envDefault:"12"`
	SweepInterval string `env:"BLACKLIST_SWEEP_INTERVAL" envDefault:"1h"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Parsed from the string fields above.
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	BlacklistSweepEvery time.Duration
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "production", "prod":
		return true
	}
	return false
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}
	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresDB, c.PostgresSSLMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// New loads configuration from the environment and refuses to return an
// unsafe or inconsistent one.
func New() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: sqlite, postgres, memory)", c.DBAdapter)
	}

	if c.IsProduction() {
		if c.JwtSecret == "" || c.JwtSecret == DefaultJWTSecret {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
		if len(c.JwtSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JwtSecret))
		}
	}
	if c.JwtSecret == "" {
		return nil, errors.New("JWT_SECRET must not be empty")
	}

	var err error
	if c.AccessTTL, err = ParseLifetime(c.JwtExpiresIn); err != nil {
		return nil, fmt.Errorf("JWT_EXPIRES_IN: %w", err)
	}
	if c.RefreshTTL, err = ParseLifetime(c.JwtRefreshExpiry); err != nil {
		return nil, fmt.Errorf("JWT_REFRESH_EXPIRES_IN: %w", err)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if c.RefreshTTL < c.AccessTTL {
		return nil, fmt.Errorf("refresh lifetime %s is shorter than access lifetime %s", c.RefreshTTL, c.AccessTTL)
	}

	if c.BlacklistSweepEvery, err = ParseLifetime(c.SweepInterval); err != nil {
		return nil, fmt.Errorf("BLACKLIST_SWEEP_INTERVAL: %w", err)
	}
	if c.BlacklistSweepEvery < 0 {
		return nil, errors.New("BLACKLIST_SWEEP_INTERVAL must not be negative")
	}

	if c.BcryptCost < 10 {
		return nil, fmt.Errorf("BCRYPT_COST must be at least 10, got %d", c.BcryptCost)
	}

	return c, nil
}

// ParseLifetime accepts Go durations with day and week units ("7d", "1w2d")
// or a bare number of seconds.
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return str2duration.ParseDuration(s)
}
