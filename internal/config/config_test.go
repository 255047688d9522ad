package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongSecret = "this-is-a-very-secure-secret-key-for-production-use-1234"

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestNew_Defaults(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := New()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBAdapter)
	assert.Equal(t, "./data/tasks.db", cfg.SQLiteFile)
	assert.Equal(t, DefaultJWTSecret, cfg.JwtSecret)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, time.Hour, cfg.BlacklistSweepEvery)
	assert.Equal(t, "task-management-api", cfg.JwtIssuer)
	assert.Equal(t, "task-management-client", cfg.JwtAudience)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestNew_Production_RejectsDefaultSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  DefaultJWTSecret,
	})

	cfg, err := New()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be set in production")
}

func TestNew_Production_RejectsShortSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  "short-but-not-default",
	})

	_, err := New()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestNew_Production_AcceptsStrongSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  strongSecret,
	})

	cfg, err := New()

	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, strongSecret, cfg.JwtSecret)
}

func TestNew_Lifetimes(t *testing.T) {
	setEnvs(t, map[string]string{
		"JWT_EXPIRES_IN":           "900",
		"JWT_REFRESH_EXPIRES_IN":   "2w",
		"BLACKLIST_SWEEP_INTERVAL": "0",
	})

	cfg, err := New()

	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTTL)
	assert.Zero(t, cfg.BlacklistSweepEvery)
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
		want string
	}{
		{"bad port", map[string]string{"PORT": "http"}, "invalid PORT"},
		{"unknown adapter", map[string]string{"DB_ADAPTER": "mongo"}, "unsupported DB_ADAPTER"},
		{"bad lifetime", map[string]string{"JWT_EXPIRES_IN": "soon"}, "JWT_EXPIRES_IN"},
		{"zero lifetime", map[string]string{"JWT_EXPIRES_IN": "0"}, "must be positive"},
		{"refresh shorter", map[string]string{"JWT_EXPIRES_IN": "2h", "JWT_REFRESH_EXPIRES_IN": "1h"}, "shorter than access"},
		{"weak bcrypt", map[string]string{"BCRYPT_COST": "4"}, "BCRYPT_COST"},
		{"postgres without user", map[string]string{"DB_ADAPTER": "postgres", "POSTGRES_DB": "auth"}, "POSTGRES_USER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, tt.envs)
			_, err := New()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	c := &Config{PostgresHost: "db", PostgresPort: "5432", PostgresUser: "u", PostgresDB: "auth", PostgresSSLMode: "disable", PostgresPassword: "p"}
	dsn, err := c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u dbname=auth sslmode=disable password=p", dsn)

	c.PostgresDSN = "postgres://x"
	dsn, err = c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", dsn)
}

func TestParseLifetime(t *testing.T) {
	d, err := ParseLifetime("7d")
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, d)

	d, err = ParseLifetime("1h30m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = ParseLifetime("")
	assert.Error(t, err)
}
