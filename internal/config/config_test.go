package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "self", cfg.TokenIssuer)
	assert.Equal(t, 2048, cfg.RSAKeyBits)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 10, cfg.AuthRateLimitRPM)
	assert.False(t, cfg.BootstrapAdminEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/lending.db")
	t.Setenv("TOKEN_TTL", "5m")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("BOOTSTRAP_ADMIN_EMAIL", "root@example.com")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "s3cret-pass")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/lending.db", cfg.SQLitePath)
	assert.Equal(t, 5*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.BootstrapAdminEnabled())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServerPort:     "8080",
			RequestTimeout: time.Second,
			StoreDriver:    DriverPostgres,
			DatabaseURL:    "postgres://localhost/lending",
			DBMaxConns:     10,
			DBMinConns:     2,
			TokenTTL:       time.Minute,
			RSAKeyBits:     2048,
			BcryptCost:     10,
			LogFormat:      "pretty",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }},
		{"min above max conns", func(c *Config) { c.DBMinConns = 20 }},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }},
		{"sqlite without path", func(c *Config) { c.StoreDriver = DriverSQLite; c.SQLitePath = " " }},
		{"zero ttl", func(c *Config) { c.TokenTTL = 0 }},
		{"weak rsa key", func(c *Config) { c.RSAKeyBits = 1024 }},
		{"bcrypt cost too high", func(c *Config) { c.BcryptCost = 40 }},
		{"half bootstrap admin", func(c *Config) { c.BootstrapAdminEmail = "root@example.com" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"empty port", func(c *Config) { c.ServerPort = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
