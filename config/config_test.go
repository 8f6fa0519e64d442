package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PORT", "")
	t.Setenv("TOKEN_TTL", "")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test ,")

	cfg := LoadConfig()
	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	t.Run("mongo without uri", func(t *testing.T) {
		cfg := &Config{StoreDriver: DriverMongo, JWTSecret: "x", TokenTTL: time.Hour}
		assert.Error(t, cfg.Validate())
	})

	t.Run("production without secret", func(t *testing.T) {
		cfg := &Config{Env: "production", StoreDriver: DriverMemory, TokenTTL: time.Hour}
		assert.Error(t, cfg.Validate())
	})

	t.Run("development falls back to dev secret", func(t *testing.T) {
		cfg := &Config{StoreDriver: DriverMemory, TokenTTL: time.Hour}
		require.NoError(t, cfg.Validate())
		assert.NotEmpty(t, cfg.JWTSecret)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := &Config{StoreDriver: "postgres", JWTSecret: "x", TokenTTL: time.Hour}
		assert.Error(t, cfg.Validate())
	})
}

func TestNewLoggerWritesToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{LogLevel: "debug"}, &buf)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
}
