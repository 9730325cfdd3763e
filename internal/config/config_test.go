package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TOKEN_ENCRYPTION_KEY", "token-key-0123456789")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MAGIC_LINK_TTL", "30m")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 30*time.Minute, cfg.MagicLinkTTL)
	assert.Equal(t, int64(10<<20), cfg.PhotoMaxBytes)
	assert.True(t, cfg.RedisEnabled())
	assert.False(t, cfg.TwilioEnabled())
	assert.True(t, cfg.UsesDefaultDSN())
}

func TestLoadYAMLOverlayLosesToEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pal.yaml")
	yml := `
http_port: "7000"
jwt_secret: "` + testSecret + `"
token_encryption_key: "from-file-0123456789"
log_level: debug
twilio:
  account_sid: AC123
  auth_token: secret
  from_number: "+15550001111"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7100", cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.TwilioEnabled())
	assert.Equal(t, "+15550001111", cfg.Twilio.FromNumber)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "short jwt secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: true},
		{name: "missing encryption key", mutate: func(c *Config) { c.TokenEncryptionKey = "" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "non numeric port", mutate: func(c *Config) { c.HTTPPort = "http" }, wantErr: true},
		{name: "magic link ttl too short", mutate: func(c *Config) { c.MagicLinkTTL = time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.JWTSecret = testSecret
			cfg.TokenEncryptionKey = "token-key-0123456789"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
