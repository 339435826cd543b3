package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Default)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Connect)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Read)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Write)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Cache.StaleWhileRevalidate)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 2000, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.Timeout)
	assert.True(t, cfg.Logging.Categories.RateLimit)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "bot-secret")

	path := writeConfig(t, `
discord:
  bot_token: ${TEST_BOT_TOKEN}
retry:
  max_attempts: 5
  base_delay: 500ms
cache:
  enabled: false
  ttl: 2m
logging:
  categories:
    cache: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bot-secret", cfg.Discord.BotToken)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Logging.Categories.Cache)
	assert.True(t, cfg.Logging.Categories.Retry)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SHOPCORD_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("SHOPCORD_CACHE_TTL", "30s")
	t.Setenv("SHOPCORD_DISCORD_CLIENT_ID", "123")
	t.Setenv("SHOPCORD_LOG_CATEGORY_HEALTH", "false")

	path := writeConfig(t, "retry:\n  max_attempts: 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "123", cfg.Discord.ClientID)
	assert.False(t, cfg.Logging.Categories.Health)
}

func TestLoad_ValidationListsEveryField(t *testing.T) {
	path := writeConfig(t, `
retry:
  max_attempts: 11
  base_delay: 50ms
cache:
  ttl: 5s
  max_size: 5
coordinator:
  timeout: 0s
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var v *ValidationError
	require.True(t, errors.As(err, &v))

	fields := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{
		"retry.max_attempts",
		"retry.base_delay",
		"cache.ttl",
		"cache.max_size",
		"coordinator.timeout",
	}, fields)
	assert.Contains(t, err.Error(), "retry.max_attempts=11")
}

func TestValidate_MaxDelayBelowBase(t *testing.T) {
	cfg := Default()
	cfg.Retry.BaseDelay = 5 * time.Second
	cfg.Retry.MaxDelay = 2 * time.Second

	err := cfg.Validate()
	require.Error(t, err)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "retry.max_delay", fe.Field)
}

func TestValidate_BoundariesAccepted(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 0
	cfg.Retry.BaseDelay = 100 * time.Millisecond
	cfg.Retry.MaxDelay = 60 * time.Second
	cfg.Cache.TTL = time.Hour
	cfg.Cache.MaxSize = 10

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}
