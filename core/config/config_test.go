package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Telegram: TelegramConfig{Token: "123:abc", AdminID: 42},
	}
}

func TestNormalizeDefaultsRunMode(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Normalize(&cfg))
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)

	cfg.Telegram.RunMode = "Polling"
	require.NoError(t, Normalize(&cfg))
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
}

func TestNormalizeRequiresTokenAndAdmin(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = " "
	assert.ErrorContains(t, Normalize(&cfg), "token")

	cfg = validConfig()
	cfg.Telegram.AdminID = 0
	assert.ErrorContains(t, Normalize(&cfg), "admin_id")
}

func TestNormalizeWebhookRequiresListener(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = RunModeWebhook
	cfg.Webhook.URL = "https://example.org/hook"
	assert.ErrorContains(t, Normalize(&cfg), "webhook.listen")

	cfg.Webhook.Listen = "0.0.0.0"
	cfg.Webhook.Port = 8443
	assert.NoError(t, Normalize(&cfg))
}

func TestNormalizeRateLimitExclusions(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.ExcludeUpdates = []string{" Callback ", "PAYMENT"}
	require.NoError(t, Normalize(&cfg))
	assert.Equal(t, []string{"callback", "payment"}, cfg.RateLimit.ExcludeUpdates)

	cfg.RateLimit.ExcludeUpdates = []string{"inline_query"}
	assert.Error(t, Normalize(&cfg))
}

func TestLoadOverlaysEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := "telegram:\n  token: from-file\n  admin_id: 7\nlogging:\n  level: info\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, int64(7), cfg.Telegram.AdminID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
