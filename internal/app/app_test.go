package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/keyshop/core/config"
	coredatabase "github.com/m3rciful/keyshop/core/database"
	tg "github.com/m3rciful/keyshop/core/telegram"
	"github.com/m3rciful/keyshop/internal/storage/storagetest"
)

const sampleConfig = `
telegram:
  token: "123:abc"
  admin_id: 42
database:
  driver: sqlite3
  path: /tmp/keyshop-test.db
shop:
  currency: eur
  session_ttl: 10m
payments:
  listen: ":8081"
  webhook_secret: s3cret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER_TOKEN", "from-env")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, int64(42), cfg.Telegram.AdminID)
	assert.Equal(t, coreconfig.RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, coredatabase.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "EUR", cfg.Shop.Currency)
	assert.Equal(t, 10*time.Minute, cfg.Shop.SessionTTL)
	assert.Equal(t, "from-env", cfg.Shop.ProviderToken)
	assert.Equal(t, "keyshop", cfg.Events.SubjectPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.TTL)
	assert.Same(t, &cfg.Config, cfg.CoreConfig())
}

func TestNormalizeErrors(t *testing.T) {
	base := func() Config {
		var c Config
		c.Telegram.Token = "t"
		c.Telegram.AdminID = 1
		c.Database = coredatabase.Config{Driver: "sqlite3", Path: "x.db"}
		return c
	}

	c := base()
	require.NoError(t, c.Normalize())
	assert.Equal(t, "USD", c.Shop.Currency)
	assert.Equal(t, 30*time.Minute, c.Shop.SessionTTL)
	assert.NotEmpty(t, c.Shop.PaymentInstructions)

	c = base()
	c.Telegram.AdminID = 0
	assert.ErrorContains(t, c.Normalize(), "admin_id")

	c = base()
	c.Shop.Currency = "euro"
	assert.ErrorContains(t, c.Normalize(), "shop.currency")

	c = base()
	c.Payments.Listen = ":8081"
	assert.ErrorContains(t, c.Normalize(), "webhook_secret")

	c = base()
	c.Database.Driver = "oracle"
	assert.ErrorContains(t, c.Normalize(), "database.driver")
}

func TestAssembleAndRunOptions(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "t"
	cfg.Telegram.AdminID = 42
	cfg.Database = coredatabase.Config{Driver: "sqlite3", Path: "unused.db"}
	require.NoError(t, cfg.Normalize())

	repo := storagetest.Open(t)
	a, err := New(cfg, repo.DB())
	require.NoError(t, err)

	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Same(t, cfg.CoreConfig(), opts.Config)
	assert.NotEmpty(t, opts.Middlewares)

	endpoints := map[any]bool{}
	for _, r := range opts.Routes {
		endpoints[r.Endpoint] = true
	}
	for _, ep := range []any{"/start", "/admin", "/orders", "/cancel", tele.OnCallback, tele.OnText, tele.OnPhoto, tele.OnDocument, tele.OnCheckout, tele.OnPayment} {
		assert.True(t, endpoints[ep], "missing route %v", ep)
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, opts.OnStart(ctx, tg.Runtime{}))
	cancel()
	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	assert.NoError(t, opts.OnStop(stopCtx, tg.Runtime{}))

	assert.NoError(t, a.Close())
}
