package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/keyshop/core/config"
	coretelegram "github.com/m3rciful/keyshop/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type app struct {
	closed bool
}

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{}, nil
}

func (a *app) Close() error {
	a.closed = true
	return nil
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("KEYSHOP_CONFIG", "/etc/keyshop.yaml")

	p, err := ResolveConfigPath("cli.yaml", "KEYSHOP_CONFIG", "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "cli.yaml", p)

	p, err = ResolveConfigPath("", "KEYSHOP_CONFIG", "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/keyshop.yaml", p)

	p, err = ResolveConfigPath("", "UNSET_KEYSHOP_VAR", "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", p)

	_, err = ResolveConfigPath("", "UNSET_KEYSHOP_VAR", "")
	assert.Error(t, err)
}

func TestRunWrapsHooksAndClosesApp(t *testing.T) {
	a := &app{}
	var started, stopped bool
	err := Run(context.Background(), Options{
		ConfigPath: "config.yaml",
		LoadConfig: func(string) (ConfigCarrier, error) {
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap:      func(context.Context, ConfigCarrier) (TelegramApp, error) { return a, nil },
		ShutdownLogger: func() error { return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			require.NoError(t, opts.OnStart(ctx, coretelegram.Runtime{}))
			started = true
			require.NoError(t, opts.OnStop(ctx, coretelegram.Runtime{}))
			stopped = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, stopped)
	assert.True(t, a.closed)
}

func TestRunReportsBootstrapFailure(t *testing.T) {
	err := Run(context.Background(), Options{
		ConfigPath: "config.yaml",
		LoadConfig: func(string) (ConfigCarrier, error) {
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(context.Context, ConfigCarrier) (TelegramApp, error) {
			return nil, errors.New("db down")
		},
	})
	assert.ErrorContains(t, err, "bootstrap failed: db down")
}
