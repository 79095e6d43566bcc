package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/keyshop/core/buildinfo"
	corecmd "github.com/m3rciful/keyshop/core/cmd"
	"github.com/m3rciful/keyshop/internal/app"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "migrate", "import", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "keyshop "+buildinfo.String()+"\n", out)
}

func TestImportRequiresFile(t *testing.T) {
	_, err := execute(t, "import")
	assert.ErrorContains(t, err, `required flag(s) "file" not set`)
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "migrate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestServeOptions(t *testing.T) {
	opts := serveOptions(&RootOptions{ConfigPath: "shop.yaml"})
	assert.Equal(t, "shop.yaml", opts.ConfigPath)
	assert.Equal(t, configEnvVar, opts.ConfigEnvVar)

	_, err := opts.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = opts.Bootstrap(context.Background(), foreignConfig{})
	assert.ErrorContains(t, err, "unexpected config type")
}

type foreignConfig struct{ corecmd.ConfigCarrier }

// Runs last: it initializes and then shuts down the global logger.
func TestImportEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	itemsPath := filepath.Join(dir, "items.yaml")
	dbPath := filepath.Join(dir, "shop.db")

	require.NoError(t, os.WriteFile(cfgPath, []byte(`
telegram:
  token: "1:x"
  admin_id: 7
logging:
  level: error
database:
  driver: sqlite3
  path: `+dbPath+`
`), 0o600))
	require.NoError(t, os.WriteFile(itemsPath, []byte(`
items:
  - {title: Key one, secret: K1, price: "1.50"}
  - {title: Key two, secret: K2, price: 3}
`), 0o600))

	out, err := execute(t, "import", "-c", cfgPath, "-f", itemsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported "+itemsPath)

	cfg, err := app.LoadConfig(cfgPath)
	require.NoError(t, err)
	a, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	items, err := a.Repo.ListItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
