// Package cli implements the keyshop command line.
package cli

import (
	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/keyshop/core/cmd"
	"github.com/m3rciful/keyshop/internal/app"
)

const (
	configEnvVar      = "CONFIG_PATH"
	defaultConfigPath = "config.yaml"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the keyshop root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "keyshop",
		Short: "Telegram shop selling one-time secrets",
		Long: `keyshop runs a Telegram storefront that sells digital items (license keys,
codes) and releases each secret exactly once after its payment is confirmed.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"path to config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func (o *RootOptions) loadConfig() (*app.Config, error) {
	path, err := corecmd.ResolveConfigPath(o.ConfigPath, configEnvVar, defaultConfigPath)
	if err != nil {
		return nil, err
	}
	return app.LoadConfig(path)
}
