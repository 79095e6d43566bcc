package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/keyshop/core/cmd"
	"github.com/m3rciful/keyshop/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the payment webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return corecmd.Run(cmd.Context(), serveOptions(rootOpts))
		},
	}
}

func serveOptions(rootOpts *RootOptions) corecmd.Options {
	return corecmd.Options{
		ConfigPath:        rootOpts.ConfigPath,
		ConfigEnvVar:      configEnvVar,
		DefaultConfigPath: defaultConfigPath,
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := app.LoadConfig(path)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: func(ctx context.Context, cc corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg, ok := cc.(*app.Config)
			if !ok {
				return nil, fmt.Errorf("unexpected config type %T", cc)
			}
			return app.Bootstrap(ctx, cfg)
		},
	}
}
