package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/internal/app"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, logger.Shutdown()) }()
			if err := app.Migrate(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Database.Target())
			return nil
		},
	}
}
