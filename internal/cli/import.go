package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/internal/app"
	"github.com/m3rciful/keyshop/internal/catalog"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import catalog items from a YAML file",
		Long: `Import reads a YAML file of the form

  items:
    - title: Steam key
      secret: AAAA-BBBB
      price: 9.99

validates every entry and stores them as available items.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, logger.Shutdown()) }()
			if err := app.Seed(cmd.Context(), cfg, catalog.Seeder(file)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with items")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
