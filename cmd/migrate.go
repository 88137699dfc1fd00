package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/taleon-tracker/internal/logging"
	"github.com/JakeFAU/taleon-tracker/internal/server"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			return server.Migrate(cmd.Context(), cfg, logger)
		},
	}
}
