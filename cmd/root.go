// Package cmd defines the tracker CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/taleon-tracker/internal/config"
	"github.com/JakeFAU/taleon-tracker/internal/server"
)

type configKeyType struct{}

// newApp is the application factory. It's a variable so tests can build the
// app with their own logger.
var newApp = server.Build

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Tracks character level, experience and deaths from the game's profile pages.",
		Long: `tracker scrapes character profile pages, keeps the current state of every
registered character and appends a history snapshot on every successful
scrape. It serves a small REST API and runs a daily sweep.`,
		SilenceUsage: true,

		// Loads configuration once; subcommands read it from the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); TRACKER_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// buildApp loads the config from cmd's context and builds the application.
func buildApp(cmd *cobra.Command) (*server.App, error) {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return nil, err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
