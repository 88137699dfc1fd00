package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Scrape every registered character once, in sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			summary := app.Orchestrator().ScrapeAll(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sweep %s: %d/%d succeeded in %s\n",
				summary.SweepID, summary.Succeeded, summary.Total, summary.Duration.Round(time.Millisecond))
			if len(summary.Failed) > 0 {
				fmt.Fprintf(out, "failed: %s\n", strings.Join(summary.Failed, ", "))
			}
			return nil
		},
	}
}
