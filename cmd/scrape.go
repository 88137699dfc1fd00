package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/taleon-tracker/internal/orchestrator"
)

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape NAME...",
		Short: "Scrape the named characters once, registering unknown ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			failed := 0
			for _, name := range args {
				report := app.Orchestrator().Scrape(cmd.Context(), name)
				printReport(cmd.OutOrStdout(), report)
				if !report.OK() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scrapes failed", failed, len(args))
			}
			return nil
		},
	}
}

func printReport(w io.Writer, r orchestrator.Report) {
	if !r.OK() {
		fmt.Fprintf(w, "%s\tfailed\tstage=%s outcome=%s reason=%q\n",
			r.Name, r.FailedStage, r.Result.Outcome, r.Reason())
		return
	}
	p := r.Result.Profile
	deaths := "unknown"
	if p.Deaths != nil {
		deaths = strconv.Itoa(*p.Deaths)
	}
	fmt.Fprintf(w, "%s\tok\tid=%d level=%d vocation=%q world=%q experience=%.0f deaths=%s\n",
		r.Name, r.Reconciliation.Character.ID, p.Level, p.Vocation, p.World, p.Experience, deaths)
}
