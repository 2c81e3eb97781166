package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newViewsCmd creates the 'enrich-views' subcommand, which backfills view
// counters onto today's daily snapshots.
func newViewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich-views",
		Short: "Backfill view counts for today's snapshots",
		Long: `Queries the site's public view-counter endpoint for every snapshot row
created today that still has NULL views, and writes the counts back. Safe to
re-run; already-enriched rows are skipped.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			updated, err := a.ViewsEnricher().EnrichToday(cmd.Context())
			if err != nil {
				return err
			}
			a.Logger().Info("views enriched", zap.Int("updated", updated))
			return nil
		},
	}
	return cmd
}
