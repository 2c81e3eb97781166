package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newDiscoverCmd creates the 'discover' subcommand, which walks the paginated
// index and seeds the scrape queue with every listing id it finds.
func newDiscoverCmd() *cobra.Command {
	var (
		fromPage int
		toPage   int
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan index pages and enqueue discovered listing ids",
		Long: `Walks the paginated car index, harvests listing ids from each page and
inserts NEW rows into the scrape queue. Already-known ids are left untouched.
The scan stops early on an empty page or when anti-bot blocking is detected.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := a.Logger()

			start := time.Now()
			inserted, err := a.Scanner().Run(cmd.Context(), fromPage, toPage)
			if err != nil {
				return err
			}
			logger.Info("discovery finished",
				zap.Int("inserted", inserted),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		},
	}
	cmd.Flags().IntVar(&fromPage, "from", 1, "first index page to scan (1-based)")
	cmd.Flags().IntVar(&toPage, "to", 0, "last index page to scan (0 uses scan.max_pages)")
	return cmd
}
