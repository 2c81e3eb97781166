package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newFetchCmd creates the 'fetch' subcommand, which drains the scrape queue
// through the headless worker pool.
func newFetchCmd() *cobra.Command {
	var (
		batchSize int
		cycles    int
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Claim queued listings and fetch, extract and persist them",
		Long: `Claims eligible queue entries in batches and processes each through the
headless browser: fetch, blocking check, extraction, silver-layer upsert and
optional raw-HTML archiving. Failures are rescheduled with exponential
backoff. Runs the given number of cycles, or until the queue is drained
with --cycles=0.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := a.Logger()

			srv := a.OpsServer()
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warn("ops server stopped", zap.Error(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("ops server shutdown", zap.Error(err))
				}
			}()

			size := batchSize
			if size <= 0 {
				size = a.Config().Fetch.BatchSize
			}
			pool := a.Pool()

			totalFetched := 0
			for cycle := 1; cycles <= 0 || cycle <= cycles; cycle++ {
				fetched, claimed, err := pool.ProcessBatch(cmd.Context(), size)
				totalFetched += fetched
				if err != nil {
					return err
				}
				logger.Info("batch finished",
					zap.Int("cycle", cycle),
					zap.Int("claimed", claimed),
					zap.Int("fetched", fetched))
				if claimed == 0 {
					break
				}
			}
			logger.Info("fetch finished", zap.Int("total_fetched", totalFetched))
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 0, "entries per batch (0 uses fetch.batch_size)")
	cmd.Flags().IntVar(&cycles, "cycles", 1, "number of batches to run (0 runs until the queue is drained)")
	return cmd
}
