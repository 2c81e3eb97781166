// The main package for the kolesa-ingest executable.
//
// Architecture overview:
//   - Discovery: internal/scan walks the paginated car index with a cheap
//     Colly probe, promotes script-populated pages to a headless Chromedp
//     render, and seeds ctl.scrape_queue with listing ids.
//   - Queue: internal/queue claims eligible rows under FOR UPDATE SKIP LOCKED
//     and drives them through NEW/RETRY -> FETCHED or INACTIVE with
//     exponential backoff on failures.
//   - Fetch pipeline: internal/fetch renders detail pages in headless Chrome,
//     checks for anti-bot walls, extracts records via internal/extract, and
//     persists them through internal/silver with price-change detection.
//     Raw HTML is gzip-archived to the bronze layer via internal/archive.
//   - Plumbing: Viper populates config from file/env; zap provides structured
//     logging; Prometheus metrics are exported on the ops endpoint; price
//     events optionally fan out to Pub/Sub.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aidosq/kolesa-ingest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
