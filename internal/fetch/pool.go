package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aidosq/kolesa-ingest/internal/archive"
	"github.com/aidosq/kolesa-ingest/internal/blocking"
	"github.com/aidosq/kolesa-ingest/internal/events"
	"github.com/aidosq/kolesa-ingest/internal/extract"
	"github.com/aidosq/kolesa-ingest/internal/hash/sha256"
	"github.com/aidosq/kolesa-ingest/internal/ingest"
	"github.com/aidosq/kolesa-ingest/internal/metrics"
	"github.com/aidosq/kolesa-ingest/internal/queue"
	"github.com/aidosq/kolesa-ingest/internal/silver"
)

// QueueStore is the queue surface the pool drives entries through.
type QueueStore interface {
	ClaimBatch(ctx context.Context, maxN int) ([]queue.Entry, error)
	MarkAttempt(ctx context.Context, listingID int64) error
	MarkSuccess(ctx context.Context, listingID int64, state queue.State, httpStatus int) error
	ScheduleRetry(ctx context.Context, listingID int64, attempts, httpStatus int, errText string) error
}

// ListingStore is the persistence surface for extracted records.
type ListingStore interface {
	Upsert(ctx context.Context, rec ingest.Record, fetchedAt time.Time) (*silver.PriceChange, error)
	Deactivate(ctx context.Context, listingID int64, at time.Time) error
	RecordArchive(ctx context.Context, meta silver.ArchiveMeta) error
}

// PageFetcher renders one page; satisfied by *Navigator.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL, waitSelector string) (PageResult, error)
}

// PoolConfig controls one batch run.
type PoolConfig struct {
	Concurrency int
	ArchiveRaw  bool
	SleepMinMs  int
	SleepMaxMs  int
}

// Pool claims queue entries and processes them concurrently. Per-listing
// failures are absorbed into retry scheduling; only queue storage failures
// abort a batch, since without the queue no outcome can be recorded.
type Pool struct {
	queue   QueueStore
	store   ListingStore
	fetcher PageFetcher
	archive archive.Provider
	events  events.Publisher
	stats   *ingest.Stats
	cfg     PoolConfig
	logger  *zap.Logger
	seen    *SeenSet
	now     func() time.Time
}

// NewPool wires a worker pool. archive and publisher may be nil to disable
// raw archiving and event publishing.
func NewPool(
	q QueueStore,
	store ListingStore,
	fetcher PageFetcher,
	provider archive.Provider,
	publisher events.Publisher,
	stats *ingest.Stats,
	cfg PoolConfig,
	logger *zap.Logger,
) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pool{
		queue:   q,
		store:   store,
		fetcher: fetcher,
		archive: provider,
		events:  publisher,
		stats:   stats,
		cfg:     cfg,
		logger:  logger,
		seen:    NewSeenSet(),
		now:     time.Now,
	}
}

// ProcessBatch claims up to batchSize entries and processes them with bounded
// concurrency. It returns how many listings reached FETCHED and how many were
// claimed; a zero claim count means the queue has no eligible work. When a
// worker hits an anti-bot block, entries not yet started are released back to
// the queue via retry scheduling while in-flight fetches run to completion.
func (p *Pool) ProcessBatch(ctx context.Context, batchSize int) (fetchedN, claimedN int, err error) {
	start := p.now()
	defer func() { metrics.ObserveBatchDuration(time.Since(start)) }()

	entries, err := p.queue.ClaimBatch(ctx, batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(entries) == 0 {
		p.logger.Info("no eligible queue entries")
		return 0, 0, nil
	}
	p.logger.Info("claimed batch", zap.Int("entries", len(entries)))

	var (
		blocked atomic.Bool
		fetched atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			if blocked.Load() {
				// Blocked mid-batch: this entry was never tried, so hand it
				// back with attempts untouched; inflating the count would
				// stretch its backoff for work that never ran.
				return p.queue.ScheduleRetry(gctx, entry.ListingID, entry.Attempts, 0, "batch aborted by blocking")
			}
			return p.processEntry(gctx, entry, &blocked, &fetched)
		})
	}
	if err := g.Wait(); err != nil {
		return int(fetched.Load()), len(entries), fmt.Errorf("process batch: %w", err)
	}

	p.stats.LogSummary(p.logger)
	return int(fetched.Load()), len(entries), nil
}

func (p *Pool) processEntry(ctx context.Context, entry queue.Entry, blocked *atomic.Bool, fetched *atomic.Int64) error {
	if err := p.queue.MarkAttempt(ctx, entry.ListingID); err != nil {
		return err
	}
	attempts := entry.Attempts + 1

	if p.seen.Contains(entry.ListingID) {
		// Already fetched in this process; only the success bookkeeping can
		// have failed, so settle the row instead of fetching again.
		p.stats.RecordDuplicate()
		metrics.ObserveListing(metrics.OutcomeDup)
		p.logger.Debug("skipping already-fetched listing", zap.Int64("listing_id", entry.ListingID))
		return p.queue.MarkSuccess(ctx, entry.ListingID, queue.StateFetched, 0)
	}

	rec, status, err := p.fetchListing(ctx, entry.ListingID, entry.URL, true, p.cfg.ArchiveRaw)

	var blockErr *blocking.Error
	switch {
	case errors.As(err, &blockErr):
		blocked.Store(true)
		p.stats.RecordBlocked()
		metrics.ObserveListing(metrics.OutcomeBlocked)
		p.logger.Warn("blocking detected, aborting batch",
			zap.Int64("listing_id", entry.ListingID),
			zap.String("reason", blockErr.Reason))
		return p.queue.ScheduleRetry(ctx, entry.ListingID, attempts, status, blockErr.Error())

	case err != nil:
		p.stats.RecordFailed(err.Error())
		metrics.ObserveListing(metrics.OutcomeRetry)
		p.logger.Warn("listing fetch failed",
			zap.Int64("listing_id", entry.ListingID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return p.queue.ScheduleRetry(ctx, entry.ListingID, attempts, status, err.Error())

	case rec == nil:
		// Confirmed removed from the site.
		p.seen.Mark(entry.ListingID)
		metrics.ObserveListing(metrics.OutcomeInactive)
		p.logger.Info("listing gone", zap.Int64("listing_id", entry.ListingID))
		return p.queue.MarkSuccess(ctx, entry.ListingID, queue.StateInactive, status)

	default:
		p.seen.Mark(entry.ListingID)
		fetched.Add(1)
		metrics.ObserveListing(metrics.OutcomeFetched)
		return p.queue.MarkSuccess(ctx, entry.ListingID, queue.StateFetched, status)
	}
}

// FetchOptions controls a single ad-hoc fetch.
type FetchOptions struct {
	Persist    bool
	ArchiveRaw bool
}

// FetchOne fetches and extracts a single listing outside the queue flow.
// It returns nil without error when the listing is confirmed removed.
func (p *Pool) FetchOne(ctx context.Context, listingID int64, pageURL string, opts FetchOptions) (*ingest.Record, error) {
	rec, _, err := p.fetchListing(ctx, listingID, pageURL, opts.Persist, opts.ArchiveRaw)
	return rec, err
}

// fetchListing is the shared fetch-extract-persist path. It returns a nil
// record with a 404 status for confirmed-removed listings. Persistence and
// archiving errors are returned so the caller can schedule a retry instead
// of losing the observation.
func (p *Pool) fetchListing(ctx context.Context, listingID int64, pageURL string, persist, archiveRaw bool) (*ingest.Record, int, error) {
	Sleep(ctx, p.cfg.SleepMinMs, p.cfg.SleepMaxMs)
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	fetchStart := p.now()
	res, err := p.fetcher.FetchPage(ctx, pageURL, DetailWaitSelector)
	metrics.ObserveFetchDuration(time.Since(fetchStart))
	if err != nil {
		return nil, 0, err
	}

	if err := blocking.Check(res.HTML, pageURL); err != nil {
		return nil, res.StatusCode, err
	}

	p.stats.RecordFetched(res.StatusCode)
	metrics.ObserveHTTPStatus(res.StatusCode)
	fetchedAt := p.now().UTC()

	// Archive before the status branch so removal pages leave bronze
	// evidence too.
	if archiveRaw && p.archive != nil {
		if err := p.archivePage(ctx, listingID, fetchedAt, res, persist); err != nil {
			return nil, res.StatusCode, err
		}
	}

	if res.StatusCode == http.StatusNotFound {
		if persist {
			if err := p.store.Deactivate(ctx, listingID, fetchedAt); err != nil {
				return nil, res.StatusCode, err
			}
		}
		return nil, res.StatusCode, nil
	}
	if res.StatusCode >= 400 {
		return nil, res.StatusCode, fmt.Errorf("http %d for listing %d", res.StatusCode, listingID)
	}

	rec := extract.Parse(res.HTML, res.URL, listingID)
	p.stats.RecordParsed()

	if persist {
		change, err := p.store.Upsert(ctx, rec, fetchedAt)
		if err != nil {
			return nil, res.StatusCode, err
		}
		if change != nil {
			metrics.ObservePriceEvent()
			p.logger.Info("price changed",
				zap.Int64("listing_id", change.ListingID),
				zap.Int64("old_price_kzt", change.OldPrice),
				zap.Int64("new_price_kzt", change.NewPrice))
			if p.events != nil {
				if err := p.events.PublishPriceChange(ctx, *change); err != nil {
					// The event is derivable from the price-event table, so a
					// publish failure must not fail the already-committed upsert.
					p.logger.Warn("publish price change failed",
						zap.Int64("listing_id", change.ListingID),
						zap.Error(err))
				}
			}
		}
	}
	return &rec, res.StatusCode, nil
}

func (p *Pool) archivePage(ctx context.Context, listingID int64, fetchedAt time.Time, res PageResult, persist bool) error {
	raw := []byte(res.HTML)
	compressed, err := archive.Compress(raw)
	if err != nil {
		return fmt.Errorf("compress page for %d: %w", listingID, err)
	}
	key := archive.ObjectKey(listingID, fetchedAt)
	if err := p.archive.Save(ctx, key, compressed); err != nil {
		return fmt.Errorf("archive page for %d: %w", listingID, err)
	}
	if !persist {
		return nil
	}
	return p.store.RecordArchive(ctx, silver.ArchiveMeta{
		ListingID:  listingID,
		FetchedAt:  fetchedAt,
		Bucket:     p.archive.Location(),
		ObjectKey:  key,
		SHA256:     sha256.Hex(raw),
		HTTPStatus: res.StatusCode,
	})
}
