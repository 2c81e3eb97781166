// Package scan discovers listing ids from paginated index pages and seeds
// the scrape queue. Discovery is intentionally dumb: it only harvests ids,
// never listing fields, so a markup change on index pages cannot corrupt
// extracted data.
package scan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/aidosq/kolesa-ingest/internal/blocking"
	"github.com/aidosq/kolesa-ingest/internal/fetch"
	"github.com/aidosq/kolesa-ingest/internal/ingest"
	"github.com/aidosq/kolesa-ingest/internal/metrics"
	"github.com/aidosq/kolesa-ingest/internal/promote"
)

// Enqueuer is the queue surface discovery needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, listingID int64, url string) (bool, error)
}

// Prober is the cheap HTTP fetch; satisfied by *fetch.Probe.
type Prober interface {
	Fetch(ctx context.Context, pageURL string) (fetch.ProbeResult, error)
}

// Renderer is the headless fallback; satisfied by *fetch.Navigator.
type Renderer interface {
	FetchPage(ctx context.Context, pageURL, waitSelector string) (fetch.PageResult, error)
}

// Index pages embed listing ids in several shapes depending on A/B variant
// and render path; the union of all matchers keeps discovery robust.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`listing\.grid\.push\(\{\s*id:\s*(\d+)`),
	regexp.MustCompile(`/a/show/(\d+)`),
	regexp.MustCompile(`(?i)data-listing-id=["'](\d+)["']`),
	regexp.MustCompile(`(?i)href=["']/a/show/(\d+)`),
}

// ExtractIDs returns the sorted unique listing ids found in an index page.
func ExtractIDs(html string) []int64 {
	seen := map[int64]struct{}{}
	for _, re := range idPatterns {
		for _, match := range re.FindAllStringSubmatch(html, -1) {
			id, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil || id <= 0 {
				continue
			}
			seen[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListingURL builds the canonical detail-page URL stored in the queue.
func ListingURL(baseURL string, listingID int64) string {
	return fmt.Sprintf("%s/a/show/%d", baseURL, listingID)
}

// Config controls one discovery run.
type Config struct {
	BaseURL    string
	MaxPages   int
	SleepMinMs int
	SleepMaxMs int
}

// Scanner walks index pages and enqueues every id it finds.
type Scanner struct {
	probe     Prober
	renderer  Renderer
	heuristic *promote.Heuristic
	queue     Enqueuer
	stats     *ingest.Stats
	cfg       Config
	logger    *zap.Logger
}

// New wires a scanner. renderer may be nil to disable headless promotion.
func New(probe Prober, renderer Renderer, heuristic *promote.Heuristic, q Enqueuer, stats *ingest.Stats, cfg Config, logger *zap.Logger) *Scanner {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	return &Scanner{
		probe:     probe,
		renderer:  renderer,
		heuristic: heuristic,
		queue:     q,
		stats:     stats,
		cfg:       cfg,
		logger:    logger,
	}
}

// PageURL returns the index URL for a 1-based page number. Page 1 has no
// page parameter; the site redirects ?page=1 to the bare URL.
func (s *Scanner) PageURL(page int) string {
	if page <= 1 {
		return s.cfg.BaseURL + "/cars/"
	}
	return fmt.Sprintf("%s/cars/?page=%d", s.cfg.BaseURL, page)
}

// DiscoverPage fetches one index page and returns the ids on it. The probe
// result is promoted to a headless render when it looks script-populated.
func (s *Scanner) DiscoverPage(ctx context.Context, page int) ([]int64, error) {
	pageURL := s.PageURL(page)

	probed, err := s.probe.Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("probe page %d: %w", page, err)
	}

	html := string(probed.Body)
	status := probed.StatusCode
	if s.renderer != nil && s.heuristic != nil && s.heuristic.NeedsRender(status, probed.Body) {
		s.logger.Debug("promoting index page to headless render",
			zap.Int("page", page))
		rendered, err := s.renderer.FetchPage(ctx, pageURL, fetch.IndexWaitSelector)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", page, err)
		}
		html = rendered.HTML
		status = rendered.StatusCode
	}

	if err := blocking.Check(html, pageURL); err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("http %d on page %d", status, page)
	}
	return ExtractIDs(html), nil
}

// Run scans pages fromPage..toPage (inclusive, 1-based) and enqueues every
// discovered id. It stops early on an empty page or an anti-bot block;
// other per-page failures are logged and skipped. Returns the number of
// newly inserted queue rows.
func (s *Scanner) Run(ctx context.Context, fromPage, toPage int) (int, error) {
	if fromPage <= 0 {
		fromPage = 1
	}
	if toPage <= 0 || toPage > fromPage+s.cfg.MaxPages-1 {
		toPage = fromPage + s.cfg.MaxPages - 1
	}

	inserted := 0
	for page := fromPage; page <= toPage; page++ {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		ids, err := s.DiscoverPage(ctx, page)

		var blockErr *blocking.Error
		switch {
		case errors.As(err, &blockErr):
			s.stats.RecordBlocked()
			metrics.ObserveDiscoveryPage("blocked")
			s.logger.Warn("discovery blocked, stopping scan",
				zap.Int("page", page),
				zap.String("reason", blockErr.Reason))
			return inserted, nil

		case err != nil:
			metrics.ObserveDiscoveryPage("error")
			s.logger.Warn("index page failed, skipping",
				zap.Int("page", page),
				zap.Error(err))
			continue

		case len(ids) == 0:
			metrics.ObserveDiscoveryPage("empty")
			s.logger.Info("empty index page, stopping scan", zap.Int("page", page))
			return inserted, nil
		}

		metrics.ObserveDiscoveryPage("ok")
		metrics.ObserveDiscoveredIDs(len(ids))
		s.stats.RecordDiscovered(len(ids))

		for _, id := range ids {
			added, err := s.queue.Enqueue(ctx, id, ListingURL(s.cfg.BaseURL, id))
			if err != nil {
				return inserted, fmt.Errorf("enqueue %d: %w", id, err)
			}
			if added {
				inserted++
			}
		}
		s.logger.Info("scanned index page",
			zap.Int("page", page),
			zap.Int("ids", len(ids)),
			zap.Int("inserted_so_far", inserted))

		if page < toPage {
			fetch.Sleep(ctx, s.cfg.SleepMinMs, s.cfg.SleepMaxMs)
		}
	}
	return inserted, nil
}
