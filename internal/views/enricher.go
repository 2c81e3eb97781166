// Package views backfills view counters onto daily snapshots from the site's
// public counter endpoint. Enrichment is best-effort: rows it cannot fill
// stay NULL and get another chance on the next run.
package views

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DB is the subset of pgxpool.Pool the enricher uses; pgxmock satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config controls the enrichment pass.
type Config struct {
	BaseURL   string
	UserAgent string
	ChunkSize int
	Timeout   time.Duration
}

// chunkPause spaces successive requests to the live counter endpoint.
const chunkPause = 500 * time.Millisecond

// Enricher fetches view counters in chunks and writes them back.
type Enricher struct {
	db     DB
	client *http.Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	pause  func(ctx context.Context)
}

// New wires an enricher; client may be nil to use a default.
func New(db DB, client *http.Client, cfg Config, logger *zap.Logger) *Enricher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Enricher{
		db:     db,
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		pause: func(ctx context.Context) {
			t := time.NewTimer(chunkPause)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// EnrichToday fills view counts for today's snapshot rows that still have
// NULL views. Returns the number of rows updated. Endpoint failures skip the
// affected chunk rather than failing the pass.
func (e *Enricher) EnrichToday(ctx context.Context) (int, error) {
	today := snapshotDate(e.now())

	rows, err := e.db.Query(ctx, `
		SELECT listing_id
		FROM silver.listing_snapshot_daily
		WHERE snapshot_date = $1 AND views IS NULL
		ORDER BY listing_id
	`, today)
	if err != nil {
		return 0, fmt.Errorf("select unenriched snapshots: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (int64, error) {
		var id int64
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan unenriched snapshots: %w", err)
	}
	if len(ids) == 0 {
		e.logger.Info("no snapshots need view enrichment")
		return 0, nil
	}

	updated := 0
	for start := 0; start < len(ids); start += e.cfg.ChunkSize {
		if start > 0 {
			e.pause(ctx)
		}
		end := start + e.cfg.ChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		counts, err := e.FetchCounts(ctx, chunk)
		if err != nil {
			e.logger.Warn("views chunk failed, skipping",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err))
			continue
		}

		for id, views := range counts {
			tag, err := e.db.Exec(ctx, `
				UPDATE silver.listing_snapshot_daily
				SET views = $3
				WHERE listing_id = $1 AND snapshot_date = $2
			`, id, today, views)
			if err != nil {
				return updated, fmt.Errorf("update views for %d: %w", id, err)
			}
			updated += int(tag.RowsAffected())
		}
	}
	e.logger.Info("view enrichment done",
		zap.Int("candidates", len(ids)),
		zap.Int("updated", updated))
	return updated, nil
}

// FetchCounts queries the counter endpoint for one chunk of ids.
func (e *Enricher) FetchCounts(ctx context.Context, ids []int64) (map[int64]int64, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	endpoint := fmt.Sprintf("%s/ms/views/kolesa/live/%s/", e.cfg.BaseURL, strings.Join(parts, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build views request: %w", err)
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("views request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("views endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read views response: %w", err)
	}
	return ParseCounts(body)
}

// ParseCounts decodes the counter payload. The endpoint has shipped both
// {"data": {"<id>": 123}} and {"data": {"<id>": {"nb_views": 123}}}, so both
// shapes are accepted; unparseable entries are dropped.
func ParseCounts(body []byte) (map[int64]int64, error) {
	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode views payload: %w", err)
	}

	counts := make(map[int64]int64, len(envelope.Data))
	for key, raw := range envelope.Data {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		if views, ok := decodeCount(raw); ok {
			counts[id] = views
		}
	}
	return counts, nil
}

func decodeCount(raw json.RawMessage) (int64, bool) {
	var direct int64
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, true
	}
	var nested map[string]json.Number
	if err := json.Unmarshal(raw, &nested); err != nil {
		return 0, false
	}
	for _, key := range []string{"nb_views", "views", "count", "value"} {
		if num, ok := nested[key]; ok {
			if v, err := num.Int64(); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func snapshotDate(at time.Time) time.Time {
	y, m, d := at.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
