// Package silver persists extracted listing records into the warehouse's
// silver layer: a current-state table, daily snapshots, and an append-only
// price-event log.
package silver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aidosq/kolesa-ingest/internal/ingest"
)

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store writes silver-layer rows. Writes are idempotent upserts keyed by
// listing_id, so concurrent workers never need to lock these tables: queue
// claim exclusivity already partitions listings across workers.
type Store struct {
	db DB
}

// New creates a Store on an existing pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// NewFromDSN connects a pool and wraps it in a Store.
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(pool), nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s != nil && s.db != nil {
		s.db.Close()
	}
}

// DB exposes the underlying pool so sibling components can share the
// connection instead of opening their own.
func (s *Store) DB() DB {
	return s.db
}

// PriceChange reports a detected transition between two observed prices.
type PriceChange struct {
	ListingID int64
	OldPrice  int64
	NewPrice  int64
	At        time.Time
}

// Upsert applies one fetched record atomically: it records a price event when
// the price moved, overwrites the current snapshot, and upserts today's daily
// snapshot. The returned PriceChange is nil when the price did not move.
//
// fetchedAt must be an instant with an explicit zone; the zero value is a
// caller error. Storage failures are returned as-is so the fetch worker can
// schedule a retry instead of dropping the record.
func (s *Store) Upsert(ctx context.Context, rec ingest.Record, fetchedAt time.Time) (*PriceChange, error) {
	if fetchedAt.IsZero() {
		return nil, fmt.Errorf("fetched_at must be set for listing %d", rec.ListingID)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var (
		oldPrice  *int64
		firstSeen = fetchedAt
	)
	err = tx.QueryRow(ctx, `
		SELECT price_kzt, first_seen_at
		FROM silver.listing_current
		WHERE listing_id = $1
	`, rec.ListingID).Scan(&oldPrice, &firstSeen)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read current snapshot for %d: %w", rec.ListingID, err)
	}

	var change *PriceChange
	if newPrice := rec.PriceKZT.Ptr(); oldPrice != nil && newPrice != nil && *oldPrice != *newPrice {
		// Idempotent: re-upserting the same observation never doubles events.
		if _, err := tx.Exec(ctx, `
			INSERT INTO silver.listing_price_event (listing_id, event_ts, old_price_kzt, new_price_kzt)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (listing_id, event_ts) DO NOTHING
		`, rec.ListingID, fetchedAt, *oldPrice, *newPrice); err != nil {
			return nil, fmt.Errorf("insert price event for %d: %w", rec.ListingID, err)
		}
		change = &PriceChange{
			ListingID: rec.ListingID,
			OldPrice:  *oldPrice,
			NewPrice:  *newPrice,
			At:        fetchedAt,
		}
	}

	photos := rec.Photos
	if photos == nil {
		photos = []string{}
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return nil, fmt.Errorf("marshal photos for %d: %w", rec.ListingID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO silver.listing_current (
			listing_id, url, title, price_kzt, city, region,
			make, model, generation, trim, car_year, mileage_km,
			body_type, engine_volume_l, engine_type, transmission, drivetrain,
			steering, color, customs_cleared, seller_name, seller_type,
			options_text, photos, first_seen_at, last_seen_at, is_active, payload_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, TRUE, $27
		)
		ON CONFLICT (listing_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			price_kzt = EXCLUDED.price_kzt,
			city = EXCLUDED.city,
			region = EXCLUDED.region,
			make = EXCLUDED.make,
			model = EXCLUDED.model,
			generation = EXCLUDED.generation,
			trim = EXCLUDED.trim,
			car_year = EXCLUDED.car_year,
			mileage_km = EXCLUDED.mileage_km,
			body_type = EXCLUDED.body_type,
			engine_volume_l = EXCLUDED.engine_volume_l,
			engine_type = EXCLUDED.engine_type,
			transmission = EXCLUDED.transmission,
			drivetrain = EXCLUDED.drivetrain,
			steering = EXCLUDED.steering,
			color = EXCLUDED.color,
			customs_cleared = EXCLUDED.customs_cleared,
			seller_name = EXCLUDED.seller_name,
			seller_type = EXCLUDED.seller_type,
			options_text = EXCLUDED.options_text,
			photos = EXCLUDED.photos,
			last_seen_at = EXCLUDED.last_seen_at,
			is_active = TRUE,
			payload_hash = EXCLUDED.payload_hash
	`,
		rec.ListingID, rec.URL, rec.Title.Ptr(), rec.PriceKZT.Ptr(), rec.City.Ptr(), rec.Region.Ptr(),
		rec.Make.Ptr(), rec.Model.Ptr(), rec.Generation.Ptr(), rec.Trim.Ptr(), rec.Year.Ptr(), rec.MileageKM.Ptr(),
		rec.BodyType.Ptr(), rec.EngineVolumeL.Ptr(), rec.EngineType.Ptr(), rec.Transmission.Ptr(), rec.Drivetrain.Ptr(),
		rec.Steering.Ptr(), rec.Color.Ptr(), rec.CustomsCleared.Ptr(), rec.SellerName.Ptr(), rec.SellerType,
		rec.OptionsText.Ptr(), photosJSON, firstSeen, fetchedAt, rec.Fingerprint(),
	); err != nil {
		return nil, fmt.Errorf("upsert current snapshot for %d: %w", rec.ListingID, err)
	}

	// views stays NULL here; a separate enrichment pass fills it in later.
	if _, err := tx.Exec(ctx, `
		INSERT INTO silver.listing_snapshot_daily (listing_id, snapshot_date, price_kzt, is_active, views, photo_count)
		VALUES ($1, $2, $3, TRUE, NULL, $4)
		ON CONFLICT (listing_id, snapshot_date) DO UPDATE SET
			price_kzt = EXCLUDED.price_kzt,
			is_active = TRUE,
			photo_count = EXCLUDED.photo_count
	`, rec.ListingID, snapshotDate(fetchedAt), rec.PriceKZT.Ptr(), rec.PhotoCount); err != nil {
		return nil, fmt.Errorf("upsert daily snapshot for %d: %w", rec.ListingID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert for %d: %w", rec.ListingID, err)
	}
	return change, nil
}

// Deactivate marks a confirmed-removed listing inactive in the current
// snapshot and in the daily snapshot for the observation date.
func (s *Store) Deactivate(ctx context.Context, listingID int64, at time.Time) error {
	if at.IsZero() {
		return fmt.Errorf("observation time must be set for listing %d", listingID)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE silver.listing_current SET is_active = FALSE WHERE listing_id = $1
	`, listingID); err != nil {
		return fmt.Errorf("deactivate current snapshot for %d: %w", listingID, err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE silver.listing_snapshot_daily
		SET is_active = FALSE
		WHERE listing_id = $1 AND snapshot_date = $2
	`, listingID, snapshotDate(at)); err != nil {
		return fmt.Errorf("deactivate daily snapshot for %d: %w", listingID, err)
	}
	return nil
}

// ArchiveMeta locates one archived raw HTML object for later audit.
type ArchiveMeta struct {
	ListingID  int64
	FetchedAt  time.Time
	Bucket     string
	ObjectKey  string
	SHA256     string
	HTTPStatus int
}

// RecordArchive stores the bronze-layer pointer and content hash for an
// archived page.
func (s *Store) RecordArchive(ctx context.Context, meta ArchiveMeta) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO bronze.raw_listing_html (listing_id, fetched_at, bucket, object_key, sha256, http_status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, meta.ListingID, meta.FetchedAt, meta.Bucket, meta.ObjectKey, meta.SHA256, meta.HTTPStatus); err != nil {
		return fmt.Errorf("record archive for %d: %w", meta.ListingID, err)
	}
	return nil
}

// snapshotDate derives the calendar date for daily snapshots from the fetch
// instant, normalized to UTC midnight.
func snapshotDate(at time.Time) time.Time {
	y, m, d := at.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
