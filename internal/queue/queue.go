// Package queue implements the durable scrape queue backed by Postgres.
//
// One row exists per discovered listing id. Workers claim eligible rows under
// row-level locks with SKIP LOCKED so concurrent claimers never wait on each
// other, and drive each row through NEW/RETRY -> FETCHED or INACTIVE.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// State is the lifecycle state of a queue row.
type State string

// Queue row states. Rows are never deleted by the pipeline.
const (
	StateNew      State = "NEW"
	StateRetry    State = "RETRY"
	StateFetched  State = "FETCHED"
	StateInactive State = "INACTIVE"
)

// Entry is a claimed queue row handed to a fetch worker.
type Entry struct {
	ListingID int64
	URL       string
	Attempts  int
}

// maxBackoff caps the retry delay at one day.
const maxBackoff = 24 * time.Hour

// claimTTL is how long a claim stamp excludes a row from other claimers.
// A worker that crashes mid-batch loses its claims after this window.
const claimTTL = 15 * time.Minute

// Backoff returns the retry delay for the given attempt count:
// min(2^attempts minutes, 24h). No jitter at this layer; randomized delays
// happen in the fetch path.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^11 minutes already exceeds a day.
	if attempts > 11 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store provides the queue operations. All storage failures are returned to
// the caller; the queue never retries internally.
type Store struct {
	db  DB
	now func() time.Time
}

// New creates a Store on an existing pool.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
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

// Enqueue inserts a NEW row for the listing if absent and reports whether a
// row was inserted. Re-discovery of an existing id never touches its state
// or attempt count.
func (s *Store) Enqueue(ctx context.Context, listingID int64, url string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO ctl.scrape_queue (listing_id, url, state)
		VALUES ($1, $2, 'NEW')
		ON CONFLICT (listing_id) DO NOTHING
	`, listingID, url)
	if err != nil {
		return false, fmt.Errorf("enqueue listing %d: %w", listingID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimBatch atomically selects up to maxN eligible rows and stamps them as
// claimed so no concurrent claimer can select the same rows. Rows already
// locked by another claimer are skipped, not waited on.
func (s *Store) ClaimBatch(ctx context.Context, maxN int) ([]Entry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	rows, err := tx.Query(ctx, `
		SELECT listing_id, url, attempts
		FROM ctl.scrape_queue
		WHERE state IN ('NEW', 'RETRY')
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		  AND (claimed_at IS NULL OR claimed_at < NOW() - $2::interval)
		ORDER BY listing_id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, maxN, claimTTL.String())
	if err != nil {
		return nil, fmt.Errorf("select eligible rows: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ListingID, &e.URL, &e.Attempts)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan eligible rows: %w", err)
	}

	if len(entries) > 0 {
		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ListingID
		}
		if _, err := tx.Exec(ctx, `
			UPDATE ctl.scrape_queue SET claimed_at = NOW()
			WHERE listing_id = ANY($1)
		`, ids); err != nil {
			return nil, fmt.Errorf("stamp claims: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return entries, nil
}

// MarkAttempt records the attempt before processing starts, so a crash
// mid-fetch still counts it.
func (s *Store) MarkAttempt(ctx context.Context, listingID int64) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE ctl.scrape_queue
		SET last_attempt_at = NOW(), attempts = attempts + 1
		WHERE listing_id = $1
	`, listingID); err != nil {
		return fmt.Errorf("mark attempt for %d: %w", listingID, err)
	}
	return nil
}

// MarkSuccess sets the terminal state for this cycle (FETCHED or INACTIVE)
// and clears retry scheduling.
func (s *Store) MarkSuccess(ctx context.Context, listingID int64, state State, httpStatus int) error {
	if state != StateFetched && state != StateInactive {
		return fmt.Errorf("invalid success state %q for %d", state, listingID)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE ctl.scrape_queue
		SET state = $2, last_http_status = $3, last_error = NULL,
		    next_retry_at = NULL, claimed_at = NULL
		WHERE listing_id = $1
	`, listingID, state, httpStatus); err != nil {
		return fmt.Errorf("mark success for %d: %w", listingID, err)
	}
	return nil
}

// ScheduleRetry moves the row back to RETRY with an exponentially backed-off
// next_retry_at and the failure details attached.
func (s *Store) ScheduleRetry(ctx context.Context, listingID int64, attempts, httpStatus int, errText string) error {
	nextRetry := s.now().UTC().Add(Backoff(attempts))
	if _, err := s.db.Exec(ctx, `
		UPDATE ctl.scrape_queue
		SET state = 'RETRY', attempts = $2, last_http_status = $3,
		    last_error = $4, next_retry_at = $5, claimed_at = NULL
		WHERE listing_id = $1
	`, listingID, attempts, httpStatus, errText, nextRetry); err != nil {
		return fmt.Errorf("schedule retry for %d: %w", listingID, err)
	}
	return nil
}
