package silver

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/aidosq/kolesa-ingest/internal/ingest"
)

func int64Ptr(v int64) *int64 { return &v }

func testRecord(price int64) ingest.Record {
	return ingest.Record{
		ListingID: 101,
		URL:       "https://kolesa.kz/a/show/101",
		Title:     ingest.Extracted("Toyota Camry 2018"),
		PriceKZT:  ingest.Extracted(price),
		City:      ingest.Extracted("Алматы"),
		Make:      ingest.Inferred("Toyota"),
		Model:     ingest.Inferred("Camry"),
		Year:      ingest.Inferred(2018),
	}
}

func TestUpsertEmitsPriceChange(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	fetchedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	firstSeen := fetchedAt.Add(-48 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT price_kzt, first_seen_at").
		WithArgs(int64(101)).
		WillReturnRows(pgxmock.NewRows([]string{"price_kzt", "first_seen_at"}).
			AddRow(int64Ptr(12000000), firstSeen))
	mock.ExpectExec("INSERT INTO silver.listing_price_event").
		WithArgs(int64(101), fetchedAt, int64(12000000), int64(12500000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO silver.listing_current").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO silver.listing_snapshot_daily").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	change, err := store.Upsert(context.Background(), testRecord(12500000), fetchedAt)
	require.NoError(t, err)
	require.NotNil(t, change)
	require.Equal(t, int64(12000000), change.OldPrice)
	require.Equal(t, int64(12500000), change.NewPrice)
	require.Equal(t, fetchedAt, change.At)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSamePriceEmitsNothing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	fetchedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT price_kzt, first_seen_at").
		WithArgs(int64(101)).
		WillReturnRows(pgxmock.NewRows([]string{"price_kzt", "first_seen_at"}).
			AddRow(int64Ptr(12500000), fetchedAt.Add(-time.Hour)))
	mock.ExpectExec("INSERT INTO silver.listing_current").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO silver.listing_snapshot_daily").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	change, err := store.Upsert(context.Background(), testRecord(12500000), fetchedAt)
	require.NoError(t, err)
	require.Nil(t, change)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFirstObservation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	fetchedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT price_kzt, first_seen_at").
		WithArgs(int64(101)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO silver.listing_current").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO silver.listing_snapshot_daily").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	change, err := store.Upsert(context.Background(), testRecord(12500000), fetchedAt)
	require.NoError(t, err)
	require.Nil(t, change, "first observation has no previous price to compare")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsZeroFetchedAt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	_, err = store.Upsert(context.Background(), testRecord(1), time.Time{})
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateTouchesBothTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	at := time.Date(2025, 6, 1, 23, 45, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE silver.listing_current SET is_active").
		WithArgs(int64(101)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE silver.listing_snapshot_daily").
		WithArgs(int64(101), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Deactivate(context.Background(), 101, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordArchive(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	fetchedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO bronze.raw_listing_html").
		WithArgs(int64(101), fetchedAt, "archive-bucket", "2025/06/01/101_093000.html.gz", "deadbeef", 200).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.RecordArchive(context.Background(), ArchiveMeta{
		ListingID:  101,
		FetchedAt:  fetchedAt,
		Bucket:     "archive-bucket",
		ObjectKey:  "2025/06/01/101_093000.html.gz",
		SHA256:     "deadbeef",
		HTTPStatus: 200,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
