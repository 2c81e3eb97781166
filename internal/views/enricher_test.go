package views

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseCountsPlainNumbers(t *testing.T) {
	t.Parallel()

	counts, err := ParseCounts([]byte(`{"data": {"101": 420, "102": 7}}`))
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{101: 420, 102: 7}, counts)
}

func TestParseCountsNestedObjects(t *testing.T) {
	t.Parallel()

	counts, err := ParseCounts([]byte(`{"data": {"101": {"nb_views": 420}, "102": {"views": 7}}}`))
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{101: 420, 102: 7}, counts)
}

func TestParseCountsDropsUnparseableEntries(t *testing.T) {
	t.Parallel()

	counts, err := ParseCounts([]byte(`{"data": {"101": 420, "abc": 5, "102": "nope", "103": {}}}`))
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{101: 420}, counts)
}

func TestParseCountsRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseCounts([]byte(`<html>not json</html>`))
	require.Error(t, err)
}

func TestEnrichTodayUpdatesSnapshots(t *testing.T) {
	t.Parallel()

	var requestedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {"101": 420, "102": {"nb_views": 7}}}`))
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	today := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	enricher := New(mock, srv.Client(), Config{
		BaseURL:   srv.URL,
		ChunkSize: 10,
	}, zap.NewNop())
	enricher.now = func() time.Time { return now }

	mock.ExpectQuery("SELECT listing_id").
		WithArgs(today).
		WillReturnRows(pgxmock.NewRows([]string{"listing_id"}).
			AddRow(int64(101)).
			AddRow(int64(102)))
	// Map iteration order is not fixed, so expectations are unordered.
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("UPDATE silver.listing_snapshot_daily").
		WithArgs(int64(101), today, int64(420)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE silver.listing_snapshot_daily").
		WithArgs(int64(102), today, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	updated, err := enricher.EnrichToday(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, updated)
	require.Equal(t, "/ms/views/kolesa/live/101,102/", requestedPath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichTodayNothingToDo(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	enricher := New(mock, nil, Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())

	mock.ExpectQuery("SELECT listing_id").
		WillReturnRows(pgxmock.NewRows([]string{"listing_id"}))

	updated, err := enricher.EnrichToday(context.Background())
	require.NoError(t, err)
	require.Zero(t, updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichTodayPausesBetweenChunks(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {}}`))
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	enricher := New(mock, srv.Client(), Config{
		BaseURL:   srv.URL,
		ChunkSize: 1,
	}, zap.NewNop())
	pauses := 0
	enricher.pause = func(context.Context) { pauses++ }

	mock.ExpectQuery("SELECT listing_id").
		WillReturnRows(pgxmock.NewRows([]string{"listing_id"}).
			AddRow(int64(101)).
			AddRow(int64(102)).
			AddRow(int64(103)))

	_, err = enricher.EnrichToday(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, requests)
	require.Equal(t, 2, pauses, "one pause between each pair of chunk requests")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichTodaySkipsFailedChunks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	enricher := New(mock, srv.Client(), Config{BaseURL: srv.URL}, zap.NewNop())

	mock.ExpectQuery("SELECT listing_id").
		WillReturnRows(pgxmock.NewRows([]string{"listing_id"}).AddRow(int64(101)))

	updated, err := enricher.EnrichToday(context.Background())
	require.NoError(t, err, "endpoint failure is not a pass failure")
	require.Zero(t, updated)
	require.NoError(t, mock.ExpectationsWereMet())
}
