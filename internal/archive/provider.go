// Package archive stores raw fetched HTML in the bronze layer.
//
// Objects are gzip-compressed and keyed by fetch date so a day's pages can be
// replayed or audited without touching the warehouse. The Provider interface
// keeps the pipeline independent of the backing blob store (GCS, local disk,
// or nothing at all for dry runs).
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"
)

// Provider is the common interface for a bronze blob store.
type Provider interface {
	// Save uploads data to the given object key.
	Save(ctx context.Context, objectKey string, data []byte) error
	// Location names the bucket or base directory, recorded next to the
	// object key so the archive pointer is self-describing.
	Location() string
}

// NoOpProvider discards archives; useful for dry runs and tests.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and always returns nil.
func (NoOpProvider) Save(context.Context, string, []byte) error { return nil }

// Location for NoOpProvider is empty.
func (NoOpProvider) Location() string { return "" }

// ObjectKey builds the date-partitioned key for one fetched page:
// YYYY/MM/DD/<listing id>_<HHMMSS>.html.gz.
func ObjectKey(listingID int64, fetchedAt time.Time) string {
	ts := fetchedAt.UTC()
	return fmt.Sprintf("%s/%d_%s.html.gz", ts.Format("2006/01/02"), listingID, ts.Format("150405"))
}

// Compress gzips a raw HTML payload for archival.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
