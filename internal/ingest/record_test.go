package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldZeroValueIsAbsent(t *testing.T) {
	t.Parallel()

	var f Field[string]
	require.False(t, f.Present())
	require.Nil(t, f.Ptr())

	out, err := json.Marshal(f)
	require.NoError(t, err)
	require.Equal(t, "null", string(out))
}

func TestFieldConstructors(t *testing.T) {
	t.Parallel()

	e := Extracted("Алматы")
	require.True(t, e.Present())
	require.Equal(t, ConfidenceExtracted, e.Confidence)
	require.Equal(t, "Алматы", *e.Ptr())

	i := Inferred(2018)
	require.True(t, i.Present())
	require.Equal(t, ConfidenceInferred, i.Confidence)
}

func TestFieldPtrCopiesValue(t *testing.T) {
	t.Parallel()

	f := Extracted(int64(100))
	p := f.Ptr()
	*p = 200
	require.Equal(t, int64(100), f.Value, "Ptr must not alias the field")
}

func TestFieldMarshalUnwrapsValue(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Extracted(int64(12500000)))
	require.NoError(t, err)
	require.Equal(t, "12500000", string(out))
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := Record{ListingID: 101, URL: "u", Title: Extracted("Camry"), PriceKZT: Extracted(int64(1))}
	b := Record{ListingID: 101, URL: "u", Title: Extracted("Camry"), PriceKZT: Extracted(int64(1))}
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.Len(t, a.Fingerprint(), 64)
}

func TestFingerprintReflectsContent(t *testing.T) {
	t.Parallel()

	a := Record{ListingID: 101, PriceKZT: Extracted(int64(1))}
	b := Record{ListingID: 101, PriceKZT: Extracted(int64(2))}
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	// Confidence is not serialized, so upgrading inferred to extracted with
	// the same value does not change the hash.
	c := Record{ListingID: 101, PriceKZT: Inferred(int64(1))}
	require.Equal(t, a.Fingerprint(), c.Fingerprint())
}
