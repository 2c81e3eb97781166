// Package ingest defines the domain types shared across the ingestion pipeline.
package ingest

import (
	"encoding/json"

	"github.com/aidosq/kolesa-ingest/internal/hash/sha256"
)

// Confidence describes how a field value was obtained.
type Confidence int

// Confidence levels, ordered from missing to trustworthy.
const (
	// ConfidenceAbsent means the field was not found in the page.
	ConfidenceAbsent Confidence = iota
	// ConfidenceInferred means the value was guessed from loosely structured
	// text (for example make/model split out of the title) and may be wrong.
	ConfidenceInferred
	// ConfidenceExtracted means the value came from a dedicated element or
	// labeled attribute on the page.
	ConfidenceExtracted
)

// Field carries an optional extracted value together with its confidence.
// The zero value is an absent field.
type Field[T any] struct {
	Value      T
	Confidence Confidence
}

// Extracted wraps a value read directly from the page.
func Extracted[T any](v T) Field[T] {
	return Field[T]{Value: v, Confidence: ConfidenceExtracted}
}

// Inferred wraps a best-effort value derived from unstructured text.
func Inferred[T any](v T) Field[T] {
	return Field[T]{Value: v, Confidence: ConfidenceInferred}
}

// Present reports whether the field holds a value.
func (f Field[T]) Present() bool {
	return f.Confidence != ConfidenceAbsent
}

// Ptr returns a pointer to the value, or nil when the field is absent.
// This is the shape the SQL layer wants for nullable columns.
func (f Field[T]) Ptr() *T {
	if !f.Present() {
		return nil
	}
	v := f.Value
	return &v
}

// MarshalJSON encodes the value directly, or null when absent, so the
// record fingerprint only reflects observed content.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Present() {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Seller type classification derived from the seller block.
const (
	SellerTypeDealer  = "dealer"
	SellerTypePrivate = "private"
)

// Record is the structured output of parsing one listing detail page.
// Every field is best effort; absent fields stay at their zero Field value.
type Record struct {
	ListingID int64  `json:"listing_id"`
	URL       string `json:"url"`

	Title    Field[string] `json:"title"`
	PriceKZT Field[int64]  `json:"price_kzt"`

	City   Field[string] `json:"city"`
	Region Field[string] `json:"region"`

	Make       Field[string] `json:"make"`
	Model      Field[string] `json:"model"`
	Generation Field[string] `json:"generation"`
	Trim       Field[string] `json:"trim"`
	Year       Field[int]    `json:"car_year"`

	MileageKM      Field[int64]   `json:"mileage_km"`
	BodyType       Field[string]  `json:"body_type"`
	EngineVolumeL  Field[float64] `json:"engine_volume_l"`
	EngineType     Field[string]  `json:"engine_type"`
	Transmission   Field[string]  `json:"transmission"`
	Drivetrain     Field[string]  `json:"drivetrain"`
	Steering       Field[string]  `json:"steering"`
	Color          Field[string]  `json:"color"`
	CustomsCleared Field[bool]    `json:"customs_cleared"`

	SellerName Field[string] `json:"seller_name"`
	SellerType string        `json:"seller_type"`

	OptionsText Field[string] `json:"options_text"`
	Options     []string      `json:"options_list"`

	Photos     []string `json:"photos"`
	PhotoCount int      `json:"photo_count"`
}

// Fingerprint returns a stable content hash over the full normalized record,
// used by the silver layer to detect no-op updates cheaply.
func (r Record) Fingerprint() string {
	// encoding/json emits struct fields in declaration order, so the digest
	// is deterministic for equal records.
	payload, err := json.Marshal(r)
	if err != nil {
		// Record contains only marshalable types; this path is unreachable
		// but a panic here would violate the extractor's never-fail contract.
		return ""
	}
	return sha256.Hex(payload)
}
