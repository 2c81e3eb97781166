// Package extract turns raw listing HTML into structured records.
//
// Parsing is tolerant by contract: every field is best effort, missing data
// leaves the field absent, and no input can make Parse fail. The source
// markup shifts between site revisions, so labeled attributes go through a
// table of label rules rather than hard-coded document positions.
package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aidosq/kolesa-ingest/internal/ingest"
)

const defaultOrigin = "https://kolesa.kz"

// optionsMaxLines caps how far the options section scan runs past its header.
const optionsMaxLines = 20

// Digit groups allow only space and no-break space as separators; anything
// broader would glue numbers from adjacent text lines together.
var (
	priceRe     = regexp.MustCompile(`(\d[\d \x{00a0}]*)₸`)
	mileageRe   = regexp.MustCompile(`(?i)(\d+(?:[ \x{00a0}]*\d+)*)[ \x{00a0}]*(?:км|km)`)
	engineVolRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	engineTypRe = regexp.MustCompile(`\(([^)]+)\)`)
	yearRe      = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// labelRule maps a spec label line to the record field it fills. The value is
// the first non-empty line after the label. New labels are additive entries
// here, not structural parser changes.
type labelRule struct {
	label  string
	assign func(r *ingest.Record, value string)
}

var labelRules = []labelRule{
	{"Город", func(r *ingest.Record, v string) { r.City = ingest.Extracted(v) }},
	{"Регион", func(r *ingest.Record, v string) { r.Region = ingest.Extracted(v) }},
	{"Область", func(r *ingest.Record, v string) {
		if !r.Region.Present() {
			r.Region = ingest.Extracted(v)
		}
	}},
	{"Поколение", func(r *ingest.Record, v string) { r.Generation = ingest.Extracted(v) }},
	{"Кузов", func(r *ingest.Record, v string) { r.BodyType = ingest.Extracted(v) }},
	{"Коробка передач", func(r *ingest.Record, v string) { r.Transmission = ingest.Extracted(v) }},
	{"Привод", func(r *ingest.Record, v string) { r.Drivetrain = ingest.Extracted(v) }},
	{"Руль", func(r *ingest.Record, v string) { r.Steering = ingest.Extracted(v) }},
	{"Цвет", func(r *ingest.Record, v string) { r.Color = ingest.Extracted(v) }},
	{"Растаможен в Казахстане", assignCustoms},
	{"Объем двигателя, л", assignEngine},
	{"Пробег", assignMileageLabel},
	{"Пробег, км", assignMileageLabel},
}

func assignCustoms(r *ingest.Record, v string) {
	switch v {
	case "Да":
		r.CustomsCleared = ingest.Extracted(true)
	case "Нет":
		r.CustomsCleared = ingest.Extracted(false)
	}
}

// assignEngine parses the single labeled value of the form "1.5 (бензин)".
func assignEngine(r *ingest.Record, v string) {
	if m := engineVolRe.FindStringSubmatch(v); m != nil {
		if vol, err := strconv.ParseFloat(m[1], 64); err == nil {
			r.EngineVolumeL = ingest.Extracted(vol)
		}
	}
	if m := engineTypRe.FindStringSubmatch(v); m != nil {
		if typ := clean(m[1]); typ != "" {
			r.EngineType = ingest.Extracted(typ)
		}
	}
}

// assignMileageLabel is the fallback when no unit-suffixed number appears in
// the free text; it scopes the same pattern to the labeled mileage line.
func assignMileageLabel(r *ingest.Record, v string) {
	if r.MileageKM.Present() {
		return
	}
	if km, ok := parseMileage(v); ok {
		r.MileageKM = ingest.Extracted(km)
	}
}

// Parse extracts a structured record from a listing detail page. It never
// fails: malformed, truncated, or empty input yields a record where only
// ListingID, URL, and SellerType are guaranteed.
func Parse(rawHTML, pageURL string, listingID int64) ingest.Record {
	rec := ingest.Record{
		ListingID:  listingID,
		URL:        pageURL,
		SellerType: ingest.SellerTypePrivate,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rec
	}

	lines := textLines(doc)
	text := strings.Join(lines, "\n")

	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		if title := clean(h1.Text()); title != "" {
			rec.Title = ingest.Extracted(title)
		}
	}

	if m := priceRe.FindStringSubmatch(text); m != nil {
		if price, err := strconv.ParseInt(stripDigitSeparators(m[1]), 10, 64); err == nil {
			rec.PriceKZT = ingest.Extracted(price)
		}
	}

	if km, ok := parseMileage(text); ok {
		rec.MileageKM = ingest.Extracted(km)
	}

	applyLabels(&rec, lines)
	applySeller(&rec, lines)
	applyOptions(&rec, lines)
	applyPhotos(&rec, doc, pageURL)
	inferFromTitle(&rec)

	return rec
}

// applyLabels fills labeled attributes using the "value is the line after the
// label" layout of the attribute blocks.
func applyLabels(rec *ingest.Record, lines []string) {
	index := make(map[string]int, len(lines))
	for i, line := range lines {
		if _, seen := index[line]; !seen {
			index[line] = i
		}
	}
	for _, rule := range labelRules {
		i, ok := index[rule.label]
		if !ok || i+1 >= len(lines) {
			continue
		}
		if value := clean(lines[i+1]); value != "" {
			rule.assign(rec, value)
		}
	}
}

// applySeller picks the dealer name following the verified-seller marker.
// A named seller classifies the listing as a dealer one; otherwise private.
func applySeller(rec *ingest.Record, lines []string) {
	for i, line := range lines {
		if line != "Проверенный продавец" {
			continue
		}
		if i+1 < len(lines) {
			if name := clean(lines[i+1]); name != "" {
				rec.SellerName = ingest.Extracted(name)
				rec.SellerType = ingest.SellerTypeDealer
			}
		}
		return
	}
}

// applyOptions collects the lines after the options header until another
// section starts or the line cap is reached.
func applyOptions(rec *ingest.Record, lines []string) {
	start := -1
	for i, line := range lines {
		if line == "Опции и характеристики" {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return
	}

	var opts []string
	for j := start; j < len(lines) && j < start+optionsMaxLines; j++ {
		line := lines[j]
		if line == "" || isSectionBreak(line) {
			break
		}
		opts = append(opts, line)
	}
	if len(opts) == 0 {
		return
	}
	rec.Options = opts
	rec.OptionsText = ingest.Extracted(strings.Join(opts, "; "))
}

func isSectionBreak(line string) bool {
	switch line {
	case "Город", "Поколение", "Кузов":
		return true
	}
	return isAllUpper(line)
}

// applyPhotos gathers every image source, preferring lazy-load attributes,
// resolving relative URLs against the site origin, and deduplicating while
// preserving first-seen order.
func applyPhotos(rec *ingest.Record, doc *goquery.Document, pageURL string) {
	origin := siteOrigin(pageURL)
	seen := make(map[string]struct{})

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := firstAttr(img, "data-src", "src", "data-lazy-src")
		switch {
		case src == "":
			return
		case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		case strings.HasPrefix(src, "/"):
			src = origin + src
		default:
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		rec.Photos = append(rec.Photos, src)
	})
	rec.PhotoCount = len(rec.Photos)
}

// inferFromTitle splits make/model/trim/year out of the title. This has no
// taxonomy validation and can be wrong; the values are marked inferred so
// downstream consumers treat them as low confidence.
func inferFromTitle(rec *ingest.Record) {
	if !rec.Title.Present() {
		return
	}
	title := rec.Title.Value
	parts := strings.Fields(title)
	if len(parts) >= 2 {
		rec.Make = ingest.Inferred(parts[0])
		rec.Model = ingest.Inferred(parts[1])
		for _, part := range parts[2:] {
			lowered := strings.ToLower(part)
			if lowered == "г." || lowered == "год" || lowered == "year" {
				continue
			}
			if len(part) >= 4 && yearRe.MatchString(part[:4]) {
				continue
			}
			rec.Trim = ingest.Inferred(part)
			break
		}
	}
	if m := yearRe.FindStringSubmatch(title); m != nil {
		if year, err := strconv.Atoi(m[1]); err == nil {
			rec.Year = ingest.Inferred(year)
		}
	}
}

// textLines renders the document the way a text browser would: one trimmed,
// non-empty line per text node, scripts and styles skipped.
func textLines(doc *goquery.Document) []string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if line := clean(n.Data); line != "" {
				lines = append(lines, line)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, root := range doc.Nodes {
		walk(root)
	}
	return lines
}

func parseMileage(s string) (int64, bool) {
	m := mileageRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	km, err := strconv.ParseInt(stripDigitSeparators(m[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return km, true
}

// clean collapses internal whitespace and trims the result.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stripDigitSeparators drops every whitespace rune, including the no-break
// spaces the site uses as thousands separators.
func stripDigitSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		lower := strings.ToLower(string(r))
		upper := strings.ToUpper(string(r))
		if lower != upper {
			hasLetter = true
			if string(r) != upper {
				return false
			}
		}
	}
	return hasLetter
}

func siteOrigin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return defaultOrigin
	}
	return u.Scheme + "://" + u.Host
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && v != "" {
			return v
		}
	}
	return ""
}
