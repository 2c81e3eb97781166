package scan

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aidosq/kolesa-ingest/internal/fetch"
	"github.com/aidosq/kolesa-ingest/internal/ingest"
	"github.com/aidosq/kolesa-ingest/internal/promote"
)

const indexFixture = `<html><body>
<script>
  listing.grid.push({id: 101, price: 5000000});
  listing.grid.push({ id: 102 });
</script>
<a href="/a/show/103">Kia Rio</a>
<div data-listing-id="101"></div>
<a href='/a/show/104'>Lada Vesta</a>
</body></html>`

func TestExtractIDsUnionOfPatterns(t *testing.T) {
	t.Parallel()

	ids := ExtractIDs(indexFixture)
	require.Equal(t, []int64{101, 102, 103, 104}, ids)
}

func TestExtractIDsEmptyAndGarbage(t *testing.T) {
	t.Parallel()

	require.Empty(t, ExtractIDs(""))
	require.Empty(t, ExtractIDs("<html><body>ничего не найдено</body></html>"))
	require.Empty(t, ExtractIDs("listing.grid.push({id: -5}) /a/show/0"))
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://kolesa.kz/a/show/101", ListingURL("https://kolesa.kz", 101))
}

type fakeProber struct {
	mu    sync.Mutex
	pages map[string]fetch.ProbeResult
	errs  map[string]error
	urls  []string
}

func (p *fakeProber) Fetch(_ context.Context, pageURL string) (fetch.ProbeResult, error) {
	p.mu.Lock()
	p.urls = append(p.urls, pageURL)
	p.mu.Unlock()
	if err, ok := p.errs[pageURL]; ok {
		return fetch.ProbeResult{}, err
	}
	if res, ok := p.pages[pageURL]; ok {
		return res, nil
	}
	return fetch.ProbeResult{URL: pageURL, StatusCode: 200, Body: []byte("<html><body>конец списка</body></html>")}, nil
}

type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]fetch.PageResult
	urls  []string
}

func (r *fakeRenderer) FetchPage(_ context.Context, pageURL, _ string) (fetch.PageResult, error) {
	r.mu.Lock()
	r.urls = append(r.urls, pageURL)
	r.mu.Unlock()
	if res, ok := r.pages[pageURL]; ok {
		return res, nil
	}
	return fetch.PageResult{URL: pageURL, StatusCode: 200, HTML: ""}, nil
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids map[int64]string
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{ids: map[int64]string{}}
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, listingID int64, url string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.ids[listingID]; ok {
		return false, nil
	}
	e.ids[listingID] = url
	return true, nil
}

func newTestScanner(prober Prober, renderer Renderer, q Enqueuer) *Scanner {
	return New(prober, renderer, promote.NewHeuristic(0), q, ingest.NewStats(), Config{
		BaseURL:  "https://kolesa.kz",
		MaxPages: 10,
	}, zap.NewNop())
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	s := newTestScanner(&fakeProber{}, nil, newFakeEnqueuer())
	require.Equal(t, "https://kolesa.kz/cars/", s.PageURL(1))
	require.Equal(t, "https://kolesa.kz/cars/?page=2", s.PageURL(2))
	require.Equal(t, "https://kolesa.kz/cars/?page=17", s.PageURL(17))
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{pages: map[string]fetch.ProbeResult{
		"https://kolesa.kz/cars/": {StatusCode: 200, Body: []byte(indexFixture)},
	}}
	q := newFakeEnqueuer()
	s := newTestScanner(prober, nil, q)

	inserted, err := s.Run(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Equal(t, 4, inserted)

	require.Equal(t, "https://kolesa.kz/a/show/101", q.ids[101])
	require.Equal(t, "https://kolesa.kz/a/show/104", q.ids[104])
	// Page 2 yields no ids, so page 3 is never requested.
	require.Equal(t, []string{
		"https://kolesa.kz/cars/",
		"https://kolesa.kz/cars/?page=2",
	}, prober.urls)
}

func TestRunSkipsFailedPages(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{
		pages: map[string]fetch.ProbeResult{
			"https://kolesa.kz/cars/?page=2": {StatusCode: 200, Body: []byte(indexFixture)},
		},
		errs: map[string]error{
			"https://kolesa.kz/cars/": fmt.Errorf("connection reset"),
		},
	}
	q := newFakeEnqueuer()
	s := newTestScanner(prober, nil, q)

	inserted, err := s.Run(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 4, inserted, "page 1 failure must not abort the scan")
}

func TestRunStopsOnBlocking(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{pages: map[string]fetch.ProbeResult{
		"https://kolesa.kz/cars/": {
			StatusCode: 200,
			Body:       []byte("<html><body>Please solve this captcha</body></html>"),
		},
	}}
	q := newFakeEnqueuer()
	s := newTestScanner(prober, nil, q)

	inserted, err := s.Run(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Zero(t, inserted)
	require.Len(t, prober.urls, 1, "blocking stops the scan immediately")
}

func TestDiscoverPagePromotesScriptShells(t *testing.T) {
	t.Parallel()

	shell := []byte(`<html><body><div id="root"></div><script src="/app.js"></script></body></html>`)
	prober := &fakeProber{pages: map[string]fetch.ProbeResult{
		"https://kolesa.kz/cars/": {StatusCode: 200, Body: shell},
	}}
	renderer := &fakeRenderer{pages: map[string]fetch.PageResult{
		"https://kolesa.kz/cars/": {StatusCode: 200, HTML: indexFixture},
	}}
	s := newTestScanner(prober, renderer, newFakeEnqueuer())

	ids, err := s.DiscoverPage(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{101, 102, 103, 104}, ids)
	require.Equal(t, []string{"https://kolesa.kz/cars/"}, renderer.urls)
}

func TestDiscoverPageHTTPError(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{pages: map[string]fetch.ProbeResult{
		"https://kolesa.kz/cars/": {StatusCode: 500, Body: []byte("boom")},
	}}
	s := newTestScanner(prober, nil, newFakeEnqueuer())

	_, err := s.DiscoverPage(context.Background(), 1)
	require.ErrorContains(t, err, "http 500")
}
