package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// ProbeConfig controls the plain-HTTP probe collector.
type ProbeConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Probe is a cheap HTTP GET used by discovery before deciding whether a page
// needs a full headless render. One base collector is cloned per fetch so
// hooks never leak between requests.
type Probe struct {
	cfg  ProbeConfig
	base *colly.Collector
}

// NewProbe builds the probe fetcher.
func NewProbe(cfg ProbeConfig) *Probe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Probe{cfg: cfg, base: c}
}

// ProbeResult is one probe response. A non-2xx status is a result, not an
// error; errors are reserved for transport failures.
type ProbeResult struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Fetch executes a single GET.
func (p *Probe) Fetch(ctx context.Context, pageURL string) (ProbeResult, error) {
	collector := p.base.Clone()
	collector.IgnoreRobotsTxt = true
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)

	var result ProbeResult
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8")
	})
	collector.OnResponse(func(r *colly.Response) {
		result = ProbeResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r == nil {
			return
		}
		result = ProbeResult{
			URL:        pageURL,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return ProbeResult{}, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && result.StatusCode == 0 {
			return ProbeResult{}, fmt.Errorf("probe %s: %w", pageURL, err)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
