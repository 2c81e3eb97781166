// Package fetch turns claimed queue entries into extracted, persisted
// listing records. It owns the headless browser, the politeness delays,
// and the worker pool that drives a batch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Wait selectors for the two page shapes the pipeline renders. Detail pages
// are considered loaded once any price or content container exists; index
// pages once the listing grid is present.
const (
	DetailWaitSelector = "[data-price], .offer__price, .advert__price, .price, [itemprop='price'], .offer__content, .advert__content"
	IndexWaitSelector  = ".a-list, .a-card, [data-listing-id], a[href*='/a/show/']"
)

// NavigatorConfig controls the headless browser.
type NavigatorConfig struct {
	UserAgent      string
	BaseURL        string
	MaxParallel    int
	NavTimeout     time.Duration
	ContentTimeout time.Duration
	IdleTimeout    time.Duration
	SleepMinMs     int
	SleepMaxMs     int
}

// PageResult is one rendered page.
type PageResult struct {
	URL        string
	StatusCode int
	HTML       string
}

// Navigator fetches pages through headless Chrome. A single browser process
// is shared; each fetch runs in its own tab, bounded by MaxParallel.
type Navigator struct {
	cfg         NavigatorConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewNavigator starts the shared browser allocator.
func NewNavigator(cfg NavigatorConfig, logger *zap.Logger) (*Navigator, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 15 * time.Second
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = 8 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 3 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Navigator{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (n *Navigator) Close() {
	n.allocCancel()
}

// FetchPage renders one page and returns its final URL, document status and
// outer HTML. The wait strategy is layered: navigation up to NavTimeout, then
// waitSelector up to ContentTimeout, then a quiet-period fallback of
// IdleTimeout, then proceed with whatever rendered. A navigation timeout
// triggers one homepage visit (warms cookies and the anti-bot session) before
// a single retry.
func (n *Navigator) FetchPage(ctx context.Context, pageURL, waitSelector string) (PageResult, error) {
	if err := n.acquire(ctx); err != nil {
		return PageResult{}, err
	}
	defer n.release()

	taskCtx, taskCancel := chromedp.NewContext(n.allocator)
	defer taskCancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	if err := n.navigate(taskCtx, pageURL); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return PageResult{}, err
		}
		n.logger.Warn("navigation timed out, warming up via homepage",
			zap.String("url", pageURL))
		if err := n.navigate(taskCtx, n.cfg.BaseURL); err != nil {
			return PageResult{}, fmt.Errorf("homepage warmup: %w", err)
		}
		Sleep(ctx, 500, 1500)
		if err := n.navigate(taskCtx, pageURL); err != nil {
			return PageResult{}, fmt.Errorf("retry after warmup: %w", err)
		}
	}

	n.waitForContent(taskCtx, pageURL, waitSelector)

	var (
		html     string
		finalURL string
	)
	captureCtx, cancel := context.WithTimeout(taskCtx, n.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(captureCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return PageResult{}, fmt.Errorf("capture page: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(pageURL, finalURL)
	return PageResult{
		URL:        responseURL,
		StatusCode: status,
		HTML:       html,
	}, nil
}

func (n *Navigator) navigate(taskCtx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(taskCtx, n.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx,
		n.networkSetupAction(),
		chromedp.Navigate(pageURL),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

// waitForContent never fails: a page that renders neither the expected
// selector nor settles within the idle window is still handed to the
// extractor, which tolerates partial documents.
func (n *Navigator) waitForContent(taskCtx context.Context, pageURL, waitSelector string) {
	if waitSelector != "" {
		waitCtx, cancel := context.WithTimeout(taskCtx, n.cfg.ContentTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(waitSelector, chromedp.ByQuery))
		cancel()
		if err == nil {
			return
		}
		n.logger.Debug("content selector did not appear, falling back to quiet period",
			zap.String("url", pageURL))
	}
	idleCtx, cancel := context.WithTimeout(taskCtx, n.cfg.IdleTimeout+time.Second)
	defer cancel()
	_ = chromedp.Run(idleCtx, chromedp.Sleep(n.cfg.IdleTimeout))
}

func (n *Navigator) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if n.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(n.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := network.Headers{
			"Accept-Language": "ru-RU,ru;q=0.9,en-US;q=0.8",
		}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (n *Navigator) acquire(ctx context.Context) error {
	if n.limiter == nil {
		return nil
	}
	select {
	case n.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (n *Navigator) release() {
	if n.limiter == nil {
		return
	}
	select {
	case <-n.limiter:
	default:
	}
}

// responseMeta captures the status of the main document response; subresource
// responses are ignored.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok {
		return
	}
	if resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
