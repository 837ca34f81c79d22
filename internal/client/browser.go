package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

// browserFetcher drives one long-lived Chrome tab. Requests are serialized
// on that tab, the same way a human session browses.
type browserFetcher struct {
	mu          sync.Mutex
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	timeout     time.Duration
}

// NewBrowserFetcher starts a Chrome instance and keeps it open until Close.
func NewBrowserFetcher(ctx context.Context, timeout time.Duration, headless bool) (Fetcher, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1920, 1080),
		)...,
	)

	browserCtx, cancelTab := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser; later runs reuse the tab
	if err := chromedp.Run(browserCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	log.Infof("🌐 Browser session started (headless=%t)", headless)
	return &browserFetcher{
		browserCtx:  browserCtx,
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
		timeout:     timeout,
	}, nil
}

func (f *browserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	runCtx, cancel := context.WithTimeout(f.browserCtx, f.timeout)
	defer cancel()

	// Caller cancellation must also abort the navigation
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("browser navigation to %s failed: %w", url, err)
	}

	if isBlockedBody(html) {
		return "", fmt.Errorf("%w: block page served for %s", ErrBlocked, url)
	}
	return html, nil
}

func (f *browserFetcher) Close() error {
	f.cancelTab()
	f.cancelAlloc()
	log.Info("🌐 Browser session closed")
	return nil
}
