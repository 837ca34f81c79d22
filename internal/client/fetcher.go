package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fab/enumerator/internal/proxy"
	"fab/enumerator/internal/retry"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

var (
	// ErrBlocked means the source refused the request as too frequent or as
	// automated traffic.
	ErrBlocked = errors.New("request blocked by source")
	// ErrUnparseable means a response arrived but could not be decoded.
	ErrUnparseable = errors.New("unparseable response")
)

// Fetcher retrieves the body of a page. Implementations bound every call by
// their own timeout.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// blockTitles appear in the <title> of pages served instead of content
var blockTitles = []string{
	"Access Denied",
	"Too Many Requests",
	"Just a moment",
}

// challengeSelector matches the markup of bot challenge pages
const challengeSelector = `#challenge-form, #cf-wrapper, [id^="cf-challenge"], [class*="cf-challenge"]`

// isBlockedBody looks for a block page. Only the title and challenge markup
// are inspected, so listing text quoting a marker does not count.
func isBlockedBody(body string) bool {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}

	// API responses rendered by a browser
	if pre := strings.TrimSpace(doc.Find("pre").First().Text()); pre != "" && json.Valid([]byte(pre)) {
		return false
	}

	title := doc.Find("title").First().Text()
	for _, marker := range blockTitles {
		if strings.Contains(title, marker) {
			return true
		}
	}
	return doc.Find(challengeSelector).Length() > 0
}

type httpFetcher struct {
	httpClient    *resty.Client
	proxySupplier proxy.ProxySupplier
	timeout       time.Duration
}

// NewHTTPFetcher returns a resty based fetcher. When the source blocks a
// request and proxies are configured, it switches proxy and retries once.
func NewHTTPFetcher(timeout time.Duration, proxySupplier proxy.ProxySupplier) Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36").
		SetHeader("Accept", "text/html,application/json;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetTLSClientConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})

	if proxySupplier != nil {
		if proxyURL := proxySupplier.Get(); proxyURL != "" {
			client.SetProxy(proxyURL)
			log.Infof("🔗 Using initial proxy: %s", proxyURL)
		}
	}

	return &httpFetcher{
		httpClient:    client,
		proxySupplier: proxySupplier,
		timeout:       timeout,
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.get(ctx, url)
	if !errors.Is(err, ErrBlocked) || f.proxySupplier == nil {
		return body, err
	}

	newProxy := f.proxySupplier.Get()
	if newProxy == "" {
		return "", err
	}

	log.Infof("🔄 Blocked on %s, switching to proxy %s", url, newProxy)
	f.httpClient.SetProxy(newProxy)
	return f.get(ctx, url)
}

func (f *httpFetcher) get(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.httpClient.R().
		SetContext(reqCtx).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusTooManyRequests || status == http.StatusForbidden:
		return "", fmt.Errorf("%w: HTTP %d", ErrBlocked, status)
	case status == http.StatusNotFound || status == http.StatusGone:
		return "", retry.Permanent(fmt.Errorf("HTTP error: %s", resp.Status()))
	case resp.IsError():
		return "", fmt.Errorf("HTTP error: %s", resp.Status())
	}

	body := resp.String()
	if isBlockedBody(body) {
		return "", fmt.Errorf("%w: block page served for %s", ErrBlocked, url)
	}
	return body, nil
}

func (f *httpFetcher) Close() error {
	return f.httpClient.Close()
}
