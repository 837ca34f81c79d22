package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"fab/enumerator/internal/config"
	"fab/enumerator/internal/domain"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

// FabClient reads the category tree and the search API of the catalog.
type FabClient interface {
	GetCategoryPage(ctx context.Context, pageURL string) (*domain.CategoryPage, error)
	Search(ctx context.Context, query domain.SearchQuery, cursor string) (*domain.SearchPage, error)
	Close() error
}

type fabClient struct {
	rl        ratelimit.Limiter
	fetcher   Fetcher
	parser    *categoryParser
	searchURL string
	currency  string
}

// NewFabClient wraps fetcher with the global request ceiling and the page
// decoders.
func NewFabClient(cfg config.FabConfig, fetcher Fetcher) (FabClient, error) {
	parser, err := newCategoryParser(cfg.BaseURL, cfg.Selectors)
	if err != nil {
		return nil, err
	}

	return &fabClient{
		rl:        ratelimit.New(cfg.MaxRequestsPerSecond),
		fetcher:   fetcher,
		parser:    parser,
		searchURL: cfg.SearchURL,
		currency:  cfg.Currency,
	}, nil
}

func (c *fabClient) GetCategoryPage(ctx context.Context, pageURL string) (*domain.CategoryPage, error) {
	html, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch category page %s: %w", pageURL, err)
	}

	page, err := c.parser.ParseCategoryPage(html, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse category page %s: %w", pageURL, err)
	}
	return page, nil
}

func (c *fabClient) Search(ctx context.Context, query domain.SearchQuery, cursor string) (*domain.SearchPage, error) {
	searchURL := c.SearchURL(query, cursor)

	body, err := c.fetch(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch search page: %w", err)
	}

	page, err := decodeSearchPage(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode search page %s: %w", searchURL, err)
	}

	log.Debugf("Fetched search page with %d items (next cursor present: %t)", len(page.Items), page.Next != "")
	return page, nil
}

// SearchURL renders the API request for query at cursor ("" for the first page).
func (c *fabClient) SearchURL(query domain.SearchQuery, cursor string) string {
	params := url.Values{}
	params.Set("currency", c.currency)
	params.Set("listing_types", query.ListingType)
	params.Set("sort_by", query.Sort.String())
	if query.Category != "" {
		params.Set("categories", query.Category)
	}
	if query.MinPrice != nil {
		params.Set("min_price", strconv.FormatFloat(*query.MinPrice, 'f', -1, 64))
	}
	if query.MaxPrice != nil {
		params.Set("max_price", strconv.FormatFloat(*query.MaxPrice, 'f', -1, 64))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return c.searchURL + "?" + params.Encode()
}

func (c *fabClient) fetch(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.rl.Take()
	return c.fetcher.Fetch(ctx, pageURL)
}

func (c *fabClient) Close() error {
	return c.fetcher.Close()
}
