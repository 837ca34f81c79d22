package client

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"fab/enumerator/internal/config"
	"fab/enumerator/internal/domain"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

var (
	// Trailing counter left in link text, e.g. "Characters 12.5K"
	counterTextRegex = regexp.MustCompile(`\s+[\d,]+(\.\d+)?[KMB]?$`)
	spaceRegex       = regexp.MustCompile(`\s+`)
)

type categoryParser struct {
	baseURL   *url.URL
	selectors config.Selectors
}

func newCategoryParser(baseURL string, selectors config.Selectors) (*categoryParser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	return &categoryParser{
		baseURL:   base,
		selectors: selectors,
	}, nil
}

// ParseCategoryPage extracts every category link on the page. Links are
// returned in document order, de-duplicated by URL.
func (p *categoryParser) ParseCategoryPage(html, pageURL string) (*domain.CategoryPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &domain.CategoryPage{
		URL:   pageURL,
		Links: make([]domain.CategoryLink, 0),
	}
	seen := make(map[string]bool)

	doc.Find(p.selectors.CategoryLink).Each(func(i int, link *goquery.Selection) {
		href, exists := link.Attr("href")
		if !exists || href == "" {
			return
		}

		absolute, typePath, ok := p.resolve(href)
		if !ok || seen[absolute] {
			return
		}

		counter := link.Find(p.selectors.Counter)
		name := cleanCategoryName(textWithout(link, counter))
		if name == "" {
			return
		}
		seen[absolute] = true

		class, _ := link.Attr("class")
		page.Links = append(page.Links, domain.CategoryLink{
			Name:        name,
			URL:         absolute,
			TypePath:    typePath,
			ItemCount:   parseItemCount(counter.First().Text()),
			HasChildren: !strings.Contains(class, p.selectors.NoChildrenClass),
		})
	})

	log.Debugf("Parsed %d category links from %s", len(page.Links), pageURL)
	return page, nil
}

// resolve turns href into an absolute URL and extracts the type path.
func (p *categoryParser) resolve(href string) (string, string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", "", false
	}
	abs := p.baseURL.ResolveReference(ref)
	abs.Fragment = ""

	_, typePath, found := strings.Cut(abs.Path, p.selectors.HrefPrefix)
	typePath = strings.Trim(typePath, "/")
	if !found || typePath == "" {
		return "", "", false
	}
	return abs.String(), typePath, true
}

// textWithout returns the link text minus the text of the counter element.
func textWithout(link, counter *goquery.Selection) string {
	text := link.Text()
	if counterText := counter.Text(); counterText != "" {
		text = strings.Replace(text, counterText, " ", 1)
	}
	return text
}

func cleanCategoryName(text string) string {
	text = strings.TrimSpace(spaceRegex.ReplaceAllString(text, " "))
	return strings.TrimSpace(counterTextRegex.ReplaceAllString(text, ""))
}

// parseItemCount reads counters such as "842", "1,204", "12.5K" or "1.2M".
// Anything unreadable counts as 0, which plans the category as a single
// partition.
func parseItemCount(text string) int {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", ""))
	if text == "" {
		return 0
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(text, "K"):
		multiplier = 1_000
	case strings.HasSuffix(text, "M"):
		multiplier = 1_000_000
	case strings.HasSuffix(text, "B"):
		multiplier = 1_000_000_000
	}
	if multiplier != 1 {
		text = text[:len(text)-1]
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value < 0 {
		return 0
	}
	return int(math.Round(value * multiplier))
}
