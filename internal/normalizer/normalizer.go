// Package normalizer maps raw search results onto domain.Record.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fab/enumerator/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrInvalidItem = errors.New("invalid item")

// rawListing is the subset of a search result the record is built from
type rawListing struct {
	UID           string     `json:"uid"`
	Title         string     `json:"title"`
	StartingPrice *rawPrice  `json:"startingPrice"`
	User          struct {
		DisplayName string `json:"displayName"`
	} `json:"user"`
	AverageRating     *flexFloat       `json:"averageRating"`
	ReviewCount       int              `json:"reviewCount"`
	AssetFormats      []rawAssetFormat `json:"assetFormats"`
	IsMature          bool             `json:"isMature"`
	AvailableInEurope bool             `json:"availableInEurope"`
	Tags              []struct {
		Name string `json:"name"`
	} `json:"tags"`
	PublishedAt string `json:"publishedAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type rawPrice struct {
	Price        *flexFloat `json:"price"`
	CurrencyCode string     `json:"currencyCode"`
}

type rawAssetFormat struct {
	TechnicalSpecs struct {
		DistributionMethod string   `json:"unrealEngineDistributionMethod"`
		EngineVersions     []string `json:"unrealEngineEngineVersions"`
		TargetPlatforms    []string `json:"unrealEngineTargetPlatforms"`
		TechnicalDetails   string   `json:"technicalDetails"`
	} `json:"technicalSpecs"`
}

// flexFloat accepts both 12.5 and "12.50". Anything else decodes as 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if v, err := strconv.ParseFloat(string(data), 64); err == nil {
		*f = flexFloat(v)
	}
	return nil
}

type Normalizer struct {
	currency string
	now      func() time.Time
}

// New builds a normalizer; currency is used when an item does not carry one.
func New(currency string) *Normalizer {
	return &Normalizer{currency: currency, now: time.Now}
}

// Normalize decodes item found while walking p.
func (n *Normalizer) Normalize(item domain.RawItem, p domain.Partition) (*domain.Record, error) {
	var raw rawListing
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	record := &domain.Record{
		ID:                raw.UID,
		Title:             strings.TrimSpace(raw.Title),
		Currency:          n.currency,
		Seller:            raw.User.DisplayName,
		Category:          titleFromSlug(p.Category.ListingType()),
		Subcategory:       titleFromSlug(lastSegment(p.Category.TypePath)),
		Reviews:           raw.ReviewCount,
		IsMature:          raw.IsMature,
		AvailableInEurope: raw.AvailableInEurope,
		PublishedAt:       raw.PublishedAt,
		UpdatedAt:         raw.UpdatedAt,
		CategoryKey:       p.Category.Key(),
		PartitionKey:      p.Key(),
		FetchedAt:         n.now().UTC(),
	}

	if record.ID == "" {
		// Stable id for items without a uid, so re-fetches still collapse
		record.ID = uuid.NewSHA1(uuid.NameSpaceOID, item).String()
	}
	if record.Seller == "" {
		record.Seller = "Unknown"
	}

	if raw.StartingPrice != nil {
		if raw.StartingPrice.Price != nil {
			price := float64(*raw.StartingPrice.Price)
			record.Price = &price
		}
		if raw.StartingPrice.CurrencyCode != "" {
			record.Currency = raw.StartingPrice.CurrencyCode
		}
	}
	if p.Range != nil && record.Price != nil && !p.Range.Contains(*record.Price) {
		// The source filters on its own price field; the listing is kept
		log.Debugf("Listing %s priced %v outside range %s of %s", record.ID, *record.Price, p.Range, p.Key())
	}
	if raw.AverageRating != nil {
		rating := float64(*raw.AverageRating)
		record.Rating = &rating
	}

	for _, tag := range raw.Tags {
		if tag.Name != "" {
			record.Tags = append(record.Tags, tag.Name)
		}
	}

	if len(raw.AssetFormats) > 0 {
		specs := raw.AssetFormats[0].TechnicalSpecs
		record.DistributionMethod = specs.DistributionMethod
		record.EngineVersions = specs.EngineVersions
		record.TargetPlatforms = specs.TargetPlatforms
		record.Description = plainText(specs.TechnicalDetails)
	}

	return record, nil
}

// titleFromSlug turns "environment-props" into "Environment Props"
func titleFromSlug(slug string) string {
	if slug == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// plainText strips markup from an HTML fragment and collapses whitespace
func plainText(fragment string) string {
	if !strings.ContainsRune(fragment, '<') {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
