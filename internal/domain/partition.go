package domain

import (
	"strconv"
	"strings"
	"time"
)

type SortOrder string

func (s SortOrder) String() string {
	return string(s)
}

const (
	SortRelevance     SortOrder = "-relevance"
	SortNewest        SortOrder = "-createdAt"
	SortOldest        SortOrder = "createdAt"
	SortPriceDesc     SortOrder = "-price"
	SortPriceAsc      SortOrder = "price"
	SortAverageRating SortOrder = "-averageRating"
)

var SortOrders = []SortOrder{
	SortRelevance,
	SortNewest,
	SortOldest,
	SortPriceDesc,
	SortPriceAsc,
	SortAverageRating,
}

// PriceRange is an inclusive price slice. A nil Max means unbounded.
type PriceRange struct {
	Min float64  `json:"min"`
	Max *float64 `json:"max,omitempty"`
}

func (r PriceRange) Bounded() bool {
	return r.Max != nil
}

// Contains reports whether price falls inside the range.
func (r PriceRange) Contains(price float64) bool {
	if price < r.Min {
		return false
	}
	return r.Max == nil || price <= *r.Max
}

func (r PriceRange) String() string {
	upper := "inf"
	if r.Max != nil {
		upper = formatPrice(*r.Max)
	}
	return formatPrice(r.Min) + "-" + upper
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Partition is one disjoint slice of a category's result space.
type Partition struct {
	Category CategoryNode `json:"category"`
	Range    *PriceRange  `json:"range,omitempty"` // nil: no price restriction
	Sort     SortOrder    `json:"sort"`
}

// Key identifies the partition in the visited registry.
func (p Partition) Key() string {
	rangeKey := "any"
	if p.Range != nil {
		rangeKey = p.Range.String()
	}
	return strings.Join([]string{p.Category.Key(), rangeKey, p.Sort.String()}, "|")
}

// Query builds the search request for the partition.
func (p Partition) Query() SearchQuery {
	q := SearchQuery{
		ListingType: p.Category.ListingType(),
		Category:    p.Category.CategorySlug(),
		Sort:        p.Sort,
	}
	if p.Range != nil {
		minPrice := p.Range.Min
		q.MinPrice = &minPrice
		if p.Range.Max != nil {
			maxPrice := *p.Range.Max
			q.MaxPrice = &maxPrice
		}
	}
	return q
}

// Job groups the partitions of a category that share one price range. A
// job is owned by a single worker which walks its sort orders in order.
type Job struct {
	Category CategoryNode `json:"category"`
	Range    *PriceRange  `json:"range,omitempty"`
	Sorts    []SortOrder  `json:"sorts"`
	Depth    int          `json:"depth"` // Bisection depth, 0 for planned jobs
}

// Partitions expands the job into its (range, sort) partitions.
func (j Job) Partitions() []Partition {
	partitions := make([]Partition, 0, len(j.Sorts))
	for _, sort := range j.Sorts {
		partitions = append(partitions, Partition{
			Category: j.Category,
			Range:    j.Range,
			Sort:     sort,
		})
	}
	return partitions
}

type Termination string

const (
	TerminationEmpty          Termination = "empty"
	TerminationExhausted      Termination = "exhausted"
	TerminationRepeatedCursor Termination = "repeated_cursor"
	TerminationFetchFailed    Termination = "fetch_failed"
	TerminationCancelled      Termination = "cancelled"
	TerminationSinkFailed     Termination = "sink_failed"
)

// Complete reports whether the termination ends a partition for good.
func (t Termination) Complete() bool {
	switch t {
	case TerminationEmpty, TerminationExhausted, TerminationRepeatedCursor:
		return true
	default:
		return false
	}
}

// PartitionOutcome is the result of one cursor walk. Completed outcomes are
// stored in the registry so a resumed run can reuse them.
type PartitionOutcome struct {
	Key         string      `json:"key"`
	Termination Termination `json:"termination"`
	Pages       int         `json:"pages"`
	Items       int         `json:"items"`
	Saturated   bool        `json:"saturated"` // Items reached the pagination cap
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}
