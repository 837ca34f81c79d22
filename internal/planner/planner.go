// Package planner decomposes a category into partitions whose result sets
// each stay under the pagination cap.
package planner

import (
	"errors"
	"fmt"

	"fab/enumerator/internal/domain"
)

var ErrInvalidBoundaries = errors.New("invalid price boundaries")

// ErrTooNarrow is returned by Split when a range cannot be bisected further.
var ErrTooNarrow = errors.New("price range too narrow to split")

type Planner struct {
	cap           int
	ranges        []domain.PriceRange
	sorts         []domain.SortOrder
	defaultSort   domain.SortOrder
	minSplitWidth float64
}

type Options struct {
	PaginationCap   int
	PriceBoundaries []float64
	SortOrders      []domain.SortOrder
	DefaultSort     domain.SortOrder
	MinSplitWidth   float64
}

func New(opts Options) (*Planner, error) {
	if opts.PaginationCap <= 0 {
		return nil, fmt.Errorf("pagination cap must be positive, got %d", opts.PaginationCap)
	}
	if len(opts.SortOrders) == 0 {
		return nil, errors.New("at least one sort order is required")
	}

	ranges, err := Ranges(opts.PriceBoundaries)
	if err != nil {
		return nil, err
	}

	defaultSort := opts.DefaultSort
	if defaultSort == "" {
		defaultSort = opts.SortOrders[0]
	}

	return &Planner{
		cap:           opts.PaginationCap,
		ranges:        ranges,
		sorts:         append([]domain.SortOrder(nil), opts.SortOrders...),
		defaultSort:   defaultSort,
		minSplitWidth: opts.MinSplitWidth,
	}, nil
}

// Ranges turns ascending boundaries [0, b1, ..., bn] into the ranges
// [0,b1], [b1,b2], ..., [bn,inf).
func Ranges(boundaries []float64) ([]domain.PriceRange, error) {
	if len(boundaries) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBoundaries)
	}
	if boundaries[0] != 0 {
		return nil, fmt.Errorf("%w: first boundary must be 0, got %v", ErrInvalidBoundaries, boundaries[0])
	}

	ranges := make([]domain.PriceRange, 0, len(boundaries))
	for i := range boundaries {
		if i > 0 && boundaries[i] <= boundaries[i-1] {
			return nil, fmt.Errorf("%w: %v does not follow %v", ErrInvalidBoundaries, boundaries[i], boundaries[i-1])
		}

		r := domain.PriceRange{Min: boundaries[i]}
		if i+1 < len(boundaries) {
			upper := boundaries[i+1]
			r.Max = &upper
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// PaginationCap is the number of items the source serves per query.
func (p *Planner) PaginationCap() int {
	return p.cap
}

// Plan returns the partitions for node, in ascending range order and then
// configured sort order. A node that fits under the cap, or whose count is
// unknown, gets a single unrestricted partition.
func (p *Planner) Plan(node domain.CategoryNode) []domain.Partition {
	var partitions []domain.Partition
	for _, job := range p.Jobs(node) {
		partitions = append(partitions, job.Partitions()...)
	}
	return partitions
}

// Jobs returns the same partitions as Plan grouped by price range.
func (p *Planner) Jobs(node domain.CategoryNode) []domain.Job {
	if node.ItemCount <= p.cap {
		return []domain.Job{{
			Category: node,
			Sorts:    []domain.SortOrder{p.defaultSort},
		}}
	}

	jobs := make([]domain.Job, 0, len(p.ranges))
	for i := range p.ranges {
		r := p.ranges[i]
		jobs = append(jobs, domain.Job{
			Category: node,
			Range:    &r,
			Sorts:    append([]domain.SortOrder(nil), p.sorts...),
		})
	}
	return jobs
}

// Split bisects r. A bounded range splits at its midpoint; an unbounded
// range [a,inf) splits into [a,2a] and [2a,inf), with a width of 1 when a
// is 0.
func (p *Planner) Split(r domain.PriceRange) (domain.PriceRange, domain.PriceRange, error) {
	if !r.Bounded() {
		pivot := r.Min * 2
		if r.Min == 0 {
			pivot = 1
		}
		return domain.PriceRange{Min: r.Min, Max: &pivot}, domain.PriceRange{Min: pivot}, nil
	}

	width := *r.Max - r.Min
	if width <= 0 || width < p.minSplitWidth {
		return domain.PriceRange{}, domain.PriceRange{}, fmt.Errorf("%w: %s", ErrTooNarrow, r)
	}

	mid := r.Min + width/2
	upper := *r.Max
	return domain.PriceRange{Min: r.Min, Max: &mid}, domain.PriceRange{Min: mid, Max: &upper}, nil
}

// SplitJob bisects the range of job into two child jobs with the same sorts.
// Unrestricted jobs are split over the whole non-negative price axis.
func (p *Planner) SplitJob(job domain.Job) ([]domain.Job, error) {
	r := domain.PriceRange{Min: 0}
	if job.Range != nil {
		r = *job.Range
	}

	lower, upper, err := p.Split(r)
	if err != nil {
		return nil, err
	}

	children := make([]domain.Job, 0, 2)
	for _, child := range []domain.PriceRange{lower, upper} {
		children = append(children, domain.Job{
			Category: job.Category,
			Range:    &child,
			Sorts:    append([]domain.SortOrder(nil), p.sorts...),
			Depth:    job.Depth + 1,
		})
	}
	return children, nil
}
