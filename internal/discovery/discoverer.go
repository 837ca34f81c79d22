// Package discovery walks the category tree breadth-first and records every
// node in the registry as soon as it is seen.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fab/enumerator/internal/domain"
	"fab/enumerator/internal/metrics"
	"fab/enumerator/internal/registry"
	"fab/enumerator/internal/retry"
	"fab/enumerator/internal/throttle"

	log "github.com/sirupsen/logrus"
)

// ErrSourceUnreachable means the root of the tree could not be read, so
// nothing can be discovered.
var ErrSourceUnreachable = errors.New("category source unreachable")

// CategorySource returns the child links listed on one category page.
type CategorySource interface {
	GetCategoryPage(ctx context.Context, pageURL string) (*domain.CategoryPage, error)
}

// EmitFunc is called once for every node first recorded by this run.
type EmitFunc func(node domain.CategoryNode) error

// Report summarizes one discovery pass
type Report struct {
	Discovered   int      // Nodes recorded by this run
	Known        int      // Links whose node was already recorded
	Excluded     int      // Links dropped as aggregate views
	PagesFetched int      // Category pages read
	SkippedPages []string // Pages given up on after retries
}

type Discoverer struct {
	source   CategorySource
	registry registry.Registry
	pacer    *throttle.Pacer
	policy   retry.Policy
	excluded []string
	now      func() time.Time
}

func New(source CategorySource, reg registry.Registry, pacer *throttle.Pacer, policy retry.Policy, excludedNames []string) *Discoverer {
	excluded := make([]string, 0, len(excludedNames))
	for _, name := range excludedNames {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			excluded = append(excluded, name)
		}
	}

	return &Discoverer{
		source:   source,
		registry: reg,
		pacer:    pacer,
		policy:   policy,
		excluded: excluded,
		now:      time.Now,
	}
}

type pageRef struct {
	url   string
	depth int // Depth of the node whose page this is, 0 for the root
}

// Discover expands the tree below rootURL. Pages already expanded by an
// earlier run are not fetched again, so a run over a complete registry
// fetches nothing.
func (d *Discoverer) Discover(ctx context.Context, rootURL string, emit EmitFunc) (*Report, error) {
	report := &Report{}

	queue, err := d.seed(ctx, rootURL)
	if err != nil {
		return report, err
	}
	if len(queue) == 0 {
		log.Infof("✅ Category tree already fully expanded")
		return report, nil
	}

	seenKeys := make(map[string]struct{})
	visited := make(map[string]struct{})

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		if _, ok := visited[ref.url]; ok {
			continue
		}
		visited[ref.url] = struct{}{}

		if report.PagesFetched > 0 || len(report.SkippedPages) > 0 {
			if err := d.pacer.Wait(ctx, paceFor(ref.depth)); err != nil {
				return report, err
			}
		}

		page, err := d.fetch(ctx, ref.url)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			if ref.depth == 0 {
				return report, fmt.Errorf("%w: %s: %w", ErrSourceUnreachable, ref.url, err)
			}
			log.Errorf("❌ Skipping category page %s: %v", ref.url, err)
			report.SkippedPages = append(report.SkippedPages, ref.url)
			metrics.CategoryPagesSkipped.Inc()
			continue
		}
		report.PagesFetched++

		children, err := d.record(ctx, page, ref.depth+1, seenKeys, report, emit)
		if err != nil {
			return report, err
		}
		queue = append(queue, children...)

		if err := d.registry.MarkExpanded(ctx, ref.url); err != nil {
			return report, fmt.Errorf("failed to mark %s expanded: %w", ref.url, err)
		}
	}

	log.Infof("✅ Discovery finished: %d new categories, %d pages fetched, %d pages skipped",
		report.Discovered, report.PagesFetched, len(report.SkippedPages))
	return report, nil
}

// seed builds the initial queue: the root unless it is expanded, plus every
// recorded node with children whose page was never expanded.
func (d *Discoverer) seed(ctx context.Context, rootURL string) ([]pageRef, error) {
	var queue []pageRef

	rootExpanded, err := d.registry.IsExpanded(ctx, rootURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if !rootExpanded {
		queue = append(queue, pageRef{url: rootURL})
	}

	nodes, err := d.registry.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		return nodes[i].Key() < nodes[j].Key()
	})

	for _, node := range nodes {
		if !node.HasChildren {
			continue
		}
		expanded, err := d.registry.IsExpanded(ctx, node.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to read registry: %w", err)
		}
		if !expanded {
			queue = append(queue, pageRef{url: node.URL, depth: node.Depth})
		}
	}

	if rootExpanded && len(queue) > 0 {
		log.Infof("🔄 Resuming discovery with %d unexpanded categories", len(queue))
	}
	return queue, nil
}

func (d *Discoverer) fetch(ctx context.Context, pageURL string) (*domain.CategoryPage, error) {
	var page *domain.CategoryPage
	err := retry.Do(ctx, d.policy, "category_page", func(ctx context.Context) error {
		var err error
		page, err = d.source.GetCategoryPage(ctx, pageURL)
		return err
	})
	return page, err
}

// record writes every new child of page to the registry and returns the
// pages still to expand.
func (d *Discoverer) record(ctx context.Context, page *domain.CategoryPage, depth int, seenKeys map[string]struct{}, report *Report, emit EmitFunc) ([]pageRef, error) {
	var children []pageRef

	for _, link := range page.Links {
		if d.isExcluded(link.Name) {
			report.Excluded++
			continue
		}

		node := domain.CategoryNode{
			Name:         link.Name,
			TypePath:     link.TypePath,
			URL:          link.URL,
			ItemCount:    link.ItemCount,
			HasChildren:  link.HasChildren,
			Depth:        depth,
			DiscoveredAt: d.now().UTC(),
		}

		key := node.Key()
		if _, ok := seenKeys[key]; ok {
			continue
		}
		seenKeys[key] = struct{}{}

		added, err := d.registry.AddCategory(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("failed to record category %s: %w", key, err)
		}
		if !added {
			report.Known++
			continue
		}

		report.Discovered++
		metrics.CategoriesDiscovered.Inc()
		log.Debugf("📁 Found category %s (%d items)", key, node.ItemCount)

		if err := emit(node); err != nil {
			return nil, fmt.Errorf("failed to emit category %s: %w", key, err)
		}
		if node.HasChildren {
			children = append(children, pageRef{url: node.URL, depth: depth})
		}
	}

	return children, nil
}

func (d *Discoverer) isExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, excluded := range d.excluded {
		if strings.Contains(lower, excluded) {
			return true
		}
	}
	return false
}

func paceFor(depth int) throttle.Pace {
	if depth <= 1 {
		return throttle.Long
	}
	return throttle.Short
}
