package domain

import (
	"strings"
	"time"
)

// CategoryNode is one node of the category tree as observed during discovery.
type CategoryNode struct {
	Name         string    `json:"name"`          // Display name with counters stripped
	TypePath     string    `json:"type_path"`     // e.g. "3d-model/characters/creatures"
	URL          string    `json:"url"`           // Absolute category page URL
	ItemCount    int       `json:"item_count"`    // Declared by the source, advisory only
	HasChildren  bool      `json:"has_children"`  // Leaf iff false at discovery time
	Depth        int       `json:"depth"`         // 1 for top-level categories
	DiscoveredAt time.Time `json:"discovered_at"` // First observation
}

// Key is the identity of a node: display name plus type path.
func (n CategoryNode) Key() string {
	return n.Name + " - " + n.TypePath
}

// IsLeaf reports whether the node had no children when it was discovered.
func (n CategoryNode) IsLeaf() bool {
	return !n.HasChildren
}

// ListingType is the first segment of the type path.
func (n CategoryNode) ListingType() string {
	first, _, _ := strings.Cut(n.TypePath, "/")
	return first
}

// CategorySlug is the last segment of the type path, or "" for a bare
// listing type which needs no category filter.
func (n CategoryNode) CategorySlug() string {
	slug := n.TypePath
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		slug = slug[i+1:]
	}
	if slug == n.ListingType() {
		return ""
	}
	return slug
}

// CategoryLink is a candidate child link read from a category page.
type CategoryLink struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	TypePath    string `json:"type_path"`
	ItemCount   int    `json:"item_count"`
	HasChildren bool   `json:"has_children"`
}

// CategoryPage holds every category link found on one page of the tree.
type CategoryPage struct {
	URL   string         `json:"url"`
	Links []CategoryLink `json:"links"`
}
