package domain

import "time"

// Record is the canonical shape of one listing written to the sink.
type Record struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Price              *float64  `json:"price,omitempty"`
	Currency           string    `json:"currency,omitempty"`
	Seller             string    `json:"seller"`
	Category           string    `json:"category"`
	Subcategory        string    `json:"subcategory"`
	Rating             *float64  `json:"rating,omitempty"`
	Reviews            int       `json:"reviews"`
	DistributionMethod string    `json:"distribution_method,omitempty"`
	IsMature           bool      `json:"is_mature"`
	AvailableInEurope  bool      `json:"available_in_europe"`
	Tags               []string  `json:"tags,omitempty"`
	EngineVersions     []string  `json:"engine_versions,omitempty"`
	TargetPlatforms    []string  `json:"target_platforms,omitempty"`
	PublishedAt        string    `json:"published_at,omitempty"`
	UpdatedAt          string    `json:"updated_at,omitempty"`
	Description        string    `json:"description,omitempty"`
	CategoryKey        string    `json:"category_key"`
	PartitionKey       string    `json:"partition_key"`
	FetchedAt          time.Time `json:"fetched_at"`
}
