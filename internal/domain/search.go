package domain

import "encoding/json"

// RawItem is one search result exactly as the API returned it.
type RawItem = json.RawMessage

// SearchQuery is a fully specified search request without the cursor.
type SearchQuery struct {
	ListingType string    `json:"listing_type"`
	Category    string    `json:"category,omitempty"`
	MinPrice    *float64  `json:"min_price,omitempty"`
	MaxPrice    *float64  `json:"max_price,omitempty"`
	Sort        SortOrder `json:"sort"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Items []RawItem `json:"results"`
	Next  string    `json:"next,omitempty"` // Empty when the API signals exhaustion
}
