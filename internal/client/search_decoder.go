package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"fab/enumerator/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

type searchResponse struct {
	Results []json.RawMessage `json:"results"`
	Cursors struct {
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
	} `json:"cursors"`
}

// decodeSearchPage accepts a raw JSON body or, when the API was loaded in a
// browser, an HTML document wrapping the JSON in a <pre> element.
func decodeSearchPage(body string) (*domain.SearchPage, error) {
	payload := strings.TrimSpace(body)
	if strings.HasPrefix(payload, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		payload = strings.TrimSpace(doc.Find("pre").First().Text())
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty body", ErrUnparseable)
	}

	var resp searchResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	page := &domain.SearchPage{
		Items: make([]domain.RawItem, 0, len(resp.Results)),
	}
	for _, item := range resp.Results {
		page.Items = append(page.Items, domain.RawItem(item))
	}
	if resp.Cursors.Next != nil {
		page.Next = *resp.Cursors.Next
	}
	return page, nil
}
