package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/icrc-loliveira/openmrs-module-fhir2/pkg/pagination"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// BundleProvider is the result of a search. Nothing is materialized until it
// is asked for: Size reports the number of matches and Resources returns the
// matches in the half-open range [from, to).
type BundleProvider interface {
	Size(ctx context.Context) (int, error)
	Resources(ctx context.Context, from, to int) ([]interface{}, error)
}

// SimpleBundleProvider serves a result set that is already in memory.
type SimpleBundleProvider struct {
	resources []interface{}
}

func NewSimpleBundleProvider(resources ...interface{}) *SimpleBundleProvider {
	return &SimpleBundleProvider{resources: resources}
}

func (p *SimpleBundleProvider) Size(_ context.Context) (int, error) {
	return len(p.resources), nil
}

func (p *SimpleBundleProvider) Resources(_ context.Context, from, to int) ([]interface{}, error) {
	from, to = clampRange(from, to, len(p.resources))
	return p.resources[from:to], nil
}

func clampRange(from, to, size int) (int, int) {
	if from < 0 {
		from = 0
	}
	if to > size {
		to = size
	}
	if from > to {
		from = to
	}
	return from, to
}

// SearchBundleParams holds pagination and link information for a search bundle.
type SearchBundleParams struct {
	BaseURL  string
	QueryStr string
	Count    int
	Offset   int
	Total    int
}

// NewSearchBundleFromProvider materializes one page of p into a searchset Bundle.
func NewSearchBundleFromProvider(ctx context.Context, p BundleProvider, params SearchBundleParams) (*Bundle, error) {
	total, err := p.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("count search results: %w", err)
	}
	params.Total = total
	resources := []interface{}{}
	if params.Offset < total {
		resources, err = p.Resources(ctx, params.Offset, params.Offset+params.Count)
		if err != nil {
			return nil, fmt.Errorf("load search results: %w", err)
		}
	}
	return NewSearchBundleWithLinks(resources, params), nil
}

// NewSearchBundleWithLinks creates a searchset Bundle with proper pagination links.
func NewSearchBundleWithLinks(resources []interface{}, params SearchBundleParams) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		entries[i] = BundleEntry{
			FullURL:  extractFullURL(raw),
			Resource: raw,
			Search: &BundleSearch{
				Mode: "match",
			},
		}
	}

	total := params.Total
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         buildPaginationLinks(params),
		Entry:        entries,
	}
}

// extractFullURL builds a relative fullUrl from a resource's resourceType and id.
func extractFullURL(raw []byte) string {
	var r Resource
	if err := json.Unmarshal(raw, &r); err != nil {
		return ""
	}
	if r.ResourceType != "" && r.ID != "" {
		return FormatReference(r.ResourceType, r.ID)
	}
	return ""
}

// buildPaginationLinks creates self, next, and previous links for searchset bundles.
func buildPaginationLinks(params SearchBundleParams) []BundleLink {
	page := pagination.Params{Limit: params.Count, Offset: params.Offset}
	link := func(rel string, offset int) BundleLink {
		return BundleLink{
			Relation: rel,
			URL:      fmt.Sprintf("%s?%s_count=%d&_offset=%d", params.BaseURL, conditionalAmpersand(params.QueryStr), page.Limit, offset),
		}
	}

	links := []BundleLink{link("self", page.Offset)}
	if page.HasNext(params.Total) {
		links = append(links, link("next", page.NextOffset()))
	}
	if page.HasPrevious() {
		links = append(links, link("previous", page.PreviousOffset()))
	}
	return links
}

// conditionalAmpersand returns the query string with a trailing & if non-empty.
func conditionalAmpersand(qs string) string {
	if qs == "" {
		return ""
	}
	return qs + "&"
}
