// Package search indexes pages and answers owner-scoped full-text queries.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	ReadMinutes int    `json:"readMinutes"`
}

// Query describes a search request. Results are always restricted to OwnerID.
type Query struct {
	OwnerID string
	Text    string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PageRecord is the data we index for a page.
type PageRecord struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ReadMinutes int    `json:"readMinutes"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Backend is a search engine that also maintains its own index.
type Backend interface {
	Searcher
	IndexPage(record PageRecord) error
	IndexPages(records []PageRecord) error
	DeletePage(id string) error
}

// Fallback answers queries straight from the primary database and can enumerate every
// searchable record for a rebuild.
type Fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]PageRecord, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
