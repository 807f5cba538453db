// Package search answers filtered, sorted and paginated appointment
// queries against the index, and annotates results with display titles.
package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/apptindex/internal/document"
)

// DefaultMaxResults caps how many hits a query may reach.
const DefaultMaxResults = 10000

// Searcher runs a request against a snapshot of the index.
type Searcher interface {
	Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)
}

// Page is one page of decoded results. Total counts matches up to the
// result cap, not beyond it.
type Page struct {
	Items []document.SearchItem `json:"items"`
	Total int                   `json:"total"`
}

// Engine executes queries.
type Engine struct {
	searcher   Searcher
	decoder    *document.Decoder
	loc        *time.Location
	maxResults int
	logger     *slog.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithMaxResults sets the result cap.
func WithMaxResults(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxResults = n
		}
	}
}

// WithLocation sets the zone used for date filters and decoded dates.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine over s.
func NewEngine(s Searcher, opts ...EngineOption) *Engine {
	e := &Engine{
		searcher:   s,
		loc:        time.Local,
		maxResults: DefaultMaxResults,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.decoder = document.NewDecoder(e.loc, e.logger)
	return e
}

// MaxResults returns the result cap.
func (e *Engine) MaxResults() int {
	return e.maxResults
}

// Search returns the items in [start, start+pageSize) of the capped hit
// list; pageSize <= 0 returns everything from start to the cap. Failures
// are logged and yield an empty page.
func (e *Engine) Search(ctx context.Context, f Filter, start, pageSize int, sort *SortSpec) Page {
	if start < 0 {
		start = 0
	}

	q, err := BuildQuery(f, e.loc)
	if err != nil {
		e.logger.Error("search_query_invalid", slog.String("error", err.Error()))
		return Page{Items: []document.SearchItem{}}
	}

	end := e.maxResults
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}
	size := end - start
	if size < 0 {
		size = 0
	}

	req := bleve.NewSearchRequestOptions(q, size, start, false)
	req.Fields = []string{"*"}
	if order := sortOrder(sort); order != nil {
		req.SortByCustom(order)
	}

	startTime := time.Now()
	res, err := e.searcher.Search(ctx, req)
	if err != nil {
		e.logger.Error("search_failed",
			slog.Int("start", start),
			slog.Int("page_size", pageSize),
			slog.String("error", err.Error()))
		return Page{Items: []document.SearchItem{}}
	}

	total := int(min(res.Total, uint64(e.maxResults)))
	page := Page{Items: make([]document.SearchItem, 0, len(res.Hits)), Total: total}
	if start >= total {
		return page
	}
	for _, hit := range res.Hits {
		page.Items = append(page.Items, e.decoder.Decode(hit.Fields))
	}

	e.logger.Debug("search_completed",
		slog.Int("total", total),
		slog.Int("returned", len(page.Items)),
		slog.Duration("duration", time.Since(startTime)))
	return page
}
