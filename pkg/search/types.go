// Package search defines the query, page and sequence types shared by the
// fetcher, the cache store and the paginators.
package search

import (
	"encoding/json"
	"maps"
)

// DefaultPageSize is used when neither the request nor the server states a page size.
const DefaultPageSize = 20

// CursorFields are the filter keys that carry a page cursor rather than
// query semantics.
var CursorFields = []string{"pageNum", "page", "pageNo", "current"}

// Descriptor identifies one logical search: keyword, filters and page size.
// It is treated as an immutable value; use With/Without to derive variants.
type Descriptor struct {
	// Keyword is the free-text search term.
	Keyword string `json:"keyword,omitempty"`

	// Filters holds category, price bounds, sort, location and any
	// endpoint-specific parameter (e.g. the image payload for image search).
	Filters map[string]any `json:"filters,omitempty"`

	// PageSize is the requested number of rows per page (0 = server default).
	PageSize int `json:"pageSize,omitempty"`
}

// IsEmpty reports whether the descriptor describes a disabled query.
func (d Descriptor) IsEmpty() bool {
	return d.Keyword == "" && len(d.Filters) == 0
}

// With returns a copy of d with filter key set to value.
func (d Descriptor) With(key string, value any) Descriptor {
	filters := make(map[string]any, len(d.Filters)+1)
	maps.Copy(filters, d.Filters)
	filters[key] = value
	d.Filters = filters
	return d
}

// Without returns a copy of d with the given filter keys removed.
func (d Descriptor) Without(keys ...string) Descriptor {
	if len(d.Filters) == 0 {
		return d
	}
	filters := maps.Clone(d.Filters)
	for _, k := range keys {
		delete(filters, k)
	}
	if len(filters) == 0 {
		filters = nil
	}
	d.Filters = filters
	return d
}

// EffectivePageSize returns PageSize or DefaultPageSize when unset.
func (d Descriptor) EffectivePageSize() int {
	if d.PageSize > 0 {
		return d.PageSize
	}
	return DefaultPageSize
}

// Page is one fetched or sliced batch of rows plus its pagination metadata.
type Page struct {
	Rows       []json.RawMessage `json:"rows"`
	Total      int               `json:"total"`
	PageNum    int               `json:"pageNum"`
	PageSize   int               `json:"pageSize"`
	TotalPages int               `json:"totalPages"`

	// SearchTime is the backend-reported search duration in milliseconds.
	SearchTime int64 `json:"searchTime,omitempty"`
}

// TotalPagesFor returns ceil(total/pageSize), or 0 for a non-positive page size.
func TotalPagesFor(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Sequence is the ordered accumulation of pages fetched so far for one key.
// Append never mutates the receiver, so a Sequence can be shared between
// readers while a new one is being built.
type Sequence struct {
	Pages      []Page `json:"pages"`
	PageParams []int  `json:"pageParams"`
}

// Append returns a new sequence with p added at the end.
func (s Sequence) Append(p Page) Sequence {
	pages := make([]Page, len(s.Pages), len(s.Pages)+1)
	copy(pages, s.Pages)
	params := make([]int, len(s.PageParams), len(s.PageParams)+1)
	copy(params, s.PageParams)
	return Sequence{
		Pages:      append(pages, p),
		PageParams: append(params, p.PageNum),
	}
}

// Len returns the number of pages.
func (s Sequence) Len() int {
	return len(s.Pages)
}

// Last returns the most recently appended page.
func (s Sequence) Last() (Page, bool) {
	if len(s.Pages) == 0 {
		return Page{}, false
	}
	return s.Pages[len(s.Pages)-1], true
}

// NextPageNum is the 1-based cursor of the page that would be appended next.
func (s Sequence) NextPageNum() int {
	return len(s.Pages) + 1
}

// Rows flattens all pages into a single slice.
func (s Sequence) Rows() []json.RawMessage {
	n := 0
	for _, p := range s.Pages {
		n += len(p.Rows)
	}
	rows := make([]json.RawMessage, 0, n)
	for _, p := range s.Pages {
		rows = append(rows, p.Rows...)
	}
	return rows
}
