package search

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedResponse indicates a payload that is not JSON or has no row array.
var ErrMalformedResponse = errors.New("malformed search response")

// RejectedError is returned for envelopes carrying a non-success code.
type RejectedError struct {
	Code    int64
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("search rejected by backend (code %d)", e.Code)
	}
	return fmt.Sprintf("search rejected by backend (code %d): %s", e.Code, e.Message)
}

// rowPaths are tried in order inside the payload body.
var rowPaths = []string{"rows", "list", "records", "items", "data"}

// Normalize maps any accepted wire shape into a Page.
//
// Accepted shapes: a bare array, an object with rows/list/records/items/data
// as array, or an envelope whose "data" object holds one of those. Metadata
// (total, pageSize, totalPages, searchTime) is looked up on the body first and
// on the envelope second; missing values are derived.
func Normalize(raw []byte, pageNum, requestedPageSize int) (Page, error) {
	if !gjson.ValidBytes(raw) {
		return Page{}, fmt.Errorf("%w: invalid json", ErrMalformedResponse)
	}
	root := gjson.ParseBytes(raw)

	if code := root.Get("code"); code.Exists() && code.Type == gjson.Number {
		if c := code.Int(); c != 0 && c != 200 {
			return Page{}, &RejectedError{Code: c, Message: root.Get("msg").String()}
		}
	}

	body := root
	if data := root.Get("data"); data.IsObject() {
		body = data
	}

	rowsResult, ok := findRows(body)
	if !ok {
		return Page{}, fmt.Errorf("%w: no row array found", ErrMalformedResponse)
	}
	items := rowsResult.Array()
	rows := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		rows = append(rows, json.RawMessage(it.Raw))
	}

	size, _ := lookupInt(body, root, "pageSize", "size")
	pageSize := int(size)
	if pageSize <= 0 {
		pageSize = requestedPageSize
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if len(rows) > pageSize {
		// Single-shot endpoints return everything at once.
		pageSize = len(rows)
	}
	if pageNum < 1 {
		pageNum = 1
	}

	declared, ok := lookupInt(body, root, "total", "totalCount")
	total := int(declared)
	if !ok || total < 0 {
		// No declared total: everything before this page plus what we got.
		total = (pageNum-1)*pageSize + len(rows)
	}

	tp, _ := lookupInt(body, root, "totalPages", "pages")
	totalPages := int(tp)
	if totalPages <= 0 {
		totalPages = TotalPagesFor(total, pageSize)
	}

	searchTime, _ := lookupInt(body, root, "searchTime")

	return Page{
		Rows:       rows,
		Total:      total,
		PageNum:    pageNum,
		PageSize:   pageSize,
		TotalPages: totalPages,
		SearchTime: searchTime,
	}, nil
}

func findRows(body gjson.Result) (gjson.Result, bool) {
	if body.IsArray() {
		return body, true
	}
	for _, p := range rowPaths {
		if r := body.Get(p); r.IsArray() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

func lookupInt(body, root gjson.Result, names ...string) (int64, bool) {
	for _, scope := range []gjson.Result{body, root} {
		if !scope.IsObject() {
			continue
		}
		for _, n := range names {
			if v := scope.Get(n); v.Exists() && v.Type == gjson.Number {
				return v.Int(), true
			}
		}
	}
	return 0, false
}
