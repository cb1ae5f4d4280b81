package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/marketplace-search/internal/testutil"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/ratelimit"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := New(Config{
		BaseURL:   baseURL,
		UserAgent: "TestApp/1.0.0 (test@example.com)",
		Token:     "secret",
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.logger = zerolog.Nop()
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://api.example.com", "TestApp/1.0.0"),
		},
		{
			name:        "missing base url",
			config:      Config{UserAgent: "TestApp/1.0.0"},
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "unsupported scheme",
			config:      Config{BaseURL: "ftp://example.com", UserAgent: "TestApp/1.0.0"},
			expectError: true,
			errorMsg:    `base url must be http or https (got "ftp")`,
		},
		{
			name:        "empty user agent",
			config:      Config{BaseURL: "https://api.example.com"},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("error = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.httpClient.Timeout != 15*time.Second {
				t.Errorf("Timeout = %v, want 15s", c.httpClient.Timeout)
			}
		})
	}
}

func TestSearch_GetQueryAndHeaders(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetDataset(ProductSearch.Path, 45)

	c := newTestClient(t, mock.URL())
	d := search.Descriptor{
		Keyword:  "tea",
		PageSize: 20,
		Filters:  map[string]any{"category": "drinks", "minPrice": 1.5, "tags": []string{"a", "b"}},
	}

	body, err := c.Search(context.Background(), ProductSearch, d, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	page, err := search.Normalize(body, 3, 20)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(page.Rows) != 5 || page.Total != 45 {
		t.Errorf("page 3 = %d rows of %d, want 5 of 45", len(page.Rows), page.Total)
	}

	q := mock.LastQuery()
	want := map[string]string{
		"keyword":  "tea",
		"pageNum":  "3",
		"pageSize": "20",
		"category": "drinks",
		"minPrice": "1.5",
		"tags":     `["a","b"]`,
	}
	for k, v := range want {
		if got := q[k]; len(got) != 1 || got[0] != v {
			t.Errorf("query %s = %v, want %q", k, got, v)
		}
	}

	h := mock.LastRequestHeader()
	if h.Get("User-Agent") != "TestApp/1.0.0 (test@example.com)" {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}
	if h.Get("Authorization") != "Bearer secret" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
}

func TestSearch_PostJSONBody(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetDataset(ImageSearch.Path, 12)

	c := newTestClient(t, mock.URL())
	d := search.Descriptor{Filters: map[string]any{"imageUrl": "https://cdn.example.com/a.jpg"}}

	if _, err := c.Search(context.Background(), ImageSearch, d, 1); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(mock.LastRequestBody(), &payload); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if payload["imageUrl"] != "https://cdn.example.com/a.jpg" {
		t.Errorf("imageUrl = %v", payload["imageUrl"])
	}
	if payload["pageNum"] != float64(1) || payload["pageSize"] != float64(search.DefaultPageSize) {
		t.Errorf("paging = %v/%v", payload["pageNum"], payload["pageSize"])
	}
	if _, ok := payload["keyword"]; ok {
		t.Error("empty keyword should be omitted")
	}
	if ct := mock.LastRequestHeader().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestSearch_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		resp      testutil.MockResponse
		wantCode  int
		wantClass fetcher.ErrorClass
	}{
		{name: "bad request", resp: testutil.NewBadRequestResponse("bad keyword"), wantCode: 400, wantClass: fetcher.ErrorClassClient},
		{name: "rate limited", resp: testutil.NewRateLimitResponse(), wantCode: 429, wantClass: fetcher.ErrorClassRateLimit},
		{name: "server error", resp: testutil.NewServerErrorResponse(), wantCode: 500, wantClass: fetcher.ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockSearchAPI()
			defer mock.Close()
			mock.SetResponse(BoothSearch.Path, tt.resp)

			c := newTestClient(t, mock.URL())
			_, err := c.Search(context.Background(), BoothSearch, search.Descriptor{Keyword: "x"}, 1)

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected *HTTPError, got %v", err)
			}
			if httpErr.StatusCode() != tt.wantCode {
				t.Errorf("StatusCode() = %d, want %d", httpErr.StatusCode(), tt.wantCode)
			}
			if got := fetcher.Classify(err); got != tt.wantClass {
				t.Errorf("Classify() = %q, want %q", got, tt.wantClass)
			}
		})
	}
}

func TestSearch_BackendCooldown(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetResponse(ProductSearch.Path, testutil.NewRateLimitResponse())

	c := newTestClient(t, mock.URL())
	c.SetTracker(ratelimit.NewTracker(nil, zerolog.Nop(), ratelimit.WithMaxWait(0)))
	d := search.Descriptor{Keyword: "x"}

	if _, err := c.Search(context.Background(), ProductSearch, d, 1); err == nil {
		t.Fatal("expected 429 error")
	}

	// Retry-After: 1 is now in effect; the next request fails without a round trip.
	_, err := c.Search(context.Background(), ProductSearch, d, 1)
	if !errors.Is(err, ratelimit.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if got := fetcher.Classify(err); got != fetcher.ErrorClassRateLimit {
		t.Errorf("Classify() = %q, want %q", got, fetcher.ErrorClassRateLimit)
	}
	if got := mock.GetPathCount(ProductSearch.Path); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestSearcher_WithFetcher(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetDataset(ProductSearch.Path, 45)

	c := newTestClient(t, mock.URL())
	f := fetcher.New(c.Searcher(ProductSearch), fetcher.WithLogger(zerolog.Nop()))

	page, err := f.FetchPage(context.Background(), search.Descriptor{Keyword: "tea"}, 2, false)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if page.PageNum != 2 || len(page.Rows) != 20 || page.TotalPages != 3 {
		t.Errorf("page = {num %d, rows %d, totalPages %d}", page.PageNum, len(page.Rows), page.TotalPages)
	}
	if mock.GetPathCount(ProductSearch.Path) != 1 {
		t.Errorf("requests = %d, want 1", mock.GetPathCount(ProductSearch.Path))
	}
}

func TestSearch_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetResponse(ProductSearch.Path, testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `[]`,
		Delay:      time.Second,
	})

	c := newTestClient(t, mock.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, ProductSearch, search.Descriptor{Keyword: "x"}, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestClose(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	_, err := c.Search(context.Background(), ProductSearch, search.Descriptor{Keyword: "x"}, 1)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
