package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestHTTPError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *HTTPError
		expected string
	}{
		{
			name:     "with body",
			err:      &HTTPError{Endpoint: "product_search", Code: 500, Status: "500 Internal Server Error", Body: `{"msg":"boom"}`},
			expected: `product_search: unexpected status 500 Internal Server Error: {"msg":"boom"}`,
		},
		{
			name:     "without body",
			err:      &HTTPError{Endpoint: "booth_search", Code: 404, Status: "404 Not Found"},
			expected: "booth_search: unexpected status 404 Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestHTTPError_As(t *testing.T) {
	err := fmt.Errorf("search: %w", &HTTPError{Code: 429, Status: "429 Too Many Requests"})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatal("errors.As should extract HTTPError")
	}
	if httpErr.StatusCode() != 429 {
		t.Errorf("StatusCode() = %d, want 429", httpErr.StatusCode())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  short  ", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("truncate() = %q", got)
	}
}

func TestQueryValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"x", "x"},
		{true, "true"},
		{42, "42"},
		{int64(7), "7"},
		{2.50, "2.5"},
		{nil, ""},
		{map[string]int{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := queryValue(tt.in); got != tt.want {
			t.Errorf("queryValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
