// Package client provides the HTTP transport for the marketplace search
// backend. It performs raw requests only; normalization, classification and
// retry live in the fetcher package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/ratelimit"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 10 << 20

// Endpoint describes one search route on the backend.
type Endpoint struct {
	Name   string
	Path   string
	Method string
}

// Search endpoints of the marketplace backend.
var (
	ProductSearch = Endpoint{Name: "product_search", Path: "/api/search/products", Method: http.MethodGet}
	BoothSearch   = Endpoint{Name: "booth_search", Path: "/api/search/booths", Method: http.MethodGet}
	ImageSearch   = Endpoint{Name: "image_search", Path: "/api/search/image", Method: http.MethodPost}
)

// Client is the search backend HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	tracker    *ratelimit.Tracker
	logger     zerolog.Logger
	closed     atomic.Bool
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the search backend, e.g. "https://api.example.com"
	BaseURL string

	// User-Agent header sent with every request
	UserAgent string

	// Token is sent as a bearer token when set
	Token string

	// Timeout per HTTP request
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   15 * time.Second,
	}
}

// New creates a new search client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", base.Scheme)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  log.With().Str("component", "search-client").Logger(),
	}, nil
}

// Search sends one search request for pageNum of d to ep and returns the raw body.
func (c *Client) Search(ctx context.Context, ep Endpoint, d search.Descriptor, pageNum int) ([]byte, error) {
	req, err := c.newRequest(ctx, ep, d, pageNum)
	if err != nil {
		return nil, err
	}
	return c.Do(ep, req)
}

// Searcher binds the client to one endpoint for use by a fetcher.
func (c *Client) Searcher(ep Endpoint) fetcher.Searcher {
	return fetcher.SearcherFunc(func(ctx context.Context, d search.Descriptor, pageNum int) ([]byte, error) {
		return c.Search(ctx, ep, d, pageNum)
	})
}

// Do executes req and returns the response body.
// Non-2xx responses are returned as *HTTPError.
func (c *Client) Do(ep Endpoint, req *http.Request) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(ep.Name).Observe(time.Since(startTime).Seconds())
	}()

	if c.tracker != nil {
		if err := c.tracker.Wait(req.Context()); err != nil {
			requestsTotal.WithLabelValues(ep.Name, "throttled").Inc()
			return nil, fmt.Errorf("%s: %w", ep.Name, err)
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	c.logger.Debug().
		Str("endpoint", ep.Name).
		Str("method", req.Method).
		Msg("Executing search request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(ep.Name, "network_error").Inc()
		c.logger.Debug().Err(err).Str("endpoint", ep.Name).Msg("HTTP request failed")
		return nil, fmt.Errorf("%s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		requestsTotal.WithLabelValues(ep.Name, "read_error").Inc()
		return nil, fmt.Errorf("%s: read body: %w", ep.Name, err)
	}

	requestsTotal.WithLabelValues(ep.Name, strconv.Itoa(resp.StatusCode)).Inc()

	if c.tracker != nil {
		if err := c.tracker.UpdateFromResponse(req.Context(), resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record backend cooldown")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Str("endpoint", ep.Name).
			Int("status", resp.StatusCode).
			Msg("Search request error")
		return nil, &HTTPError{
			Endpoint: ep.Name,
			Code:     resp.StatusCode,
			Status:   resp.Status,
			Body:     truncate(string(body), 256),
		}
	}

	c.logger.Debug().
		Str("endpoint", ep.Name).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Search request completed")

	return body, nil
}

func (c *Client) newRequest(ctx context.Context, ep Endpoint, d search.Descriptor, pageNum int) (*http.Request, error) {
	target := c.baseURL.JoinPath(ep.Path)
	pageSize := d.EffectivePageSize()

	if ep.Method == http.MethodPost {
		payload := make(map[string]any, len(d.Filters)+3)
		for k, v := range d.Filters {
			payload[k] = v
		}
		if d.Keyword != "" {
			payload["keyword"] = d.Keyword
		}
		payload["pageNum"] = pageNum
		payload["pageSize"] = pageSize

		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, ep.Method, target.String(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	q := url.Values{}
	for k, v := range d.Filters {
		q.Set(k, queryValue(v))
	}
	if d.Keyword != "" {
		q.Set("keyword", d.Keyword)
	}
	q.Set("pageNum", strconv.Itoa(pageNum))
	q.Set("pageSize", strconv.Itoa(pageSize))
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, ep.Method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// queryValue renders a filter value as a query parameter.
// Composite values are sent as JSON.
func queryValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close closes the client and releases idle connections.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetTracker gates requests on backend cooldowns recorded by t.
func (c *Client) SetTracker(t *ratelimit.Tracker) {
	c.tracker = t
}
