package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/client"
	"github.com/Sternrassler/marketplace-search/pkg/config"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/logging"
	"github.com/Sternrassler/marketplace-search/pkg/metrics"
	"github.com/Sternrassler/marketplace-search/pkg/pagination"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/Sternrassler/marketplace-search/pkg/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reservedParams are query parameters the proxy consumes itself.
var reservedParams = map[string]bool{"keyword": true, "pageSize": true, "page": true, "mode": true, "prefetch": true}

// growPoll is how often growTo checks a load started by another request.
const growPoll = 20 * time.Millisecond

type server struct {
	remote      map[string]*pagination.Engine
	image       *pagination.Engine
	storage     session.Storage
	snapshotTTL time.Duration
	logger      zerolog.Logger
}

func newServer(c *client.Client, storage session.Storage, cfg config.Config) (*server, error) {
	if storage == nil {
		return nil, fmt.Errorf("session storage is required")
	}
	return &server{
		remote: map[string]*pagination.Engine{
			"products": newEngine(c.Searcher(client.ProductSearch), cfg, "products"),
			"booths":   newEngine(c.Searcher(client.BoothSearch), cfg, "booths"),
		},
		image:       newEngine(c.Searcher(client.ImageSearch), cfg, "image"),
		storage:     storage,
		snapshotTTL: cfg.SnapshotTTL,
		logger:      logging.NewLogger("search-proxy"),
	}, nil
}

func (s *server) engines() []*pagination.Engine {
	return []*pagination.Engine{s.remote["products"], s.remote["booths"], s.image}
}

// startSweepers runs each cache store's garbage collection until ctx ends.
func (s *server) startSweepers(ctx context.Context, interval time.Duration) {
	for _, e := range s.engines() {
		go e.Store().Run(ctx, interval)
	}
}

// Close cancels all running fetches.
func (s *server) Close() {
	for _, e := range s.engines() {
		e.Close()
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /search/image/{id}", s.imagePageHandler)
	mux.HandleFunc("POST /search/image", s.imageSearchHandler)
	mux.HandleFunc("GET /search/{kind}", s.remoteSearchHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type pageResponse struct {
	SessionID   string            `json:"sessionId,omitempty"`
	Page        int               `json:"page"`
	Rows        []json.RawMessage `json:"rows"`
	Total       int               `json:"total"`
	TotalPages  int               `json:"totalPages"`
	PageParams  []int             `json:"pageParams,omitempty"`
	HasNextPage bool              `json:"hasNextPage"`
	Loading     bool              `json:"loading,omitempty"`
}

// remoteSearchHandler serves GET /search/{products|booths}.
//
// By default the infinite sequence is grown up to ?page and that page is
// returned; ?mode=page serves a single page from the basic search cache.
func (s *server) remoteSearchHandler(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.remote[r.PathValue("kind")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown search kind %q", r.PathValue("kind"))
		return
	}

	d, page, err := descriptorFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if r.URL.Query().Get("mode") == "page" {
		ahead, err := prefetchParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		p, err := engine.Search(ctx, d, page)
		if err != nil {
			writeError(w, statusFor(err), "search failed: %v", err)
			return
		}
		if ahead > 0 && p.PageNum < p.TotalPages {
			go s.prefetch(engine, d, p.PageNum+ahead)
		}
		writeJSON(w, http.StatusOK, pageResponse{
			Page:        p.PageNum,
			Rows:        p.Rows,
			Total:       p.Total,
			TotalPages:  p.TotalPages,
			HasNextPage: p.PageNum < p.TotalPages,
		})
		return
	}

	h := engine.Remote(d)
	defer h.Close()

	st := h.Load(ctx)
	st = growTo(ctx, st, page, h.LoadNextPage)
	s.writeState(w, st, page, "")
}

// prefetch warms the basic search cache up to lastPage after the response
// is written.
func (s *server) prefetch(engine *pagination.Engine, d search.Descriptor, lastPage int) {
	cfg := pagination.DefaultPrefetchConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout)
	defer cancel()

	pages, err := engine.Prefetch(ctx, d, lastPage, cfg)
	if err != nil {
		s.logger.Warn().Err(err).Int("pages", len(pages)).Msg("Prefetch incomplete")
		return
	}
	s.logger.Debug().Int("pages", len(pages)).Msg("Prefetched pages")
}

// growTo loads pages until page is present, the sequence ends or a call
// makes no progress. A load held by another request is waited out.
func growTo(ctx context.Context, st pagination.State, page int, next func(context.Context) pagination.State) pagination.State {
	for len(st.Pages) < page && st.HasNextPage && st.Err == nil && ctx.Err() == nil {
		before := len(st.Pages)
		st = next(ctx)
		if len(st.Pages) > before {
			continue
		}
		if !st.IsLoadingMore {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(growPoll):
		}
	}
	return st
}

// imageSearchHandler serves POST /search/image: runs the one-shot image
// search, stores the snapshot under a new session id and returns page 1.
func (s *server) imageSearchHandler(w http.ResponseWriter, r *http.Request) {
	d, err := descriptorFromBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	id := uuid.NewString()
	payload, err := json.Marshal(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "encode payload: %v", err)
		return
	}
	if err := s.storage.Set(ctx, payloadKey(id), payload, s.snapshotTTL); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store payload: %v", err)
		return
	}

	if _, err := s.image.SeedImageSearch(ctx, s.storage, snapshotKey(id), d); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}

	v := s.image.Virtual(s.storage, snapshotKey(id), d)
	defer v.Close()
	st := v.Activate(ctx)

	s.logger.Info().Str("session_id", id).Int("rows", len(st.Rows())).Msg("Image search session created")
	s.writeState(w, st, 1, id)
}

// imagePageHandler serves GET /search/image/{id}?page=N from the stored snapshot.
func (s *server) imagePageHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	page, err := pageParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	raw, err := s.storage.Get(ctx, payloadKey(id))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "image search session %s not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "load payload: %v", err)
		return
	}
	var d search.Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		writeError(w, http.StatusInternalServerError, "decode payload: %v", err)
		return
	}

	v := s.image.Virtual(s.storage, snapshotKey(id), d)
	defer v.Close()

	st := v.Activate(ctx)
	st = growTo(ctx, st, page, v.LoadNextPage)
	s.writeState(w, st, page, id)
}

func (s *server) writeState(w http.ResponseWriter, st pagination.State, page int, sessionID string) {
	if st.Err != nil && len(st.Pages) < page {
		writeError(w, statusFor(st.Err), "search failed: %v", st.Err)
		return
	}

	resp := pageResponse{
		SessionID:   sessionID,
		Page:        page,
		Rows:        []json.RawMessage{},
		PageParams:  st.PageParams,
		HasNextPage: st.HasNextPage,
		Loading:     st.IsLoadingInitial || st.IsLoadingMore,
	}
	if last, ok := lastPage(st); ok {
		resp.Total = last.Total
		resp.TotalPages = last.TotalPages
	}

	switch {
	case page <= len(st.Pages):
		p := st.Pages[page-1]
		resp.Rows = p.Rows
		resp.Total = p.Total
		resp.TotalPages = p.TotalPages
	case resp.Loading:
		writeJSON(w, http.StatusAccepted, resp)
		return
	case sessionID == "" || page > 1:
		writeError(w, http.StatusNotFound, "page %d is beyond the end of the results", page)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func lastPage(st pagination.State) (search.Page, bool) {
	if len(st.Pages) == 0 {
		return search.Page{}, false
	}
	return st.Pages[len(st.Pages)-1], true
}

func descriptorFromQuery(r *http.Request) (search.Descriptor, int, error) {
	q := r.URL.Query()
	d := search.Descriptor{Keyword: strings.TrimSpace(q.Get("keyword"))}

	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return search.Descriptor{}, 0, fmt.Errorf("invalid pageSize %q", v)
		}
		d.PageSize = n
	}

	for name, values := range q {
		if reservedParams[name] || len(values) == 0 || values[0] == "" {
			continue
		}
		d = d.With(name, values[0])
	}

	if d.IsEmpty() {
		return search.Descriptor{}, 0, fmt.Errorf("keyword or filter required")
	}

	page, err := pageParam(r)
	if err != nil {
		return search.Descriptor{}, 0, err
	}
	return d, page, nil
}

// prefetchParam reads ?prefetch, the number of pages to warm past the served one.
func prefetchParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("prefetch")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid prefetch %q", v)
	}
	return n, nil
}

func pageParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("page")
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page %q", v)
	}
	return n, nil
}

// descriptorFromBody reads an image search payload. pageSize and keyword are
// lifted out; every other field is forwarded as a filter.
func descriptorFromBody(body io.Reader) (search.Descriptor, error) {
	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&payload); err != nil {
		return search.Descriptor{}, fmt.Errorf("invalid image search payload: %w", err)
	}

	var d search.Descriptor
	for name, value := range payload {
		switch name {
		case "pageSize":
			n, ok := value.(float64)
			if !ok || n < 1 {
				return search.Descriptor{}, fmt.Errorf("invalid pageSize %v", value)
			}
			d.PageSize = int(n)
		case "keyword":
			kw, _ := value.(string)
			d.Keyword = kw
		default:
			d = d.With(name, value)
		}
	}
	if d.IsEmpty() {
		return search.Descriptor{}, fmt.Errorf("image search payload is empty")
	}
	return d, nil
}

func snapshotKey(id string) string {
	return "image:" + id
}

func payloadKey(id string) string {
	return "image:" + id + ":payload"
}

// statusFor maps a fetch failure onto the proxy's response status.
func statusFor(err error) int {
	if errors.Is(err, fetcher.ErrInvalidPage) {
		return http.StatusBadRequest
	}
	if errors.Is(err, fetcher.ErrCancelled) {
		return http.StatusGatewayTimeout
	}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		switch fe.Class {
		case fetcher.ErrorClassClient:
			return http.StatusBadRequest
		case fetcher.ErrorClassRateLimit:
			return http.StatusTooManyRequests
		}
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
