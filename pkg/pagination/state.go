package pagination

import (
	"encoding/json"

	"github.com/Sternrassler/marketplace-search/pkg/search"
)

// Status is the lifecycle phase of a paginated sequence.
type Status int

const (
	// StatusIdle means no query is active or nothing was requested yet.
	StatusIdle Status = iota
	// StatusLoading means page 1 is in flight.
	StatusLoading
	// StatusLoadingMore means a follow-up page is in flight.
	StatusLoadingMore
	// StatusReady means the sequence holds at least the first load's result.
	StatusReady
	// StatusError means the last load failed; earlier pages are retained.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoadingMore:
		return "loading_more"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the view a consumer renders. It is a snapshot; later loads do not
// mutate a State already returned.
type State struct {
	Status           Status
	Pages            []search.Page
	PageParams       []int
	HasNextPage      bool
	IsLoadingInitial bool
	IsLoadingMore    bool
	Err              error
}

// Rows flattens all pages into a single slice.
func (s State) Rows() []json.RawMessage {
	return search.Sequence{Pages: s.Pages, PageParams: s.PageParams}.Rows()
}

func stateOf(seq search.Sequence, status Status) State {
	return State{
		Status:           status,
		Pages:            seq.Pages,
		PageParams:       seq.PageParams,
		IsLoadingInitial: status == StatusLoading,
		IsLoadingMore:    status == StatusLoadingMore,
	}
}
