package pagination

import (
	"context"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/search"
)

// Config holds paginator configuration.
type Config struct {
	// MaxPages caps the number of pages retained per sequence.
	// Once reached, HasNextPage is false even if the server has more.
	MaxPages int

	// PageSize is used when a descriptor does not request one.
	PageSize int

	// VirtualLatency is the simulated delay before a locally sliced virtual page appears.
	VirtualLatency time.Duration

	// SnapshotTTL is how long a seeded image search snapshot is kept in session storage.
	SnapshotTTL time.Duration
}

// DefaultConfig returns the default paginator configuration.
func DefaultConfig() Config {
	return Config{
		MaxPages:       10,
		PageSize:       search.DefaultPageSize,
		VirtualLatency: 300 * time.Millisecond,
		SnapshotTTL:    30 * time.Minute,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxPages <= 0 {
		c.MaxPages = def.MaxPages
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.VirtualLatency < 0 {
		c.VirtualLatency = 0
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = def.SnapshotTTL
	}
	return c
}

// PageFetcher fetches one normalized page.
// *fetcher.Fetcher is the production implementation.
type PageFetcher interface {
	FetchPage(ctx context.Context, d search.Descriptor, pageNum int, retry bool) (search.Page, error)
}
