package downloader

import "context"

// Extractor is the media extraction backend: format discovery and byte
// retrieval. Calls are blocking and honor ctx cancellation between their own
// internal steps. Fetch writes its output under destDir and returns the
// artifact path; any transient retrying is owned by the implementation.
type Extractor interface {
	Discover(ctx context.Context, url string) (*MediaInfo, error)
	Fetch(ctx context.Context, url, formatID string, kind MediaKind, destDir string) (string, error)
	DirectLink(ctx context.Context, url, formatID string) (string, error)
}

// Segmenter is the splitting backend: container probing and stream-copy
// segment extraction.
type Segmenter interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractSegment(ctx context.Context, src string, startSeconds, durationSeconds float64, dst string) error
}

// Deliverer hands finished artifacts, links, and notices to the transport
// layer. Calls block until the transfer is done; the orchestrator deletes
// temporary artifacts only after DeliverFile returns.
type Deliverer interface {
	DeliverFile(ctx context.Context, token Token, path, caption string) error
	DeliverLink(ctx context.Context, token Token, url string) error
	Notify(ctx context.Context, token Token, text string) error
}
