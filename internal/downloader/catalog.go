package downloader

import (
	"context"
	"fmt"
	"log/slog"
)

// MaxSelectorBytes caps the encoded compact reference for a rendition: the
// token, format id, and kind tag joined by '|' must fit the transport's
// callback payload limit.
const MaxSelectorBytes = 64

// FormatCatalog queries the extraction backend and normalizes its raw format
// listing into a ranked, deduplicated, UI-safe set of renditions.
type FormatCatalog struct {
	ext Extractor
	log *slog.Logger
}

// NewFormatCatalog returns a catalog backed by ext.
func NewFormatCatalog(ext Extractor, log *slog.Logger) *FormatCatalog {
	return &FormatCatalog{ext: ext, log: log}
}

// Discover queries the backend once for url and returns the media info plus
// the normalized renditions. Backend-reported order is preserved; duplicate
// labels keep the first (backend-preferred) entry; entries whose selector
// would overflow MaxSelectorBytes are dropped with a logged warning. An
// empty result after filtering is a discovery failure.
func (c *FormatCatalog) Discover(ctx context.Context, token Token, url string) (*MediaInfo, []Rendition, error) {
	info, err := c.ext.Discover(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	seen := make(map[string]bool)
	renditions := make([]Rendition, 0, len(info.Renditions))
	for _, raw := range info.Renditions {
		if !retrievable(raw) {
			continue
		}
		label := renditionLabel(raw)
		if seen[label] {
			continue
		}
		if n := selectorLen(token, raw.FormatID, raw.Kind); n > MaxSelectorBytes {
			c.log.Warn("rendition selector too long, excluded",
				slog.String("format_id", raw.FormatID),
				slog.Int("selector_bytes", n))
			continue
		}
		seen[label] = true
		renditions = append(renditions, Rendition{
			FormatID:           raw.FormatID,
			Label:              label,
			Kind:               raw.Kind,
			EstimatedSizeBytes: raw.FilesizeBytes,
		})
	}

	if len(renditions) == 0 {
		return nil, nil, fmt.Errorf("%w: no downloadable formats for %s", ErrDiscoveryFailed, url)
	}
	return info, renditions, nil
}

// retrievable filters entries lacking a playable video track or resolution
// (video kind) or a retrievable location (any kind).
func retrievable(raw RawRendition) bool {
	if raw.URL == "" {
		return false
	}
	if raw.Kind == MediaVideo {
		return raw.HasVideo && raw.Resolution != ""
	}
	return true
}

// renditionLabel builds the human-readable display label entries dedup on.
func renditionLabel(raw RawRendition) string {
	switch raw.Kind {
	case MediaAudio:
		return "Audio (best)"
	case MediaImage:
		return "Image (thumbnail)"
	default:
		if raw.Ext == "" {
			return raw.Resolution
		}
		return fmt.Sprintf("%s (%s)", raw.Resolution, raw.Ext)
	}
}

func selectorLen(token Token, formatID string, kind MediaKind) int {
	return len(fmt.Sprintf("%s|%s|%s", token, formatID, kind))
}
