// Package ytdlp implements the extraction backend by shelling out to the
// yt-dlp binary.
package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"media-downloader/internal/downloader"
)

const (
	DefaultBinary  = "yt-dlp"
	DefaultTimeout = 10 * time.Minute

	// Retry budget passed to yt-dlp; transient retrying is owned here, not
	// by the orchestrator.
	retryCount = "3"

	// Output template stem; the extension is filled in by yt-dlp.
	artifactStem = "artifact"

	// Synthetic selectors for the non-video download modes.
	AudioFormatID = "bestaudio"
	ImageFormatID = "thumbnail"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

// Extractor discovers formats and fetches artifacts via the yt-dlp binary.
type Extractor struct {
	binary  string
	timeout time.Duration
	log     *slog.Logger
}

// New returns an extractor using the given yt-dlp binary path. Empty binary
// falls back to DefaultBinary on PATH.
func New(binary string, log *slog.Logger) *Extractor {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Extractor{binary: binary, timeout: DefaultTimeout, log: log}
}

// SetTimeout overrides the per-invocation timeout.
func (e *Extractor) SetTimeout(d time.Duration) {
	e.timeout = d
}

// commonArgs are applied to every yt-dlp invocation.
func commonArgs() []string {
	return []string{
		"--quiet",
		"--no-playlist",
		"--no-check-certificates",
		"--geo-bypass",
		"--retries", retryCount,
		"--extractor-retries", retryCount,
	}
}

// Discover implements downloader.Extractor.Discover. It queries yt-dlp's
// JSON dump once and maps it to raw renditions, appending the synthetic
// audio and image entries the selection menu offers alongside video formats.
func (e *Extractor) Discover(ctx context.Context, url string) (*downloader.MediaInfo, error) {
	out, err := e.run(ctx, append(commonArgs(), "--dump-single-json", url)...)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata query: %w", err)
	}
	return ParseDiscovery(out)
}

// Fetch implements downloader.Extractor.Fetch, writing the artifact under
// destDir with a session-unique template and returning its path.
func (e *Extractor) Fetch(ctx context.Context, url, formatID string, kind downloader.MediaKind, destDir string) (string, error) {
	outTemplate := filepath.Join(destDir, artifactStem+".%(ext)s")

	args := commonArgs()
	switch kind {
	case downloader.MediaAudio:
		args = append(args, "-f", "bestaudio/best", "-o", outTemplate)
	case downloader.MediaImage:
		args = append(args, "--write-thumbnail", "--skip-download", "-o", outTemplate)
	default:
		args = append(args, "-f", formatID, "-o", outTemplate)
	}
	args = append(args, url)

	if _, err := e.run(ctx, args...); err != nil {
		return "", fmt.Errorf("yt-dlp download: %w", err)
	}

	path, err := findArtifact(destDir, kind)
	if err != nil {
		return "", err
	}
	e.log.Debug("artifact fetched", slog.String("path", path), slog.String("format_id", formatID))
	return path, nil
}

// DirectLink implements downloader.Extractor.DirectLink by resolving the
// format's direct media URL without downloading.
func (e *Extractor) DirectLink(ctx context.Context, url, formatID string) (string, error) {
	out, err := e.run(ctx, append(commonArgs(), "-g", "-f", formatID, url)...)
	if err != nil {
		return "", fmt.Errorf("yt-dlp url resolve: %w", err)
	}
	link := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if link == "" {
		return "", fmt.Errorf("yt-dlp returned no url for format %s", formatID)
	}
	return link, nil
}

func (e *Extractor) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// findArtifact locates the yt-dlp output under destDir. The image mode only
// matches thumbnail extensions since --skip-download can still leave other
// files behind.
func findArtifact(destDir string, kind downloader.MediaKind) (string, error) {
	matches, err := filepath.Glob(filepath.Join(destDir, artifactStem+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if kind == downloader.MediaImage && !imageExtensions[strings.ToLower(filepath.Ext(m))] {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("no output artifact found in %s", destDir)
}

// discoveryPayload is the subset of yt-dlp's JSON dump the service uses.
type discoveryPayload struct {
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	WebpageURL string  `json:"webpage_url"`
	Formats    []struct {
		FormatID   string  `json:"format_id"`
		Resolution string  `json:"resolution"`
		Ext        string  `json:"ext"`
		VCodec     string  `json:"vcodec"`
		URL        string  `json:"url"`
		Filesize   int64   `json:"filesize"`
		FilesizeA  float64 `json:"filesize_approx"`
	} `json:"formats"`
}

// ParseDiscovery maps a yt-dlp JSON dump to a MediaInfo. Exported for tests.
func ParseDiscovery(data []byte) (*downloader.MediaInfo, error) {
	var payload discoveryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}

	info := &downloader.MediaInfo{
		Title:           payload.Title,
		DurationSeconds: int(payload.Duration),
	}
	for _, f := range payload.Formats {
		size := f.Filesize
		if size == 0 {
			size = int64(f.FilesizeA)
		}
		info.Renditions = append(info.Renditions, downloader.RawRendition{
			FormatID:      f.FormatID,
			Resolution:    f.Resolution,
			Ext:           f.Ext,
			HasVideo:      f.VCodec != "" && f.VCodec != "none",
			URL:           f.URL,
			FilesizeBytes: size,
			Kind:          downloader.MediaVideo,
		})
	}

	source := payload.WebpageURL
	if source == "" && len(payload.Formats) > 0 {
		source = payload.Formats[0].URL
	}
	if source != "" {
		info.Renditions = append(info.Renditions, downloader.RawRendition{
			FormatID: AudioFormatID,
			URL:      source,
			Kind:     downloader.MediaAudio,
		})
	}
	if payload.Thumbnail != "" {
		info.Renditions = append(info.Renditions, downloader.RawRendition{
			FormatID: ImageFormatID,
			URL:      payload.Thumbnail,
			Kind:     downloader.MediaImage,
		})
	}
	return info, nil
}
