// Package ffmpeg implements the splitting backend by shelling out to the
// ffmpeg and ffprobe binaries.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultFFmpegBinary  = "ffmpeg"
	DefaultFFprobeBinary = "ffprobe"
	DefaultTimeout       = 10 * time.Minute

	probeLogLevel     = "error"
	probeShowEntries  = "format=duration"
	probeOutputFormat = "csv=p=0"
)

// Segmenter probes durations and extracts stream-copied segments.
type Segmenter struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
}

// New returns a segmenter using the given binaries. Empty paths fall back to
// the defaults on PATH.
func New(ffmpegBin, ffprobeBin string) *Segmenter {
	if ffmpegBin == "" {
		ffmpegBin = DefaultFFmpegBinary
	}
	if ffprobeBin == "" {
		ffprobeBin = DefaultFFprobeBinary
	}
	return &Segmenter{ffmpeg: ffmpegBin, ffprobe: ffprobeBin, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-invocation timeout.
func (s *Segmenter) SetTimeout(d time.Duration) {
	s.timeout = d
}

// ProbeDuration implements downloader.Segmenter.ProbeDuration.
func (s *Segmenter) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffprobe,
		"-v", probeLogLevel,
		"-show_entries", probeShowEntries,
		"-of", probeOutputFormat,
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}

// ExtractSegment implements downloader.Segmenter.ExtractSegment using stream
// copy, so chunks keep the source quality and extraction stays fast.
func (s *Segmenter) ExtractSegment(ctx context.Context, src string, startSeconds, durationSeconds float64, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-y",
		"-ss", formatSeconds(startSeconds),
		"-i", src,
		"-t", formatSeconds(durationSeconds),
		"-c", "copy",
		"-f", "mp4",
		dst,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg segment: %v: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// lastLine trims ffmpeg's noisy stderr to its final line for error messages.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
