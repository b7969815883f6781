package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// Splitter partitions an oversized artifact into sequential, independently
// playable chunks of bounded size along time boundaries, delivering each as
// it is produced.
type Splitter struct {
	seg     Segmenter
	deliver Deliverer
	log     *slog.Logger
}

// NewSplitter returns a splitter using seg for segment extraction and
// deliver for chunk handoff.
func NewSplitter(seg Segmenter, deliver Deliverer, log *slog.Logger) *Splitter {
	return &Splitter{seg: seg, deliver: deliver, log: log}
}

// SplitResult reports how a split run went.
type SplitResult struct {
	Parts int // planned chunk count
	Sent  int // chunks actually delivered
}

// Split probes the artifact's duration, divides it into ceil(size/limit)
// equal time segments, and stream-copies and delivers each in increasing
// part order. Chunk delivery is best-effort: an error on one chunk does not
// stop the remaining attempts, but any error makes the whole run fail with
// ErrSplitFailed noting how many parts were already sent. Chunk files and
// the source artifact are removed before returning, on every path.
func (sp *Splitter) Split(ctx context.Context, token Token, path string, limitBytes int64) (SplitResult, error) {
	defer os.Remove(path)

	st, err := os.Stat(path)
	if err != nil {
		return SplitResult{}, fmt.Errorf("%w: stat source: %v", ErrSplitFailed, err)
	}

	duration, err := sp.seg.ProbeDuration(ctx, path)
	if err != nil {
		return SplitResult{}, fmt.Errorf("%w: probe duration: %v", ErrSplitFailed, err)
	}
	if duration <= 0 {
		return SplitResult{}, fmt.Errorf("%w: source reports non-positive duration", ErrSplitFailed)
	}

	parts := int(math.Ceil(float64(st.Size()) / float64(limitBytes)))
	if parts < 1 {
		parts = 1
	}
	partDuration := duration / float64(parts)
	res := SplitResult{Parts: parts}

	var firstErr error
	for i := 0; i < parts; i++ {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}

		start := float64(i) * partDuration
		// Last segment absorbs rounding so the parts cover the full
		// duration with no gap.
		segDuration := partDuration
		if i == parts-1 {
			segDuration = duration - start
		}

		chunk := filepath.Join(filepath.Dir(path), fmt.Sprintf("part_%d.mp4", i+1))
		if err := sp.seg.ExtractSegment(ctx, path, start, segDuration, chunk); err != nil {
			sp.log.Error("chunk extraction failed",
				slog.String("token", string(token)),
				slog.Int("part", i+1),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			os.Remove(chunk)
			continue
		}

		caption := fmt.Sprintf("Part %d of %d", i+1, parts)
		if err := sp.deliver.DeliverFile(ctx, token, chunk, caption); err != nil {
			sp.log.Error("chunk delivery failed",
				slog.String("token", string(token)),
				slog.Int("part", i+1),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		} else {
			res.Sent++
		}
		os.Remove(chunk)
	}

	if firstErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && firstErr == ctxErr {
			return res, ctxErr
		}
		return res, fmt.Errorf("%w: %d of %d parts sent: %v", ErrSplitFailed, res.Sent, res.Parts, firstErr)
	}
	return res, nil
}
