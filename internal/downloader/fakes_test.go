package downloader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sparseFile creates a file reporting the given size without allocating it.
func sparseFile(t *testing.T, path string, size int64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func testMediaInfo() *MediaInfo {
	return &MediaInfo{
		Title:           "Test Clip",
		DurationSeconds: 300,
		Renditions: []RawRendition{
			{FormatID: "137", Resolution: "1080p", Ext: "mp4", HasVideo: true, URL: "https://cdn/137", Kind: MediaVideo},
			{FormatID: "22", Resolution: "720p", Ext: "mp4", HasVideo: true, URL: "https://cdn/22", Kind: MediaVideo},
			{FormatID: "bestaudio", URL: "https://cdn/audio", Kind: MediaAudio},
			{FormatID: "thumbnail", URL: "https://cdn/thumb.jpg", Kind: MediaImage},
		},
	}
}

type fakeExtractor struct {
	mu          sync.Mutex
	info        *MediaInfo
	discoverErr error
	fetchSize   int64
	fetchErr    error
	fetchGate   chan struct{} // when set, Fetch blocks until closed or ctx done
	link        string
	linkErr     error
	fetchCalls  int
}

func (f *fakeExtractor) Discover(_ context.Context, _ string) (*MediaInfo, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.info, nil
}

func (f *fakeExtractor) Fetch(ctx context.Context, _, _ string, _ MediaKind, destDir string) (string, error) {
	f.mu.Lock()
	f.fetchCalls++
	gate := f.fetchGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	path := filepath.Join(destDir, "artifact.mp4")
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := file.Truncate(f.fetchSize); err != nil {
		file.Close()
		return "", err
	}
	return path, file.Close()
}

func (f *fakeExtractor) DirectLink(_ context.Context, _, _ string) (string, error) {
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return f.link, nil
}

type segmentCall struct {
	start, duration float64
}

type fakeSegmenter struct {
	mu       sync.Mutex
	duration float64
	probeErr error
	failPart int // 1-based part whose extraction fails; 0 = none
	calls    []segmentCall
}

func (f *fakeSegmenter) ProbeDuration(_ context.Context, _ string) (float64, error) {
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.duration, nil
}

func (f *fakeSegmenter) ExtractSegment(_ context.Context, _ string, start, duration float64, dst string) error {
	f.mu.Lock()
	f.calls = append(f.calls, segmentCall{start: start, duration: duration})
	part := len(f.calls)
	f.mu.Unlock()

	if f.failPart != 0 && part == f.failPart {
		return os.ErrInvalid
	}
	return os.WriteFile(dst, []byte("chunk"), 0o644)
}

func (f *fakeSegmenter) segments() []segmentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]segmentCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type delivered struct {
	path    string
	caption string
}

type fakeDeliverer struct {
	mu        sync.Mutex
	files     []delivered
	links     []string
	notices   []string
	fileErr   error
	onDeliver func() // called after each successful file delivery
}

func (f *fakeDeliverer) DeliverFile(ctx context.Context, _ Token, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.fileErr != nil {
		return f.fileErr
	}
	f.mu.Lock()
	f.files = append(f.files, delivered{path: path, caption: caption})
	cb := f.onDeliver
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (f *fakeDeliverer) DeliverLink(_ context.Context, _ Token, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, url)
	return nil
}

func (f *fakeDeliverer) Notify(_ context.Context, _ Token, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
	return nil
}

func (f *fakeDeliverer) deliveredFiles() []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]delivered, len(f.files))
	copy(out, f.files)
	return out
}

// collect drains an outcome stream to completion.
func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func lastEvent(t *testing.T, events []Event) Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events on outcome stream")
	}
	return events[len(events)-1]
}
