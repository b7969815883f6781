package downloader

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func entryFor(owner Identity, i int) HistoryEntry {
	return HistoryEntry{
		Owner:       owner,
		URL:         fmt.Sprintf("https://youtube.com/watch?v=%d", i),
		FormatLabel: "720p (mp4)",
		Kind:        MediaVideo,
		Platform:    PlatformYouTube,
		Timestamp:   time.Unix(int64(1_700_000_000+i), 0).UTC(),
	}
}

func TestRecorder_prunes_to_retention_cap(t *testing.T) {
	store := NewInMemoryHistory()
	rec := NewRecorder(store, 100, testLogger())
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		rec.Record(ctx, entryFor("u1", i))
	}

	n, err := store.CountHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("CountHistory: %v", err)
	}
	if n != 100 {
		t.Fatalf("kept %d entries, want 100", n)
	}

	// The survivors are the 100 most recent; the oldest five are gone.
	entries, err := store.ListHistory(ctx, "u1", "", 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	newest := entries[0]
	if newest.URL != "https://youtube.com/watch?v=104" {
		t.Errorf("newest entry = %s, want video 104", newest.URL)
	}
	oldest := entries[len(entries)-1]
	if oldest.URL != "https://youtube.com/watch?v=5" {
		t.Errorf("oldest surviving entry = %s, want video 5", oldest.URL)
	}
}

func TestRecorder_clear(t *testing.T) {
	store := NewInMemoryHistory()
	rec := NewRecorder(store, 100, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec.Record(ctx, entryFor("u1", i))
	}
	rec.Record(ctx, entryFor("u2", 0))

	if err := rec.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := store.CountHistory(ctx, "u1"); n != 0 {
		t.Errorf("u1 count after clear = %d, want 0", n)
	}
	if n, _ := store.CountHistory(ctx, "u2"); n != 1 {
		t.Errorf("clear must not touch other identities, u2 count = %d", n)
	}
}

func TestRecorder_list_newest_first_with_platform_filter(t *testing.T) {
	store := NewInMemoryHistory()
	rec := NewRecorder(store, 100, testLogger())
	ctx := context.Background()

	rec.Record(ctx, entryFor("u1", 0))
	tiktok := entryFor("u1", 1)
	tiktok.Platform = PlatformTikTok
	tiktok.URL = "https://tiktok.com/@x/video/1"
	rec.Record(ctx, tiktok)
	rec.Record(ctx, entryFor("u1", 2))

	entries, err := rec.List(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].URL != "https://youtube.com/watch?v=2" {
		t.Errorf("first entry = %s, want the newest", entries[0].URL)
	}

	onlyTikTok, err := rec.List(ctx, "u1", PlatformTikTok, 10)
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(onlyTikTok) != 1 || onlyTikTok[0].Platform != PlatformTikTok {
		t.Errorf("filtered list = %+v, want only the tiktok entry", onlyTikTok)
	}

	limited, err := rec.List(ctx, "u1", "", 2)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d entries", len(limited))
	}
}

func TestRecorder_list_non_positive_limit_returns_everything(t *testing.T) {
	store := NewInMemoryHistory()
	rec := NewRecorder(store, 100, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec.Record(ctx, entryFor("u1", i))
	}

	for _, limit := range []int{0, -1, -100} {
		entries, err := rec.List(ctx, "u1", "", limit)
		if err != nil {
			t.Fatalf("List limit %d: %v", limit, err)
		}
		if len(entries) != 3 {
			t.Errorf("limit %d returned %d entries, want all 3", limit, len(entries))
		}
	}
}

func TestRecorder_stats(t *testing.T) {
	store := NewInMemoryHistory()
	rec := NewRecorder(store, 100, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec.Record(ctx, entryFor("u1", i))
	}
	vimeo := entryFor("u1", 2)
	vimeo.Platform = PlatformVimeo
	rec.Record(ctx, vimeo)

	total, perPlatform, err := rec.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if perPlatform[PlatformYouTube] != 2 || perPlatform[PlatformVimeo] != 1 {
		t.Errorf("per-platform = %v, want youtube:2 vimeo:1", perPlatform)
	}
}

func TestRecorder_keep_defaulting(t *testing.T) {
	rec := NewRecorder(NewInMemoryHistory(), 0, testLogger())
	if rec.keep != DefaultHistoryKeep {
		t.Errorf("keep = %d, want %d", rec.keep, DefaultHistoryKeep)
	}
}

func TestRecorder_error_audit(t *testing.T) {
	store := NewInMemoryHistory()
	rec := NewRecorder(store, 100, testLogger())
	ctx := context.Background()

	rec.RecordError(ctx, "u1", "https://youtube.com/watch?v=a", "private video")
	rec.RecordError(ctx, "u1", "https://youtube.com/watch?v=b", "network reset")

	if got := store.failures["u1"]; len(got) != 2 || got[0] != "private video" {
		t.Errorf("failure log = %v, want two recorded details", got)
	}
}

func TestInMemoryHistory_audit_counter(t *testing.T) {
	store := NewInMemoryHistory()
	rec := NewRecorder(store, 100, testLogger())
	ctx := context.Background()

	rec.Audit(ctx, "u1", "https://youtube.com/watch?v=a")
	rec.Audit(ctx, "u1", "https://youtube.com/watch?v=b")

	if got := store.interactions["u1"]; got != 2 {
		t.Errorf("interaction count = %d, want 2", got)
	}
}
