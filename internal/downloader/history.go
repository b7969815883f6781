package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultHistoryKeep is the per-identity retention cap for history entries.
const DefaultHistoryKeep = 100

// HistoryStore is the persistence contract for the interaction audit log and
// per-identity download history. Implementations can be in-memory or backed
// by Postgres.
type HistoryStore interface {
	// InsertInteraction appends one audit record for a submission.
	InsertInteraction(ctx context.Context, owner Identity, url string) error

	// InsertError appends one record to the failure audit log.
	InsertError(ctx context.Context, owner Identity, url, detail string) error

	// InsertHistory appends one history entry.
	InsertHistory(ctx context.Context, e HistoryEntry) error

	// PruneHistory evicts the oldest entries beyond keep for owner.
	PruneHistory(ctx context.Context, owner Identity, keep int) error

	// DeleteHistory removes all history entries for owner.
	DeleteHistory(ctx context.Context, owner Identity) error

	// CountHistory returns the number of history entries for owner.
	CountHistory(ctx context.Context, owner Identity) (int, error)

	// ListHistory returns up to limit entries for owner, newest first,
	// optionally filtered by platform (empty matches all). A non-positive
	// limit returns everything.
	ListHistory(ctx context.Context, owner Identity, platform Platform, limit int) ([]HistoryEntry, error)

	// PlatformCounts returns per-platform history counts for owner.
	PlatformCounts(ctx context.Context, owner Identity) (map[Platform]int, error)
}

// Recorder couples append and retention pruning into one logical operation
// and exposes the user-facing history queries. Writes are best-effort: a
// storage failure is logged and never fails the download outcome.
type Recorder struct {
	store HistoryStore
	keep  int
	log   *slog.Logger
}

// NewRecorder returns a recorder that keeps at most keep entries per
// identity. Non-positive keep falls back to DefaultHistoryKeep.
func NewRecorder(store HistoryStore, keep int, log *slog.Logger) *Recorder {
	if keep <= 0 {
		keep = DefaultHistoryKeep
	}
	return &Recorder{store: store, keep: keep, log: log}
}

// Record appends e and prunes the owner's history to the retention cap.
func (r *Recorder) Record(ctx context.Context, e HistoryEntry) {
	if err := r.store.InsertHistory(ctx, e); err != nil {
		r.log.Error("history insert failed", slog.String("owner", string(e.Owner)), slog.String("error", err.Error()))
		return
	}
	if err := r.store.PruneHistory(ctx, e.Owner, r.keep); err != nil {
		r.log.Error("history prune failed", slog.String("owner", string(e.Owner)), slog.String("error", err.Error()))
	}
}

// Audit appends one interaction record for a submission. Best-effort.
func (r *Recorder) Audit(ctx context.Context, owner Identity, url string) {
	if err := r.store.InsertInteraction(ctx, owner, url); err != nil {
		r.log.Error("interaction insert failed", slog.String("owner", string(owner)), slog.String("error", err.Error()))
	}
}

// RecordError appends one failure record to the error audit log. Best-effort.
func (r *Recorder) RecordError(ctx context.Context, owner Identity, url, detail string) {
	if err := r.store.InsertError(ctx, owner, url, detail); err != nil {
		r.log.Error("error insert failed", slog.String("owner", string(owner)), slog.String("error", err.Error()))
	}
}

// Clear removes all history for owner and verifies the count is zero.
func (r *Recorder) Clear(ctx context.Context, owner Identity) error {
	if err := r.store.DeleteHistory(ctx, owner); err != nil {
		return err
	}
	n, err := r.store.CountHistory(ctx, owner)
	if err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("history clear left %d entries", n)
	}
	return nil
}

// List returns up to limit entries for owner, newest first.
func (r *Recorder) List(ctx context.Context, owner Identity, platform Platform, limit int) ([]HistoryEntry, error) {
	return r.store.ListHistory(ctx, owner, platform, limit)
}

// Stats returns the total and per-platform download counts for owner.
func (r *Recorder) Stats(ctx context.Context, owner Identity) (total int, perPlatform map[Platform]int, err error) {
	total, err = r.store.CountHistory(ctx, owner)
	if err != nil {
		return 0, nil, err
	}
	perPlatform, err = r.store.PlatformCounts(ctx, owner)
	if err != nil {
		return 0, nil, err
	}
	return total, perPlatform, nil
}

// InMemoryHistory is a concurrency-safe in-memory HistoryStore.
type InMemoryHistory struct {
	mu           sync.Mutex
	history      map[Identity][]HistoryEntry
	interactions map[Identity]int
	failures     map[Identity][]string
}

// NewInMemoryHistory returns a new empty in-memory history store.
func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{
		history:      make(map[Identity][]HistoryEntry),
		interactions: make(map[Identity]int),
		failures:     make(map[Identity][]string),
	}
}

// InsertInteraction implements HistoryStore.InsertInteraction.
func (s *InMemoryHistory) InsertInteraction(_ context.Context, owner Identity, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions[owner]++
	return nil
}

// InsertError implements HistoryStore.InsertError.
func (s *InMemoryHistory) InsertError(_ context.Context, owner Identity, _ string, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[owner] = append(s.failures[owner], detail)
	return nil
}

// InsertHistory implements HistoryStore.InsertHistory.
func (s *InMemoryHistory) InsertHistory(_ context.Context, e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[e.Owner] = append(s.history[e.Owner], e)
	return nil
}

// PruneHistory implements HistoryStore.PruneHistory. Entries are kept in
// insertion order, which matches timestamp order; the oldest are evicted
// first.
func (s *InMemoryHistory) PruneHistory(_ context.Context, owner Identity, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[owner]
	if len(entries) > keep {
		s.history[owner] = append([]HistoryEntry(nil), entries[len(entries)-keep:]...)
	}
	return nil
}

// DeleteHistory implements HistoryStore.DeleteHistory.
func (s *InMemoryHistory) DeleteHistory(_ context.Context, owner Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, owner)
	return nil
}

// CountHistory implements HistoryStore.CountHistory.
func (s *InMemoryHistory) CountHistory(_ context.Context, owner Identity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[owner]), nil
}

// ListHistory implements HistoryStore.ListHistory.
func (s *InMemoryHistory) ListHistory(_ context.Context, owner Identity, platform Platform, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[owner]
	if limit < 0 {
		limit = 0
	}
	out := make([]HistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0; i-- {
		if platform != "" && entries[i].Platform != platform {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PlatformCounts implements HistoryStore.PlatformCounts.
func (s *InMemoryHistory) PlatformCounts(_ context.Context, owner Identity) (map[Platform]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Platform]int)
	for _, e := range s.history[owner] {
		counts[e.Platform]++
	}
	return counts, nil
}
