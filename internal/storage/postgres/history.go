// Package postgres implements the history store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"fmt"

	"media-downloader/internal/downloader"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
    id BIGSERIAL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    url TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS user_history (
    id BIGSERIAL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    url TEXT NOT NULL,
    format_label TEXT NOT NULL,
    media_kind TEXT NOT NULL,
    platform TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS user_history_owner_idx ON user_history (owner_id, created_at DESC);
CREATE TABLE IF NOT EXISTS errors (
    id BIGSERIAL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    url TEXT NOT NULL,
    detail TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// HistoryStore is a PostgreSQL-backed downloader.HistoryStore.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection, and ensures the schema.
func New(ctx context.Context, dsn string) (*HistoryStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &HistoryStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *HistoryStore) Close() {
	s.pool.Close()
}

// InsertInteraction implements downloader.HistoryStore.InsertInteraction.
func (s *HistoryStore) InsertInteraction(ctx context.Context, owner downloader.Identity, url string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interactions (owner_id, url) VALUES ($1, $2)`,
		string(owner), url)
	return err
}

// InsertError implements downloader.HistoryStore.InsertError.
func (s *HistoryStore) InsertError(ctx context.Context, owner downloader.Identity, url, detail string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO errors (owner_id, url, detail) VALUES ($1, $2, $3)`,
		string(owner), url, detail)
	return err
}

// InsertHistory implements downloader.HistoryStore.InsertHistory.
func (s *HistoryStore) InsertHistory(ctx context.Context, e downloader.HistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_history (owner_id, url, format_label, media_kind, platform, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.Owner), e.URL, e.FormatLabel, string(e.Kind), string(e.Platform), e.Timestamp)
	return err
}

// PruneHistory implements downloader.HistoryStore.PruneHistory, evicting the
// oldest rows beyond keep.
func (s *HistoryStore) PruneHistory(ctx context.Context, owner downloader.Identity, keep int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_history
		 WHERE owner_id = $1
		   AND id NOT IN (
		     SELECT id FROM user_history
		     WHERE owner_id = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		   )`,
		string(owner), keep)
	return err
}

// DeleteHistory implements downloader.HistoryStore.DeleteHistory.
func (s *HistoryStore) DeleteHistory(ctx context.Context, owner downloader.Identity) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_history WHERE owner_id = $1`, string(owner))
	return err
}

// CountHistory implements downloader.HistoryStore.CountHistory.
func (s *HistoryStore) CountHistory(ctx context.Context, owner downloader.Identity) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_history WHERE owner_id = $1`, string(owner)).Scan(&n)
	return n, err
}

// ListHistory implements downloader.HistoryStore.ListHistory.
func (s *HistoryStore) ListHistory(ctx context.Context, owner downloader.Identity, platform downloader.Platform, limit int) ([]downloader.HistoryEntry, error) {
	query := `SELECT owner_id, url, format_label, media_kind, platform, created_at
	          FROM user_history
	          WHERE owner_id = $1`
	args := []any{string(owner)}
	if platform != "" {
		query += ` AND platform = $2`
		args = append(args, string(platform))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []downloader.HistoryEntry
	for rows.Next() {
		var e downloader.HistoryEntry
		var ownerID, kind, plat string
		if err := rows.Scan(&ownerID, &e.URL, &e.FormatLabel, &kind, &plat, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Owner = downloader.Identity(ownerID)
		e.Kind = downloader.MediaKind(kind)
		e.Platform = downloader.Platform(plat)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PlatformCounts implements downloader.HistoryStore.PlatformCounts.
func (s *HistoryStore) PlatformCounts(ctx context.Context, owner downloader.Identity) (map[downloader.Platform]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT platform, COUNT(*) FROM user_history WHERE owner_id = $1 GROUP BY platform`,
		string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[downloader.Platform]int)
	for rows.Next() {
		var plat string
		var n int
		if err := rows.Scan(&plat, &n); err != nil {
			return nil, err
		}
		counts[downloader.Platform(plat)] = n
	}
	return counts, rows.Err()
}
