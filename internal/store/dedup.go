package store

import (
	"context"
	"time"

	"github.com/hazyhaar/engage/internal/dbopen"
)

// DefaultRetention is how long a processed-item record is kept before
// pruning. Old enough that a source's feed has rolled past the item.
const DefaultRetention = 48 * time.Hour

// MarkProcessed records an item as acted upon. The write is durable before
// this returns (WAL + busy retry): a crash immediately afterwards must not
// allow the item to be dispatched again. Idempotent on conflict.
func (s *Store) MarkProcessed(ctx context.Context, id, sourceID, outcome string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO processed_items (id, source_id, outcome, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, sourceID, outcome, time.Now().UnixMilli())
	return err
}

// IsProcessed reports whether the item has already been acted upon.
func (s *Store) IsProcessed(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_items WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// PruneProcessed deletes records older than the retention window and
// returns how many were removed.
func (s *Store) PruneProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM processed_items WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountProcessed returns the size of the dedup set.
func (s *Store) CountProcessed(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_items`).Scan(&n)
	return n, err
}

// ClearProcessed wipes the dedup set entirely.
func (s *Store) ClearProcessed(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.DB, `DELETE FROM processed_items`)
	return err
}
