package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/engage/internal/dbopen"
)

// SaveSessionState persists the serialized browser session (cookie set)
// after a successful verification.
func (s *Store) SaveSessionState(ctx context.Context, state []byte) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO session_state (id, state, verified_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			verified_at = excluded.verified_at`,
		state, time.Now().UnixMilli())
	return err
}

// LoadSessionState returns the saved session blob and when it was last
// verified. Returns (nil, zero, nil) when no state has been saved.
func (s *Store) LoadSessionState(ctx context.Context) ([]byte, time.Time, error) {
	var state []byte
	var verifiedAt int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT state, verified_at FROM session_state WHERE id = 1`).Scan(&state, &verifiedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return state, time.UnixMilli(verifiedAt), nil
}

// ClearSessionState removes the saved session. The next run has to verify
// from scratch.
func (s *Store) ClearSessionState(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.DB, `DELETE FROM session_state`)
	return err
}
