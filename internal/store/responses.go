package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/engage/internal/dbopen"
)

// MaxResponseLog is how many sent replies the log keeps. Oldest entries are
// dropped when the cap is exceeded.
const MaxResponseLog = 100

// Response is one entry in the sent-reply log.
type Response struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"source_id"`
	ItemID     string  `json:"item_id"`
	ItemText   string  `json:"item_text"`
	Reply      string  `json:"reply"`
	Style      string  `json:"style"`
	Confidence float64 `json:"confidence"`
	SentAt     int64   `json:"sent_at"`
}

// InsertResponse appends to the reply log and trims it to MaxResponseLog
// entries in the same transaction.
func (s *Store) InsertResponse(ctx context.Context, r *Response) error {
	if r.SentAt == 0 {
		r.SentAt = time.Now().UnixMilli()
	}
	// Item text is bounded so one long post can't bloat the log.
	text := r.ItemText
	if len(text) > 1000 {
		text = text[:1000]
	}

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO responses (id, source_id, item_id, item_text, reply, style, confidence, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.SourceID, r.ItemID, text, r.Reply, r.Style, r.Confidence, r.SentAt)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM responses WHERE id NOT IN (
				SELECT id FROM responses ORDER BY sent_at DESC, id DESC LIMIT ?
			)`, MaxResponseLog)
		return err
	})
}

// ListResponses returns the most recent entries, newest first.
func (s *Store) ListResponses(ctx context.Context, limit int) ([]*Response, error) {
	if limit <= 0 || limit > MaxResponseLog {
		limit = MaxResponseLog
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, source_id, item_id, item_text, reply, style, confidence, sent_at
		FROM responses ORDER BY sent_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Response
	for rows.Next() {
		r := &Response{}
		if err := rows.Scan(&r.ID, &r.SourceID, &r.ItemID, &r.ItemText,
			&r.Reply, &r.Style, &r.Confidence, &r.SentAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
