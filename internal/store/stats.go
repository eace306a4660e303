package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/engage/internal/dbopen"
)

// SourceStats holds the lifetime counters for one source.
type SourceStats struct {
	SourceID string `json:"source_id"`
	Scanned  int64  `json:"scanned"`
	Found    int64  `json:"found"`
	Sent     int64  `json:"sent"`
}

// DailyStats holds the aggregate counters. ResponsesToday is the only field
// subject to day-boundary reset.
type DailyStats struct {
	TotalCycles            int64  `json:"total_cycles"`
	TotalResponses         int64  `json:"total_responses"`
	ResponsesToday         int64  `json:"responses_today"`
	LastResetDate          string `json:"last_reset_date"`
	CyclesWithResponses    int64  `json:"cycles_with_responses"`
	CyclesWithoutResponses int64  `json:"cycles_without_responses"`
	StartedAt              int64  `json:"started_at"`
}

// Ledger is the in-memory stats state owned by the orchestrator. Mutations
// happen in memory during a cycle; Save flushes everything in one
// transaction at the cycle's persisting checkpoint. The mutex exists because
// the status HTTP surface reads snapshots while a cycle is running.
type Ledger struct {
	mu      sync.Mutex
	daily   DailyStats
	sources map[string]*SourceStats
}

// NewLedger returns an empty ledger, all counters at zero.
func NewLedger() *Ledger {
	return &Ledger{
		daily:   DailyStats{StartedAt: time.Now().UnixMilli()},
		sources: make(map[string]*SourceStats),
	}
}

// LoadLedger reads the full ledger from the database. Missing rows start at
// zero; sources not yet seen get entries lazily on first mutation.
func (s *Store) LoadLedger(ctx context.Context) (*Ledger, error) {
	l := &Ledger{sources: make(map[string]*SourceStats)}

	err := s.DB.QueryRowContext(ctx,
		`SELECT total_cycles, total_responses, responses_today, last_reset_date,
		cycles_with_responses, cycles_without_responses, started_at
		FROM daily_stats WHERE id = 1`).Scan(
		&l.daily.TotalCycles, &l.daily.TotalResponses, &l.daily.ResponsesToday,
		&l.daily.LastResetDate, &l.daily.CyclesWithResponses,
		&l.daily.CyclesWithoutResponses, &l.daily.StartedAt)
	if err == sql.ErrNoRows {
		l.daily.StartedAt = time.Now().UnixMilli()
	} else if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT source_id, scanned, found, sent FROM source_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		st := &SourceStats{}
		if err := rows.Scan(&st.SourceID, &st.Scanned, &st.Found, &st.Sent); err != nil {
			return nil, err
		}
		l.sources[st.SourceID] = st
	}
	return l, rows.Err()
}

// SaveLedger flushes the ledger to the database in one transaction with
// busy retry. Losing stats risks a runaway daily counter, so callers treat
// a persistent failure here as loud but non-fatal: the in-memory ledger
// stays authoritative for the rest of the process lifetime.
func (s *Store) SaveLedger(ctx context.Context, l *Ledger) error {
	l.mu.Lock()
	daily := l.daily
	sources := make([]SourceStats, 0, len(l.sources))
	for _, st := range l.sources {
		sources = append(sources, *st)
	}
	l.mu.Unlock()

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO daily_stats (id, total_cycles, total_responses, responses_today,
			last_reset_date, cycles_with_responses, cycles_without_responses, started_at)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				total_cycles = excluded.total_cycles,
				total_responses = excluded.total_responses,
				responses_today = excluded.responses_today,
				last_reset_date = excluded.last_reset_date,
				cycles_with_responses = excluded.cycles_with_responses,
				cycles_without_responses = excluded.cycles_without_responses,
				started_at = excluded.started_at`,
			daily.TotalCycles, daily.TotalResponses, daily.ResponsesToday,
			daily.LastResetDate, daily.CyclesWithResponses,
			daily.CyclesWithoutResponses, daily.StartedAt)
		if err != nil {
			return err
		}

		for _, st := range sources {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO source_stats (source_id, scanned, found, sent)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(source_id) DO UPDATE SET
					scanned = excluded.scanned,
					found = excluded.found,
					sent = excluded.sent`,
				st.SourceID, st.Scanned, st.Found, st.Sent)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DayKey formats t the way LastResetDate stores it.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// RolloverDay resets ResponsesToday if now is on a later date than the last
// reset. This is the only reset path for the daily counter and runs only at
// cycle start, never mid-cycle. Reports whether a reset happened.
func (l *Ledger) RolloverDay(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := DayKey(now)
	if l.daily.LastResetDate == today {
		return false
	}
	reset := l.daily.LastResetDate != ""
	l.daily.ResponsesToday = 0
	l.daily.LastResetDate = today
	return reset
}

// ResponsesToday returns the daily counter.
func (l *Ledger) ResponsesToday() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.daily.ResponsesToday
}

// AddScanned counts one completed scan of a source. Together with Found it
// yields the per-source hit rate (candidates per scan).
func (l *Ledger) AddScanned(sourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.source(sourceID).Scanned++
}

// AddFound adds n to the found counter for a source.
func (l *Ledger) AddFound(sourceID string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.source(sourceID).Found += int64(n)
}

// RecordSent increments every counter a successful send touches: the
// source's lifetime sent counter, the global total, and the daily counter.
func (l *Ledger) RecordSent(sourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.source(sourceID).Sent++
	l.daily.TotalResponses++
	l.daily.ResponsesToday++
}

// RecordCycle increments the cycle counter and the efficiency counters.
func (l *Ledger) RecordCycle(sent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.daily.TotalCycles++
	if sent > 0 {
		l.daily.CyclesWithResponses++
	} else {
		l.daily.CyclesWithoutResponses++
	}
}

// Daily returns a copy of the aggregate counters.
func (l *Ledger) Daily() DailyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.daily
}

// Sources returns copies of all per-source counters, unordered.
func (l *Ledger) Sources() []SourceStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SourceStats, 0, len(l.sources))
	for _, st := range l.sources {
		out = append(out, *st)
	}
	return out
}

// OrderByFound returns the given source IDs ordered by lifetime found count
// descending. Sources that have produced candidates before are scanned
// first, so a cycle can stop early once it has enough.
func (l *Ledger) OrderByFound(sourceIDs []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(sourceIDs))
	copy(out, sourceIDs)
	sort.SliceStable(out, func(i, j int) bool {
		return l.foundLocked(out[i]) > l.foundLocked(out[j])
	})
	return out
}

func (l *Ledger) foundLocked(sourceID string) int64 {
	if st, ok := l.sources[sourceID]; ok {
		return st.Found
	}
	return 0
}

func (l *Ledger) source(sourceID string) *SourceStats {
	st, ok := l.sources[sourceID]
	if !ok {
		st = &SourceStats{SourceID: sourceID}
		l.sources[sourceID] = st
	}
	return st
}
