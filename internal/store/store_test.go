package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/engage/internal/dbopen"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db)
}

func TestMarkProcessedIdempotent(t *testing.T) {
	// WHAT: Marking the same item twice keeps one record and does not error.
	// WHY: Dispatch paths may race with a crash-recovery re-mark.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.MarkProcessed(ctx, "item-1", "src-a", "sent"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkProcessed(ctx, "item-1", "src-a", "send_failed"); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	n, err := s.CountProcessed(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("processed count: got %d, want 1", n)
	}

	ok, err := s.IsProcessed(ctx, "item-1")
	if err != nil || !ok {
		t.Errorf("IsProcessed: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestPruneProcessedRetention(t *testing.T) {
	// WHAT: Entries older than the retention window are pruned, younger kept.
	// WHY: The dedup set must not grow without bound.
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour).UnixMilli()
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO processed_items (id, source_id, outcome, processed_at) VALUES ('stale', 'a', 'sent', ?)`,
		old); err != nil {
		t.Fatalf("seed stale: %v", err)
	}
	if err := s.MarkProcessed(ctx, "fresh", "a", "sent"); err != nil {
		t.Fatalf("mark fresh: %v", err)
	}

	pruned, err := s.PruneProcessed(ctx, DefaultRetention)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned: got %d, want 1", pruned)
	}

	if ok, _ := s.IsProcessed(ctx, "stale"); ok {
		t.Error("stale entry should be gone")
	}
	if ok, _ := s.IsProcessed(ctx, "fresh"); !ok {
		t.Error("fresh entry should survive")
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	// WHAT: Ledger counters survive a save/load cycle.
	// WHY: Stats must be authoritative across process restarts.
	s := openTestStore(t)
	ctx := context.Background()

	l, err := s.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	l.RolloverDay(time.Now())
	l.AddScanned("alpha")
	l.AddFound("alpha", 3)
	l.RecordSent("alpha")
	l.RecordCycle(1)
	if err := s.SaveLedger(ctx, l); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := s.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	d := reloaded.Daily()
	if d.TotalCycles != 1 || d.TotalResponses != 1 || d.ResponsesToday != 1 {
		t.Errorf("daily after reload: %+v", d)
	}
	srcs := reloaded.Sources()
	if len(srcs) != 1 || srcs[0].Scanned != 1 || srcs[0].Found != 3 || srcs[0].Sent != 1 {
		t.Errorf("sources after reload: %+v", srcs)
	}
}

func TestRolloverDayResetsDailyCounter(t *testing.T) {
	// WHAT: A new date zeroes responses_today and advances last_reset_date;
	// the same date leaves it alone.
	// WHY: The daily cap must reopen exactly once per calendar day.
	l := &Ledger{sources: map[string]*SourceStats{}}
	yesterday := time.Now().Add(-24 * time.Hour)
	l.RolloverDay(yesterday)
	for i := 0; i < 5; i++ {
		l.RecordSent("src")
	}
	if got := l.ResponsesToday(); got != 5 {
		t.Fatalf("responses today: got %d, want 5", got)
	}

	if reset := l.RolloverDay(time.Now()); !reset {
		t.Error("expected a reset on the next day")
	}
	if got := l.ResponsesToday(); got != 0 {
		t.Errorf("responses today after rollover: got %d, want 0", got)
	}
	if d := l.Daily(); d.TotalResponses != 5 {
		t.Errorf("lifetime total should survive rollover: %+v", d)
	}

	if reset := l.RolloverDay(time.Now()); reset {
		t.Error("same-day rollover must be a no-op")
	}
}

func TestOrderByFound(t *testing.T) {
	// WHAT: Sources are ordered by lifetime found count descending.
	// WHY: Productive sources get scanned first so cycles can exit early.
	l := &Ledger{sources: map[string]*SourceStats{}}
	l.AddFound("quiet", 1)
	l.AddFound("busy", 9)

	got := l.OrderByFound([]string{"unknown", "quiet", "busy"})
	want := []string{"busy", "quiet", "unknown"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}
}

func TestResponseLogCap(t *testing.T) {
	// WHAT: The response log keeps only the newest MaxResponseLog entries.
	// WHY: The log is bounded by design; oldest entries are dropped.
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UnixMilli()
	for i := 0; i < MaxResponseLog+10; i++ {
		err := s.InsertResponse(ctx, &Response{
			ID:       fmt.Sprintf("resp-%03d", i),
			SourceID: "src",
			ItemID:   fmt.Sprintf("item-%03d", i),
			ItemText: "text",
			Reply:    "reply",
			SentAt:   base + int64(i*1000),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	list, err := s.ListResponses(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != MaxResponseLog {
		t.Fatalf("log size: got %d, want %d", len(list), MaxResponseLog)
	}
	if list[0].ID != fmt.Sprintf("resp-%03d", MaxResponseLog+9) {
		t.Errorf("newest first: got %s", list[0].ID)
	}
}

func TestSessionStateRoundTrip(t *testing.T) {
	// WHAT: Session blob save/load/clear.
	// WHY: Login state must survive restarts and be fully erasable.
	s := openTestStore(t)
	ctx := context.Background()

	blob, verifiedAt, err := s.LoadSessionState(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if blob != nil || !verifiedAt.IsZero() {
		t.Errorf("empty state: got (%v, %v)", blob, verifiedAt)
	}

	if err := s.SaveSessionState(ctx, []byte(`[{"name":"auth"}]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	blob, verifiedAt, err = s.LoadSessionState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(blob) != `[{"name":"auth"}]` {
		t.Errorf("blob: got %s", blob)
	}
	if verifiedAt.IsZero() {
		t.Error("verified_at should be set")
	}

	if err := s.ClearSessionState(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	blob, _, _ = s.LoadSessionState(ctx)
	if blob != nil {
		t.Error("state should be cleared")
	}
}
