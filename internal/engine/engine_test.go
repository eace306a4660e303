package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/engage/internal/content"
	"github.com/hazyhaar/engage/internal/dispatch"
	"github.com/hazyhaar/engage/internal/store"
)

type fakeSessions struct {
	ensureErr  error
	ensures    int
	authMarked bool
}

func (f *fakeSessions) EnsureSession(ctx context.Context, force bool) error {
	f.ensures++
	return f.ensureErr
}

func (f *fakeSessions) MarkAuthLost() { f.authMarked = true }

type fakeScanner struct {
	items   map[string][]content.Item
	err     error
	scanned []string
}

func (f *fakeScanner) ScanSource(ctx context.Context, sourceID string) ([]content.Item, error) {
	f.scanned = append(f.scanned, sourceID)
	if f.err != nil {
		return nil, f.err
	}
	return f.items[sourceID], nil
}

type fakeDispatcher struct {
	outcome    string
	err        error
	dispatched []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, item content.Item) (dispatch.Result, error) {
	f.dispatched = append(f.dispatched, item.ID)
	if f.err != nil {
		return dispatch.Result{Outcome: dispatch.OutcomeSendFailed}, f.err
	}
	return dispatch.Result{Outcome: f.outcome}, nil
}

type fakePersister struct {
	saves  int
	prunes int
}

func (f *fakePersister) SaveLedger(ctx context.Context, l *store.Ledger) error {
	f.saves++
	return nil
}

func (f *fakePersister) PruneProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	f.prunes++
	return 0, nil
}

func item(src, id string, hint int) content.Item {
	return content.Item{ID: id, SourceID: src, Text: "candidate text", RankHint: hint}
}

func newEngine(sessions *fakeSessions, scanner *fakeScanner, d *fakeDispatcher, p *fakePersister, l *store.Ledger, sources ...string) *Engine {
	return New(Config{
		Sessions:    sessions,
		Scanner:     scanner,
		Dispatcher:  d,
		Persister:   p,
		Ledger:      l,
		Sources:     sources,
		SourcePause: time.Millisecond,
	})
}

func TestRunCycleCleanPath(t *testing.T) {
	// WHAT: A cycle scans, dispatches one item, counts the send, and
	// persists the ledger exactly once.
	// WHY: This is the steady-state path the whole system exists for.
	ledger := store.NewLedger()
	scanner := &fakeScanner{items: map[string][]content.Item{
		"a": {item("a", "a1", 0)},
		"b": {item("b", "b1", 1)},
	}}
	dispatcher := &fakeDispatcher{outcome: dispatch.OutcomeSent}
	persister := &fakePersister{}

	e := newEngine(&fakeSessions{}, scanner, dispatcher, persister, ledger, "a", "b")
	sent, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent: got %d, want 1", sent)
	}
	if len(dispatcher.dispatched) != 1 {
		t.Errorf("dispatched: %v, want exactly one", dispatcher.dispatched)
	}
	if got := ledger.ResponsesToday(); got != 1 {
		t.Errorf("responses today: got %d, want 1", got)
	}
	if d := ledger.Daily(); d.TotalCycles != 1 || d.CyclesWithResponses != 1 {
		t.Errorf("cycle counters: %+v", d)
	}
	if persister.saves != 1 || persister.prunes != 1 {
		t.Errorf("persists: saves=%d prunes=%d", persister.saves, persister.prunes)
	}
}

func TestRunCycleDailyCapShortCircuits(t *testing.T) {
	// WHAT: At the daily cap the cycle skips scanning and session checks
	// entirely but still records itself.
	// WHY: The cap must hold without touching the remote platform.
	ledger := store.NewLedger()
	ledger.RolloverDay(time.Now())
	for i := 0; i < 2; i++ {
		ledger.RecordSent("a")
	}

	sessions := &fakeSessions{}
	scanner := &fakeScanner{}
	e := New(Config{
		Sessions:    sessions,
		Scanner:     scanner,
		Dispatcher:  &fakeDispatcher{},
		Persister:   &fakePersister{},
		Ledger:      ledger,
		Sources:     []string{"a"},
		MaxDaily:    2,
		SourcePause: time.Millisecond,
	})

	sent, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent: got %d, want 0", sent)
	}
	if sessions.ensures != 0 {
		t.Error("session should not be checked at the cap")
	}
	if len(scanner.scanned) != 0 {
		t.Errorf("scanned: %v, want none", scanner.scanned)
	}
	if d := ledger.Daily(); d.TotalCycles != 1 || d.CyclesWithoutResponses != 1 {
		t.Errorf("cycle counters: %+v", d)
	}
}

func TestRunCycleDayRolloverReopensCap(t *testing.T) {
	// WHAT: A cap hit yesterday does not block today's cycle.
	// WHY: The rollover at cycle start is the only daily reset path.
	ledger := store.NewLedger()
	ledger.RolloverDay(time.Now().Add(-24 * time.Hour))
	for i := 0; i < 2; i++ {
		ledger.RecordSent("a")
	}

	scanner := &fakeScanner{items: map[string][]content.Item{"a": {item("a", "a1", 0)}}}
	e := New(Config{
		Sessions:    &fakeSessions{},
		Scanner:     scanner,
		Dispatcher:  &fakeDispatcher{outcome: dispatch.OutcomeSent},
		Persister:   &fakePersister{},
		Ledger:      ledger,
		Sources:     []string{"a"},
		MaxDaily:    2,
		SourcePause: time.Millisecond,
	})

	sent, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent: got %d, want 1 after rollover", sent)
	}
	if got := ledger.ResponsesToday(); got != 1 {
		t.Errorf("responses today: got %d, want 1", got)
	}
}

func TestRunCycleUnverifiedSessionSkips(t *testing.T) {
	// WHAT: A failed session check skips the cycle without scanning.
	// WHY: Never touch sources under an unverified identity.
	scanner := &fakeScanner{}
	e := newEngine(&fakeSessions{ensureErr: errors.New("not authenticated")},
		scanner, &fakeDispatcher{}, &fakePersister{}, store.NewLedger(), "a")

	sent, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if sent != 0 || len(scanner.scanned) != 0 {
		t.Errorf("sent=%d scanned=%v, want 0 and none", sent, scanner.scanned)
	}
}

func TestRunCycleAuthLossAbortsDispatch(t *testing.T) {
	// WHAT: Auth loss during dispatch surfaces, marks the session, and
	// still persists the cycle.
	// WHY: Remaining candidates must wait for a restored session.
	ledger := store.NewLedger()
	persister := &fakePersister{}
	sessions := &fakeSessions{}
	scanner := &fakeScanner{items: map[string][]content.Item{"a": {item("a", "a1", 0)}}}
	e := newEngine(sessions, scanner,
		&fakeDispatcher{err: content.ErrAuthLost}, persister, ledger, "a")

	_, err := e.RunCycle(context.Background())
	if !errors.Is(err, content.ErrAuthLost) {
		t.Fatalf("error: %v, want auth loss", err)
	}
	if !sessions.authMarked {
		t.Error("session should be marked lost")
	}
	if persister.saves != 1 {
		t.Errorf("saves: %d, want 1", persister.saves)
	}
}

func TestRunCycleScanOrderFollowsProductivity(t *testing.T) {
	// WHAT: The more productive source is scanned first.
	// WHY: Cycles should find candidates before the pool fills with noise.
	ledger := store.NewLedger()
	ledger.AddFound("busy", 10)
	ledger.AddFound("quiet", 1)

	scanner := &fakeScanner{items: map[string][]content.Item{}}
	e := newEngine(&fakeSessions{}, scanner, &fakeDispatcher{},
		&fakePersister{}, ledger, "quiet", "busy")

	if _, err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(scanner.scanned) != 2 || scanner.scanned[0] != "busy" {
		t.Errorf("scan order: %v, want busy first", scanner.scanned)
	}
}
