package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/engage/internal/content"
	"github.com/hazyhaar/engage/internal/generate"
	"github.com/hazyhaar/engage/internal/store"
)

type fakeGenerator struct {
	reply *generate.Reply
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, req generate.Request) (*generate.Reply, error) {
	return f.reply, f.err
}

type fakeSender struct {
	err   error
	calls int
}

func (f *fakeSender) SendReply(ctx context.Context, item content.Item, text string) error {
	f.calls++
	return f.err
}

type fakeRecords struct {
	marks     map[string]string // item ID -> outcome
	responses []*store.Response
	markErr   error
}

func newFakeRecords() *fakeRecords { return &fakeRecords{marks: map[string]string{}} }

func (f *fakeRecords) MarkProcessed(ctx context.Context, id, sourceID, outcome string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marks[id] = outcome
	return nil
}

func (f *fakeRecords) InsertResponse(ctx context.Context, r *store.Response) error {
	f.responses = append(f.responses, r)
	return nil
}

type fakeSent struct{ count int }

func (f *fakeSent) RecordSent(sourceID string) { f.count++ }

func testItem() content.Item {
	return content.Item{ID: "item1", SourceID: "acct", Text: "thoughts on the new protocol release"}
}

func TestDispatchSuccess(t *testing.T) {
	// WHAT: A confident reply is sent, marked, counted, and logged.
	// WHY: The happy path must touch every durable record exactly once.
	records := newFakeRecords()
	sent := &fakeSent{}
	d := New(Config{
		Generator: &fakeGenerator{reply: &generate.Reply{Text: "solid take", Confidence: 0.9}},
		Sender:    &fakeSender{},
		Records:   records,
		Ledger:    sent,
	})

	res, err := d.Dispatch(context.Background(), testItem())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != OutcomeSent {
		t.Errorf("outcome: %q", res.Outcome)
	}
	if records.marks["item1"] != OutcomeSent {
		t.Errorf("mark: %q", records.marks["item1"])
	}
	if sent.count != 1 {
		t.Errorf("sent counter: %d", sent.count)
	}
	if len(records.responses) != 1 || records.responses[0].Reply != "solid take" {
		t.Errorf("response log: %+v", records.responses)
	}
}

func TestDispatchLowConfidenceMarksWithoutSending(t *testing.T) {
	// WHAT: A reply under the threshold is marked processed and never sent.
	// WHY: Re-generating for the same item every cycle wastes quota.
	records := newFakeRecords()
	sender := &fakeSender{}
	d := New(Config{
		Generator: &fakeGenerator{reply: &generate.Reply{Text: "meh", Confidence: 0.4}},
		Sender:    sender,
		Records:   records,
	})

	res, err := d.Dispatch(context.Background(), testItem())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != OutcomeLowConfidence {
		t.Errorf("outcome: %q", res.Outcome)
	}
	if sender.calls != 0 {
		t.Errorf("send calls: %d, want 0", sender.calls)
	}
	if records.marks["item1"] != OutcomeLowConfidence {
		t.Errorf("mark: %q", records.marks["item1"])
	}
}

func TestDispatchGenerationFailureMarks(t *testing.T) {
	// WHAT: Exhausted generation is a terminal outcome, not a cycle error.
	records := newFakeRecords()
	d := New(Config{
		Generator: &fakeGenerator{err: errors.New("quota")},
		Sender:    &fakeSender{},
		Records:   records,
	})

	res, err := d.Dispatch(context.Background(), testItem())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != OutcomeGenerationFailed {
		t.Errorf("outcome: %q", res.Outcome)
	}
	if records.marks["item1"] != OutcomeGenerationFailed {
		t.Errorf("mark: %q", records.marks["item1"])
	}
}

func TestDispatchAuthLossLeavesItemUnmarked(t *testing.T) {
	// WHAT: Auth loss mid-send surfaces the error and skips the mark.
	// WHY: The item must stay eligible for a retry under a fresh session.
	records := newFakeRecords()
	d := New(Config{
		Generator: &fakeGenerator{reply: &generate.Reply{Text: "solid take", Confidence: 0.9}},
		Sender:    &fakeSender{err: content.ErrAuthLost},
		Records:   records,
	})

	_, err := d.Dispatch(context.Background(), testItem())
	if !errors.Is(err, content.ErrAuthLost) {
		t.Fatalf("error: %v, want auth loss", err)
	}
	if _, marked := records.marks["item1"]; marked {
		t.Error("item should not be marked after auth loss")
	}
}

func TestDispatchOtherSendFailureMarks(t *testing.T) {
	// WHAT: A non-auth send failure marks the item so it is not retried.
	records := newFakeRecords()
	d := New(Config{
		Generator: &fakeGenerator{reply: &generate.Reply{Text: "solid take", Confidence: 0.9}},
		Sender:    &fakeSender{err: errors.New("composer still open")},
		Records:   records,
	})

	res, err := d.Dispatch(context.Background(), testItem())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != OutcomeSendFailed {
		t.Errorf("outcome: %q", res.Outcome)
	}
	if records.marks["item1"] != OutcomeSendFailed {
		t.Errorf("mark: %q", records.marks["item1"])
	}
}

func TestDispatchMarkFailureSurfaces(t *testing.T) {
	// WHAT: A failed durable mark is an error the cycle must see.
	// WHY: An unmarked processed item breaks the at-most-once guarantee.
	records := newFakeRecords()
	records.markErr = errors.New("disk full")
	d := New(Config{
		Generator: &fakeGenerator{reply: &generate.Reply{Text: "solid take", Confidence: 0.9}},
		Sender:    &fakeSender{},
		Records:   records,
	})

	if _, err := d.Dispatch(context.Background(), testItem()); err == nil {
		t.Fatal("expected error when mark fails")
	}
}
