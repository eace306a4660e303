// Package dispatch takes one ranked candidate through generation, the
// confidence gate, and the send, and records the terminal outcome. Every
// item that enters dispatch is marked processed exactly once — except on
// auth loss mid-send, where the item stays unmarked so a later cycle can
// retry it under a restored session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/engage/internal/content"
	"github.com/hazyhaar/engage/internal/generate"
	"github.com/hazyhaar/engage/internal/store"
)

// Terminal outcomes recorded against a processed item.
const (
	OutcomeSent             = "sent"
	OutcomeLowConfidence    = "low_confidence"
	OutcomeSendFailed       = "send_failed"
	OutcomeGenerationFailed = "generation_failed"
)

// Sender delivers a reply to an item on its remote source.
type Sender interface {
	SendReply(ctx context.Context, item content.Item, text string) error
}

// Records is the durable side of dispatch: the dedup mark and the reply log.
type Records interface {
	MarkProcessed(ctx context.Context, id, sourceID, outcome string) error
	InsertResponse(ctx context.Context, r *store.Response) error
}

// SentCounter tracks successful sends.
type SentCounter interface {
	RecordSent(sourceID string)
}

// Config configures the Dispatcher.
type Config struct {
	Generator generate.Generator
	Sender    Sender
	Records   Records
	Ledger    SentCounter

	// Threshold is the minimum confidence to send. Default: 0.7.
	Threshold float64

	// Audiences maps source IDs to audience hints for generation.
	Audiences map[string]string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.7
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result describes what happened to one dispatched item.
type Result struct {
	Outcome string
	Style   string
	Reply   generate.Reply
}

// Dispatcher runs candidates to a terminal outcome.
type Dispatcher struct {
	cfg Config
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{cfg: cfg}
}

// Dispatch processes one item. The returned error is non-nil only when the
// caller must react: auth loss (abort the cycle, item left unmarked) or a
// failed durable mark (the cycle must not count the item as handled). All
// other failures are folded into the Result outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, item content.Item) (Result, error) {
	log := d.cfg.Logger.With("item", item.ID, "source", item.SourceID)

	style := generate.ClassifyStyle(item.Text)
	reply, err := d.cfg.Generator.Generate(ctx, generate.Request{
		Text:     item.Text,
		Style:    style,
		Audience: d.cfg.Audiences[item.SourceID],
	})
	if err != nil {
		log.Error("dispatch: generation failed", "error", err)
		return d.finish(ctx, item, Result{Outcome: OutcomeGenerationFailed, Style: style})
	}

	if reply.Confidence < d.cfg.Threshold {
		log.Info("dispatch: below confidence threshold",
			"confidence", reply.Confidence, "threshold", d.cfg.Threshold)
		return d.finish(ctx, item, Result{Outcome: OutcomeLowConfidence, Style: style, Reply: *reply})
	}

	if err := d.cfg.Sender.SendReply(ctx, item, reply.Text); err != nil {
		if errors.Is(err, content.ErrAuthLost) {
			// Unmarked on purpose: the item is retryable once the
			// session is restored.
			log.Warn("dispatch: session lost mid-send")
			return Result{Outcome: OutcomeSendFailed, Style: style, Reply: *reply}, err
		}
		log.Error("dispatch: send failed", "error", err)
		return d.finish(ctx, item, Result{Outcome: OutcomeSendFailed, Style: style, Reply: *reply})
	}

	res, err := d.finish(ctx, item, Result{Outcome: OutcomeSent, Style: style, Reply: *reply})
	if err != nil {
		return res, err
	}

	if d.cfg.Ledger != nil {
		d.cfg.Ledger.RecordSent(item.SourceID)
	}
	if err := d.cfg.Records.InsertResponse(ctx, &store.Response{
		ID:         content.Fingerprint(reply.Text, item.ID),
		SourceID:   item.SourceID,
		ItemID:     item.ID,
		ItemText:   item.Text,
		Reply:      reply.Text,
		Style:      style,
		Confidence: reply.Confidence,
		SentAt:     time.Now().UnixMilli(),
	}); err != nil {
		// The send happened and the mark is durable; a lost log entry is
		// not worth failing the cycle over.
		log.Error("dispatch: response log write failed", "error", err)
	}

	log.Info("dispatch: sent", "confidence", reply.Confidence, "style", style)
	return res, nil
}

// finish writes the durable processed mark for a terminal outcome. A failed
// mark is surfaced: without it the item could be dispatched again.
func (d *Dispatcher) finish(ctx context.Context, item content.Item, res Result) (Result, error) {
	if err := d.cfg.Records.MarkProcessed(ctx, item.ID, item.SourceID, res.Outcome); err != nil {
		return res, fmt.Errorf("dispatch: mark processed: %w", err)
	}
	return res, nil
}
