// Package engine is the cycle orchestrator: it owns the schedule, the
// per-cycle state machine (rollover, caps, session check, scan, rank,
// dispatch, persist) and the end-of-cycle bookkeeping. It is the only
// writer of the ledger's cycle counters.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/engage/internal/content"
	"github.com/hazyhaar/engage/internal/dbopen"
	"github.com/hazyhaar/engage/internal/dispatch"
	"github.com/hazyhaar/engage/internal/rank"
	"github.com/hazyhaar/engage/internal/store"
)

// Sessions is the slice of the session manager the engine needs.
type Sessions interface {
	EnsureSession(ctx context.Context, force bool) error
	MarkAuthLost()
}

// Scanner produces filtered candidates for one source. The error return is
// auth loss only; everything else is absorbed inside the scanner.
type Scanner interface {
	ScanSource(ctx context.Context, sourceID string) ([]content.Item, error)
}

// Dispatcher runs one candidate to a terminal outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, item content.Item) (dispatch.Result, error)
}

// Persister is the durable side the engine flushes at cycle boundaries.
type Persister interface {
	SaveLedger(ctx context.Context, l *store.Ledger) error
	PruneProcessed(ctx context.Context, retention time.Duration) (int64, error)
}

// Config configures the Engine.
type Config struct {
	Sessions   Sessions
	Scanner    Scanner
	Dispatcher Dispatcher
	Persister  Persister
	Ledger     *store.Ledger

	// Sources are the configured source IDs. Scan order within a cycle is
	// decided per cycle from the ledger's found counters.
	Sources []string

	// Interval between cycle starts. Default: 15 minutes.
	Interval time.Duration

	// MaxPerCycle caps sends per cycle. Default: 1.
	MaxPerCycle int

	// MaxDaily caps sends per calendar day. Default: 60.
	MaxDaily int

	// OverFetch multiplies the dispatch budget into a candidate pool size,
	// so non-sent outcomes have alternates to fall through to. Default: 3.
	OverFetch int

	// Retention bounds the dedup set age.
	Retention time.Duration

	// SourcePause is the minimum spacing between source scans. Default: 1s.
	SourcePause time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.MaxPerCycle <= 0 {
		c.MaxPerCycle = 1
	}
	if c.MaxDaily <= 0 {
		c.MaxDaily = 60
	}
	if c.OverFetch <= 0 {
		c.OverFetch = 3
	}
	if c.Retention <= 0 {
		c.Retention = store.DefaultRetention
	}
	if c.SourcePause <= 0 {
		c.SourcePause = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine runs the engagement schedule.
type Engine struct {
	cfg  Config
	pace *rate.Limiter
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:  cfg,
		pace: rate.NewLimiter(rate.Every(cfg.SourcePause), 1),
	}
}

// Run verifies the session once, then loops cycles until ctx is cancelled.
// A failed startup verification is returned to the caller: running blind
// against a logged-out session would only burn cycles.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.cfg.Sessions.EnsureSession(ctx, true); err != nil {
		return fmt.Errorf("engine: startup verification: %w", err)
	}

	for {
		sent, err := e.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.cfg.Logger.Error("engine: cycle failed", "error", err)
		} else {
			e.cfg.Logger.Info("engine: cycle complete", "sent", sent,
				"today", e.cfg.Ledger.ResponsesToday(), "next_in", e.cfg.Interval)
		}

		if err := dbopen.SleepCtx(ctx, e.cfg.Interval); err != nil {
			return err
		}
	}
}

// RunCycle executes one full cycle and returns how many replies were sent.
// The ledger is flushed on every exit path that mutated it.
func (e *Engine) RunCycle(ctx context.Context) (int, error) {
	now := time.Now()
	if e.cfg.Ledger.RolloverDay(now) {
		e.cfg.Logger.Info("engine: new day, daily counter reset", "date", store.DayKey(now))
	}

	remaining := e.cfg.MaxDaily - int(e.cfg.Ledger.ResponsesToday())
	if remaining <= 0 {
		e.cfg.Logger.Info("engine: daily cap reached, skipping cycle", "cap", e.cfg.MaxDaily)
		return e.endCycle(ctx, 0)
	}

	if err := e.cfg.Sessions.EnsureSession(ctx, false); err != nil {
		e.cfg.Logger.Warn("engine: session unverified, skipping cycle", "error", err)
		return e.endCycle(ctx, 0)
	}

	budget := e.cfg.MaxPerCycle
	if budget > remaining {
		budget = remaining
	}
	pool := budget * e.cfg.OverFetch

	candidates, err := e.gather(ctx, pool)
	if err != nil {
		if _, endErr := e.endCycle(ctx, 0); endErr != nil {
			e.cfg.Logger.Error("engine: end-of-cycle persist failed", "error", endErr)
		}
		return 0, err
	}

	ranked := rank.Rank(candidates, pool)
	e.cfg.Logger.Info("engine: candidates ranked",
		"gathered", len(candidates), "ranked", len(ranked), "budget", budget)

	sent := 0
	for _, item := range ranked {
		if sent >= budget {
			break
		}
		res, err := e.cfg.Dispatcher.Dispatch(ctx, item)
		if err != nil {
			if errors.Is(err, content.ErrAuthLost) {
				e.cfg.Sessions.MarkAuthLost()
				if _, endErr := e.endCycle(ctx, sent); endErr != nil {
					e.cfg.Logger.Error("engine: end-of-cycle persist failed", "error", endErr)
				}
				return sent, err
			}
			e.cfg.Logger.Error("engine: dispatch failed", "item", item.ID, "error", err)
			continue
		}
		if res.Outcome == dispatch.OutcomeSent {
			sent++
		}
	}

	return e.endCycle(ctx, sent)
}

// gather scans sources in productivity order until the pool is full or the
// sources run out. Auth loss aborts the remaining sources.
func (e *Engine) gather(ctx context.Context, pool int) ([]content.Item, error) {
	var candidates []content.Item
	for _, sourceID := range e.cfg.Ledger.OrderByFound(e.cfg.Sources) {
		if len(candidates) >= pool {
			break
		}
		if err := e.pace.Wait(ctx); err != nil {
			return candidates, err
		}

		items, err := e.cfg.Scanner.ScanSource(ctx, sourceID)
		if err != nil {
			return candidates, fmt.Errorf("engine: scan %s: %w", sourceID, err)
		}
		candidates = append(candidates, items...)
	}
	return candidates, nil
}

// endCycle records the cycle, flushes the ledger, and prunes the dedup set.
func (e *Engine) endCycle(ctx context.Context, sent int) (int, error) {
	e.cfg.Ledger.RecordCycle(sent)

	if err := e.cfg.Persister.SaveLedger(ctx, e.cfg.Ledger); err != nil {
		return sent, fmt.Errorf("engine: save ledger: %w", err)
	}
	if n, err := e.cfg.Persister.PruneProcessed(ctx, e.cfg.Retention); err != nil {
		e.cfg.Logger.Warn("engine: prune failed", "error", err)
	} else if n > 0 {
		e.cfg.Logger.Debug("engine: pruned dedup records", "removed", n)
	}
	return sent, nil
}
