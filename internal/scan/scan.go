// Package scan turns raw source feeds into filtered, deduplicated
// candidates. A failing source never fails the cycle: errors are logged,
// counted, and the scanner moves on, with auth loss reported to the
// caller through a callback.
package scan

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/engage/internal/content"
)

// Source produces raw candidate items for one source profile.
type Source interface {
	Scan(ctx context.Context, sourceID string, strategy content.ScanStrategy, maxItems int) ([]content.Item, error)
}

// Dedup answers whether an item was already processed.
type Dedup interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
}

// Counter records per-source scan activity: one Scanned tick per completed
// scan, Found per accepted item.
type Counter interface {
	AddScanned(sourceID string)
	AddFound(sourceID string, n int)
}

// Config configures the Scanner.
type Config struct {
	Source Source
	Dedup  Dedup
	Ledger Counter
	Filter *Filter

	// Strategies are tried in order: the first always runs, the next is
	// an escalation retry when a scan comes back empty.
	Strategies []content.ScanStrategy

	// MaxItems caps accepted items per source. Default: 5.
	MaxItems int

	// OnAuthLost fires when a scan detects a lost session. Optional.
	OnAuthLost func()

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxItems <= 0 {
		c.MaxItems = 5
	}
	if len(c.Strategies) == 0 {
		c.Strategies = content.DefaultStrategies()
	}
	if c.Filter == nil {
		c.Filter = NewFilter(FilterConfig{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scanner scans sources and filters what they yield.
type Scanner struct {
	cfg Config
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	cfg.defaults()
	return &Scanner{cfg: cfg}
}

// ScanSource scans one source and returns the accepted items, up to the
// per-source cap. Most failures are absorbed after logging so the cycle
// continues with the other sources; the error return is non-nil only for
// auth loss, which also fires the OnAuthLost callback, because the caller
// must stop touching the remote source entirely.
func (s *Scanner) ScanSource(ctx context.Context, sourceID string) ([]content.Item, error) {
	log := s.cfg.Logger.With("source", sourceID)

	raw, err := s.scanWithEscalation(ctx, sourceID, log)
	if err != nil {
		switch {
		case errors.Is(err, content.ErrAuthLost):
			log.Warn("scan: session lost")
			if s.cfg.OnAuthLost != nil {
				s.cfg.OnAuthLost()
			}
			return nil, err
		case errors.Is(err, content.ErrUnavailable):
			log.Warn("scan: source unavailable", "error", err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Info("scan: cancelled")
		default:
			log.Error("scan: failed", "error", err)
		}
		return nil, nil
	}

	if s.cfg.Ledger != nil {
		s.cfg.Ledger.AddScanned(sourceID)
	}

	var accepted []content.Item
	for _, item := range raw {
		if len(accepted) >= s.cfg.MaxItems {
			break
		}

		if s.cfg.Dedup != nil {
			seen, err := s.cfg.Dedup.IsProcessed(ctx, item.ID)
			if err != nil {
				log.Error("scan: dedup lookup failed", "item", item.ID, "error", err)
				continue
			}
			if seen {
				continue
			}
		}

		if ok, reason := s.cfg.Filter.Accept(item.Text); !ok {
			log.Debug("scan: filtered", "item", item.ID, "reason", reason)
			continue
		}

		accepted = append(accepted, item)
	}

	if s.cfg.Ledger != nil {
		s.cfg.Ledger.AddFound(sourceID, len(accepted))
	}
	log.Info("scan: done", "raw", len(raw), "accepted", len(accepted))
	return accepted, nil
}

// scanWithEscalation runs the first strategy and, if the feed came back
// empty, escalates through the remaining ones once each. Errors stop the
// escalation immediately.
func (s *Scanner) scanWithEscalation(ctx context.Context, sourceID string, log *slog.Logger) ([]content.Item, error) {
	// Over-fetch raw items so dedup and filtering have slack to discard.
	rawCap := s.cfg.MaxItems * 4

	for i, strategy := range s.cfg.Strategies {
		raw, err := s.cfg.Source.Scan(ctx, sourceID, strategy, rawCap)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			return raw, nil
		}
		if i < len(s.cfg.Strategies)-1 {
			log.Debug("scan: empty feed, escalating strategy", "next", i+1)
		}
	}
	return nil, nil
}
