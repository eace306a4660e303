// Package content defines the unit of discovered content shared by the
// scanner, ranker and dispatcher, plus the error taxonomy for remote
// operations.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Item is one unit of content discovered on a remote source.
type Item struct {
	// ID is the deterministic fingerprint of (normalized text, source).
	ID string `json:"id"`

	// Text is the normalized body.
	Text string `json:"text"`

	// SourceID identifies the originating account or channel.
	SourceID string `json:"source_id"`

	// DiscoveredAt is when the scan produced this item.
	DiscoveredAt time.Time `json:"discovered_at"`

	// RankHint is the item's position in the source feed. Lower is fresher.
	RankHint int `json:"rank_hint"`
}

// ScanStrategy controls how aggressively a source feed is paginated.
type ScanStrategy struct {
	// ScrollDepth is how far to scroll the feed, in pixels.
	ScrollDepth int `yaml:"scroll_depth"`

	// SettleDelay is how long to wait after scrolling before reading the DOM.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// DefaultStrategies is the standard escalation ladder: a shallow quick
// pass, then a deeper scroll with a longer settle when the feed was empty.
func DefaultStrategies() []ScanStrategy {
	return []ScanStrategy{
		{ScrollDepth: 800, SettleDelay: 2 * time.Second},
		{ScrollDepth: 1600, SettleDelay: 3 * time.Second},
	}
}

// Remote operation failures. Callers branch on these with errors.Is.
var (
	// ErrAuthLost indicates the remote session bounced to a login flow.
	// The session manager must re-verify before the next operation.
	ErrAuthLost = errors.New("content: authentication lost")

	// ErrUnavailable indicates the source could not be reached or no longer
	// exists (suspended profile, missing page).
	ErrUnavailable = errors.New("content: source unavailable")
)

const fingerprintLen = 16

// Fingerprint derives the stable item ID from normalized text and source.
// Identical (text, source) pairs always produce the same ID; the same text
// under a different source produces a different ID.
func Fingerprint(text, sourceID string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text) + "\x00" + sourceID))
	return hex.EncodeToString(h[:])[:fingerprintLen]
}
