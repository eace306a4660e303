// Package feed implements the remote content source against the platform's
// web UI: profile scanning, article extraction, and the reply interaction
// sequence. All remote access goes through scoped session tabs.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/engage/internal/content"
	"github.com/hazyhaar/engage/internal/session"
)

// UI selectors for the platform's web client.
const (
	selArticle      = "article"
	selReplyButton  = `[data-testid="reply"]`
	selComposeBox   = `[data-testid="tweetTextarea_0"]`
	selSubmitButton = `[data-testid="tweetButton"]`
)

// matchPrefixLen is how many leading characters of an item's text are used
// to re-locate it on the profile before replying.
const matchPrefixLen = 50

// ErrItemNotFound indicates the item is no longer visible on its source
// profile (scrolled past, deleted, feed reordered).
var ErrItemNotFound = errors.New("feed: item no longer visible")

// Config configures the Feed.
type Config struct {
	// BaseURL is the platform root, e.g. "https://x.com".
	BaseURL string

	// DryRun walks the reply interaction but skips the final submission.
	DryRun bool

	// ElementTimeout bounds individual element lookups. Default: 5s.
	ElementTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Feed reads and writes the remote web UI through session tabs.
type Feed struct {
	cfg      Config
	sessions *session.Manager
}

// New creates a Feed bound to the given session manager.
func New(sessions *session.Manager, cfg Config) *Feed {
	cfg.defaults()
	return &Feed{cfg: cfg, sessions: sessions}
}

// Scan loads a source's profile with the given strategy and returns the raw
// candidate items in feed order. Reply-to-others and promoted entries are
// skipped here because recognising them needs the platform markup; topical
// and length filtering is the scanner's job.
func (f *Feed) Scan(ctx context.Context, sourceID string, strategy content.ScanStrategy, maxItems int) ([]content.Item, error) {
	tab, err := f.sessions.AcquireTab(ctx)
	if err != nil {
		return nil, err
	}
	defer tab.Close()

	if err := f.openProfile(ctx, tab, sourceID); err != nil {
		return nil, err
	}
	if err := f.settle(ctx, tab, strategy); err != nil {
		return nil, err
	}

	articles, err := tab.Page.Context(ctx).Elements(selArticle)
	if err != nil {
		return nil, fmt.Errorf("feed: list articles: %w", err)
	}
	f.cfg.Logger.Debug("feed: articles loaded", "source", sourceID, "count", len(articles))

	now := time.Now()
	var items []content.Item
	for i, article := range articles {
		if len(items) >= maxItems {
			break
		}

		html, err := article.HTML()
		if err != nil {
			f.cfg.Logger.Debug("feed: article read failed", "source", sourceID, "index", i, "error", err)
			continue
		}

		full := FlattenHTML(html)
		if isReplyOrPromoted(full) {
			continue
		}

		text := ExtractText(html)
		if text == "" || strings.HasPrefix(text, "RT @") {
			continue
		}

		items = append(items, content.Item{
			ID:           content.Fingerprint(text, sourceID),
			Text:         text,
			SourceID:     sourceID,
			DiscoveredAt: now,
			RankHint:     i,
		})
	}
	return items, nil
}

// SendReply re-locates the item on its source profile by text prefix and
// runs the reply interaction: open composer, insert text, submit (unless
// dry-run), and confirm the composer closed.
func (f *Feed) SendReply(ctx context.Context, item content.Item, text string) error {
	tab, err := f.sessions.AcquireTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()

	if err := f.openProfile(ctx, tab, item.SourceID); err != nil {
		return err
	}
	if err := f.settle(ctx, tab, content.ScanStrategy{ScrollDepth: 800, SettleDelay: 4 * time.Second}); err != nil {
		return err
	}

	target, err := f.findArticle(ctx, tab, item.Text)
	if err != nil {
		return err
	}

	hasReply, replyBtn, err := target.Has(selReplyButton)
	if err != nil || !hasReply {
		return fmt.Errorf("feed: reply affordance missing: %w", errOr(err, ErrItemNotFound))
	}
	if err := replyBtn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("feed: open composer: %w", err)
	}
	if err := sleepCtx(ctx, 2*time.Second); err != nil {
		return err
	}

	box, err := tab.Page.Context(ctx).Timeout(f.cfg.ElementTimeout).Element(selComposeBox)
	if err != nil {
		return fmt.Errorf("feed: composer box: %w", err)
	}
	if err := box.Input(text); err != nil {
		return fmt.Errorf("feed: insert text: %w", err)
	}
	if err := sleepCtx(ctx, time.Second); err != nil {
		return err
	}

	if f.cfg.DryRun {
		f.cfg.Logger.Info("feed: dry run, submission skipped", "source", item.SourceID, "item", item.ID)
		return nil
	}

	submit, err := tab.Page.Context(ctx).Timeout(f.cfg.ElementTimeout).Element(selSubmitButton)
	if err != nil {
		return fmt.Errorf("feed: submit button: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("feed: submit: %w", err)
	}
	if err := sleepCtx(ctx, 2*time.Second); err != nil {
		return err
	}

	// Post-condition: a successful submit closes the composer.
	stillOpen, _, err := tab.Page.Context(ctx).Has(selComposeBox)
	if err == nil && stillOpen {
		return fmt.Errorf("feed: composer still open after submit")
	}
	return nil
}

// openProfile navigates to the source profile and classifies the landing
// state: login redirects become ErrAuthLost, dead profiles ErrUnavailable.
func (f *Feed) openProfile(ctx context.Context, tab *session.Tab, sourceID string) error {
	url := f.cfg.BaseURL + "/" + sourceID
	if err := tab.Navigate(ctx, url); err != nil {
		return err
	}

	info, err := tab.Page.Context(ctx).Info()
	if err != nil {
		return fmt.Errorf("feed: page info: %w", err)
	}
	if strings.Contains(info.URL, "login") || strings.Contains(info.URL, "i/flow") {
		return fmt.Errorf("feed: %s redirected to login: %w", sourceID, content.ErrAuthLost)
	}
	title := strings.ToLower(info.Title)
	if strings.Contains(title, "doesn't exist") || strings.Contains(title, "suspended") {
		return fmt.Errorf("feed: %s (%s): %w", sourceID, info.Title, content.ErrUnavailable)
	}
	return nil
}

// settle scrolls the feed and waits for late-loading entries.
func (f *Feed) settle(ctx context.Context, tab *session.Tab, strategy content.ScanStrategy) error {
	_, err := tab.Page.Context(ctx).Eval(`(y) => window.scrollTo(0, y)`, strategy.ScrollDepth)
	if err != nil {
		return fmt.Errorf("feed: scroll: %w", err)
	}
	return sleepCtx(ctx, strategy.SettleDelay)
}

// findArticle locates the article whose text contains the item's prefix.
func (f *Feed) findArticle(ctx context.Context, tab *session.Tab, itemText string) (*rod.Element, error) {
	prefix := itemText
	if len(prefix) > matchPrefixLen {
		prefix = prefix[:matchPrefixLen]
	}

	articles, err := tab.Page.Context(ctx).Elements(selArticle)
	if err != nil {
		return nil, fmt.Errorf("feed: list articles: %w", err)
	}
	for _, a := range articles {
		html, err := a.HTML()
		if err != nil {
			continue
		}
		if strings.Contains(FlattenHTML(html), prefix) {
			return a, nil
		}
	}
	return nil, ErrItemNotFound
}

// isReplyOrPromoted recognises entries that are replies to other users or
// paid placements from the flattened article text.
func isReplyOrPromoted(full string) bool {
	lower := strings.ToLower(full)
	if strings.HasPrefix(lower, "replying to") {
		return true
	}
	if strings.Contains(lower, "promoted") {
		return true
	}
	for _, line := range strings.Split(full, "\n") {
		if strings.TrimSpace(line) == "Ad" {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
