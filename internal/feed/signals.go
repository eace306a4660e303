package feed

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/engage/internal/session"
)

// Markers that only render for an authenticated user.
var authAnchors = []string{
	`[data-testid="SideNav_NewTweet_Button"]`,
	`[data-testid="AppTabBar_Home_Link"]`,
	`[data-testid="primaryColumn"]`,
}

// AuthSignals reads the raw auth indicators off a loaded page. It is the
// platform-specific probe behind session verification; the pass/fail
// decision stays with the session manager.
func AuthSignals(ctx context.Context, page *rod.Page) (*session.Signals, error) {
	p := page.Context(ctx)

	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("feed: page info: %w", err)
	}

	navs, err := p.Elements("nav")
	if err != nil {
		return nil, fmt.Errorf("feed: nav landmarks: %w", err)
	}

	anchors := 0
	for _, sel := range authAnchors {
		has, _, err := p.Has(sel)
		if err == nil && has {
			anchors++
		}
	}

	return &session.Signals{
		URL:      info.URL,
		Title:    info.Title,
		NavCount: len(navs),
		Anchors:  anchors,
	}, nil
}
