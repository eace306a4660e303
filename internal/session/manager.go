// Package session owns the one authenticated browser session: Chrome
// lifecycle, cookie persistence, verification caching, and scoped tab
// acquisition. Construction is serialized by a single mutex so concurrent
// callers can never race two Chrome instances into existence.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// StateStore persists the serialized session between runs.
type StateStore interface {
	SaveSessionState(ctx context.Context, state []byte) error
	LoadSessionState(ctx context.Context) ([]byte, time.Time, error)
}

// Config configures the Manager.
type Config struct {
	// BaseURL is the remote platform root.
	BaseURL string

	// HomePath is an authenticated-only endpoint used for verification.
	// Default: "/home".
	HomePath string

	// Remote is the WebSocket URL of an external Chrome. Empty = launch local.
	Remote string

	// Headful shows the browser window (interactive login).
	Headful bool

	// CacheWindow is how long a successful verification stays fresh.
	// Default: 5 minutes.
	CacheWindow time.Duration

	// NavTimeout bounds each navigation. Default: 15s.
	NavTimeout time.Duration

	States StateStore

	// Probe collects auth signals from a loaded page. The manager evaluates
	// the pass/fail predicate; the probe only reads the DOM.
	Probe Probe

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.HomePath == "" {
		c.HomePath = "/home"
	}
	if c.CacheWindow <= 0 {
		c.CacheWindow = 5 * time.Minute
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the browser session.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	browser    *rod.Browser
	lnch       *launcher.Launcher
	verified   bool
	verifiedAt time.Time
	closed     bool
}

// NewManager creates a Manager. The browser launches lazily on first use.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Tab is one working context for a single operation (one scan or one send).
// Callers must Close it on every exit path.
type Tab struct {
	Page *rod.Page

	navTimeout time.Duration
	logger     *slog.Logger
}

// Navigate loads url and waits for the page, bounded by the nav timeout.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.navTimeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("session: navigate %s: %w", url, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.logger.Warn("session: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

// AcquireTab returns a fresh stealth tab on the shared browser, launching
// Chrome first if needed. Exactly one construction proceeds at a time.
func (m *Manager) AcquireTab(ctx context.Context) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("session: manager is closed")
	}

	b, err := m.browserLocked(ctx)
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("session: create tab: %w", err)
	}

	return &Tab{
		Page:       page,
		navTimeout: m.cfg.NavTimeout,
		logger:     m.cfg.Logger,
	}, nil
}

// browserLocked launches or returns the shared browser. Caller holds mu.
func (m *Manager) browserLocked(ctx context.Context) (*rod.Browser, error) {
	if m.browser != nil {
		return m.browser, nil
	}

	log := m.cfg.Logger
	var wsURL string

	if m.cfg.Remote != "" {
		wsURL = m.cfg.Remote
		log.Info("session: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(!m.cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("session: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("session: launched chrome", "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("session: connect: %w", err)
	}

	if err := m.restoreState(ctx, b); err != nil {
		log.Warn("session: restore saved state failed", "error", err)
	}

	m.browser = b
	return b, nil
}

// restoreState loads the saved cookie set into a fresh browser.
func (m *Manager) restoreState(ctx context.Context, b *rod.Browser) error {
	if m.cfg.States == nil {
		return nil
	}
	blob, _, err := m.cfg.States.LoadSessionState(ctx)
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}

	var cookies []*proto.NetworkCookieParam
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return fmt.Errorf("session: decode saved state: %w", err)
	}
	if err := b.SetCookies(cookies); err != nil {
		return fmt.Errorf("session: set cookies: %w", err)
	}
	m.cfg.Logger.Info("session: restored saved auth state", "cookies", len(cookies))
	return nil
}

// persistState serializes the browser's cookie set to the state store.
func (m *Manager) persistState(ctx context.Context, b *rod.Browser) error {
	if m.cfg.States == nil {
		return nil
	}
	cookies, err := b.GetCookies()
	if err != nil {
		return fmt.Errorf("session: get cookies: %w", err)
	}
	blob, err := json.Marshal(proto.CookiesToParams(cookies))
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}
	return m.cfg.States.SaveSessionState(ctx, blob)
}

// MarkAuthLost clears the cached verification. The next cycle re-verifies
// before touching the remote source.
func (m *Manager) MarkAuthLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verified {
		m.cfg.Logger.Warn("session: authentication marker lost, verification cleared")
	}
	m.verified = false
	m.verifiedAt = time.Time{}
}

// Close shuts down the browser.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}
