package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// Signals are the raw auth indicators a probe reads off a loaded page.
// The pass/fail predicate over them lives here, not in the probe.
type Signals struct {
	// URL after navigation settled (login flows redirect).
	URL string

	// Title of the page.
	Title string

	// NavCount is the number of top-level navigation landmarks.
	NavCount int

	// Anchors counts platform-specific authenticated-UI markers
	// (compose button, sidebar, primary column).
	Anchors int
}

// Probe collects Signals from a page showing the authenticated-only
// endpoint. Implementations read the DOM and nothing else.
type Probe func(ctx context.Context, page *rod.Page) (*Signals, error)

// ErrNotAuthenticated is returned by EnsureSession when verification fails.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// authenticated is the verification predicate: URL must still be on the
// authenticated endpoint, the title must not be a login page, and the
// authenticated UI must actually be present.
func (m *Manager) authenticated(sig *Signals) bool {
	urlOK := strings.Contains(sig.URL, m.cfg.HomePath) &&
		!strings.Contains(sig.URL, "login") &&
		!strings.Contains(sig.URL, "i/flow")

	title := strings.ToLower(sig.Title)
	titleOK := !strings.HasPrefix(title, "log in") &&
		!strings.HasPrefix(title, "sign in")

	return urlOK && titleOK && (sig.NavCount > 0 || sig.Anchors >= 2)
}

// EnsureSession verifies the session is authenticated, reusing a cached
// verification younger than the cache window unless force is set. On
// success the cookie set is persisted; on failure the cache is invalidated
// and ErrNotAuthenticated returned. It never retries: the caller skips the
// cycle instead of working under an unverified identity.
func (m *Manager) EnsureSession(ctx context.Context, force bool) error {
	m.mu.Lock()
	if !force && m.verified && time.Since(m.verifiedAt) < m.cfg.CacheWindow {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.cfg.Logger.Info("session: verifying authentication")

	ok, err := m.verifyOnce(ctx)
	if err != nil {
		m.MarkAuthLost()
		return fmt.Errorf("session: verification: %w", err)
	}
	if !ok {
		m.MarkAuthLost()
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	m.verified = true
	m.verifiedAt = time.Now()
	m.mu.Unlock()

	m.cfg.Logger.Info("session: authentication verified")
	return nil
}

// verifyOnce loads the authenticated endpoint in a scoped tab, probes it,
// and applies the predicate. The tab is released on all exit paths.
func (m *Manager) verifyOnce(ctx context.Context) (bool, error) {
	tab, err := m.AcquireTab(ctx)
	if err != nil {
		return false, err
	}
	defer tab.Close()

	if err := tab.Navigate(ctx, m.cfg.BaseURL+m.cfg.HomePath); err != nil {
		return false, err
	}

	if m.cfg.Probe == nil {
		return false, fmt.Errorf("session: no probe configured")
	}
	sig, err := m.cfg.Probe(ctx, tab.Page)
	if err != nil {
		return false, err
	}

	if !m.authenticated(sig) {
		m.cfg.Logger.Warn("session: not authenticated",
			"url", sig.URL, "title", sig.Title,
			"nav", sig.NavCount, "anchors", sig.Anchors)
		return false, nil
	}

	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b != nil {
		if err := m.persistState(ctx, b); err != nil {
			m.cfg.Logger.Warn("session: persist state failed", "error", err)
		}
	}
	return true, nil
}

// WaitForLogin opens the login flow in a (headful) tab and polls until the
// operator has completed authentication or ctx is cancelled. On success the
// session state is persisted.
func (m *Manager) WaitForLogin(ctx context.Context, loginPath string) error {
	if loginPath == "" {
		loginPath = "/i/flow/login"
	}

	tab, err := m.AcquireTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()

	if err := tab.Navigate(ctx, m.cfg.BaseURL+loginPath); err != nil {
		return err
	}
	m.cfg.Logger.Info("session: waiting for interactive login", "url", m.cfg.BaseURL+loginPath)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.EnsureSession(ctx, true); err == nil {
				m.cfg.Logger.Info("session: interactive login complete")
				return nil
			}
		}
	}
}
