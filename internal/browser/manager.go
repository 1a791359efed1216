// Package browser manages the Chrome session of one scrape run: launch via
// rod's launcher, stealth page creation, optional resource blocking, and a
// Terminate that another goroutine may call to kill the session.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Mode controls how Chrome is displayed.
type Mode int

const (
	ModeHeadless Mode = iota // no display
	ModeHeadful              // visible window, Xvfb when XvfbDisplay is set
)

// ErrClosed is returned once the session was closed or terminated.
var ErrClosed = errors.New("browser: session closed")

// Config configures the browser session.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome.
	RemoteURL string

	// Bin is an explicit Chrome binary. Empty = launcher lookup.
	Bin string

	// Revision pins the Chromium snapshot downloaded by the launcher when
	// no Bin is given. 0 = launcher default.
	Revision int

	Mode Mode

	// XvfbDisplay starts Xvfb on this display in headful mode. Empty = use
	// the current DISPLAY.
	XvfbDisplay string

	// ResourceBlocking lists resource types to block (images, fonts,
	// media, stylesheets).
	ResourceBlocking []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process and its single working page.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches (or connects to) Chrome and opens the working page.
func (m *Manager) Start(ctx context.Context) (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, err
	}
	m.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		m.cleanup()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080}); err != nil {
		m.cfg.Logger.Warn("browser: set viewport failed", "error", err)
	}
	if len(m.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, m.cfg.ResourceBlocking); err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}
	m.page = page
	return page, nil
}

// Page returns the working page, or nil before Start / after Close.
func (m *Manager) Page() *rod.Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page
}

// Terminate kills the session. It is safe to call from any goroutine and
// more than once; close errors are logged and swallowed.
func (m *Manager) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cfg.Logger.Warn("browser: terminating session")
	if m.lnch != nil {
		m.lnch.Kill()
	}
	m.cleanup()
	return nil
}

// Close shuts Chrome and Xvfb down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Mode == ModeHeadful && m.cfg.XvfbDisplay != "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)

		bin := m.cfg.Bin
		if bin == "" && m.cfg.Revision > 0 {
			dl := launcher.NewBrowser()
			dl.Revision = m.cfg.Revision
			path, err := dl.Get()
			if err != nil {
				return nil, fmt.Errorf("browser: fetch revision %d: %w", m.cfg.Revision, err)
			}
			bin = path
		}
		if bin != "" {
			l = l.Bin(bin)
		}

		if m.cfg.Mode == ModeHeadful {
			l = l.Headless(false).Set("start-maximized")
			if m.cfg.XvfbDisplay != "" {
				l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
			}
		} else {
			l = l.Headless(true)
		}

		// Anti-detection flags.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode, "revision", m.cfg.Revision)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	m.page = nil
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}
