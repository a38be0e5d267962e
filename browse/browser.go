package browse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagerelay/extract"
)

// BrowserConfig configures the headless acquisition path.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// NavTimeout bounds navigation plus load wait. Default: 30s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser renders script-heavy pages into page models. Lazy: Chrome is
// launched on the first Load and reused until Close.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a Browser. Chrome starts on first use.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// Load navigates a stealth tab to the URL, waits for the page to
// settle, and parses the rendered DOM into a page model.
func (b *Browser) Load(ctx context.Context, contextID, pageURL string) (*extract.PageModel, error) {
	br, err := b.ensure()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("browse: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("browse: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("browse: wait load timeout", "url", pageURL, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browse: read DOM: %w", err)
	}

	return extract.ParsePage(contextID, pageURL, strings.NewReader(res.Value.Str()))
}

func (b *Browser) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("browse: browser is closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}

	var wsURL string
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
		b.cfg.Logger.Info("browse: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browse: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("browse: launched local chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("browse: connect: %w", err)
	}
	if err := br.IgnoreCertErrors(true); err != nil {
		b.cfg.Logger.Warn("browse: ignore cert errors failed", "error", err)
	}

	b.browser = br
	return br, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	b.browser = nil
	return err
}

// Loader combines the HTTP and browser paths: plain fetch first,
// escalate to the rendered DOM when the body looks like a script shell.
// The returned function satisfies extract.Loader.
func Loader(fetcher *Fetcher, browser *Browser, urlFor func(contextID string) string) func(ctx context.Context, contextID string) (*extract.PageModel, error) {
	return func(ctx context.Context, contextID string) (*extract.PageModel, error) {
		pageURL := urlFor(contextID)
		if pageURL == "" {
			return nil, fmt.Errorf("browse: no url registered for context %s", contextID)
		}

		res, err := fetcher.Fetch(ctx, contextID, pageURL)
		if err == nil && res.Sufficient {
			return res.Page, nil
		}

		if browser == nil {
			if err != nil {
				return nil, err
			}
			return res.Page, nil
		}
		return browser.Load(ctx, contextID, pageURL)
	}
}
