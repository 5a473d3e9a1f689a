// Package pwdriver implements driver.Driver and driver.Scanner on top of
// playwright-go.
package pwdriver

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/entrhq/formforge/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("pwdriver")
	if err != nil {
		debugLog.Warnf("Failed to initialize pwdriver logger, using stderr fallback: %v", err)
	}
}

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
	DefaultTimeout        = 10 * time.Second
)

// Options configures a browser session.
type Options struct {
	Headless bool
	Width    int
	Height   int
	// Timeout is the default per-operation timeout.
	Timeout time.Duration
	// SkipInstall disables downloading browsers on first start.
	SkipInstall bool
}

// Session owns one playwright browser, context and page.
type Session struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
	closed  bool
}

// Launch installs (unless skipped) and starts playwright, then opens a
// Chromium page.
func Launch(opts Options) (*Session, error) {
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = DefaultViewportWidth, DefaultViewportHeight
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if !opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.Width, Height: opts.Height},
	})
	if err != nil {
		browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	debugLog.Infof("Launched chromium (headless=%v, viewport=%dx%d)", opts.Headless, opts.Width, opts.Height)
	return &Session{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
		timeout: opts.Timeout,
	}, nil
}

// Navigate loads url and waits for the network to settle.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	waitUntil := playwright.WaitUntilStateNetworkidle
	gotoOpts := playwright.PageGotoOptions{WaitUntil: waitUntil}
	if timeout > 0 {
		ms := float64(timeout.Milliseconds())
		gotoOpts.Timeout = &ms
	}
	if _, err := s.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("navigation failed: %w", mapError(err))
	}
	debugLog.Infof("Navigated to %s", s.page.URL())
	return nil
}

// URL returns the current page URL.
func (s *Session) URL() string {
	return s.page.URL()
}

// Driver returns the driver bound to this session's page.
func (s *Session) Driver() *Driver {
	return &Driver{page: s.page, timeout: s.timeout}
}

// Close releases every playwright resource. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.page.Close()
	_ = s.context.Close()
	_ = s.browser.Close()
	if err := s.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}
