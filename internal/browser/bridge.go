// Package browser renders pages in headless Chrome for url_fetch.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"

	"agentcli/internal/security"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 100 * 1024
	userAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// ErrNoChrome is returned when no Chrome or Chromium binary can be found.
var ErrNoChrome = errors.New("chrome not found")

// Bridge launches a short-lived headless Chrome per render.
type Bridge struct {
	profileDir string
	execPath   string
	timeout    time.Duration
	maxBytes   int
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory; a throwaway one when empty
	ExecPath   string // Chrome binary; chromedp's lookup when empty
	Timeout    time.Duration
	MaxBytes   int
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		execPath:   cfg.ExecPath,
		timeout:    cfg.Timeout,
		maxBytes:   cfg.MaxBytes,
		logger:     cfg.Logger,
	}
}

// NewContext creates a chromedp context for one headless browser.
// The caller MUST call cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
	)
	if b.profileDir != "" {
		if err := os.MkdirAll(b.profileDir, 0o700); err != nil {
			b.logger.Warn("failed to create profile dir", "dir", b.profileDir, "err", err)
		} else {
			opts = append(opts, chromedp.UserDataDir(b.profileDir))
		}
	}
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	return taskCtx, func() {
		taskCancel()
		allocCancel()
	}
}

// Render loads rawURL, waits for the body and returns the resulting DOM as
// HTML, capped at MaxBytes.
func (b *Bridge) Render(ctx context.Context, rawURL string) (string, error) {
	taskCtx, cancel := b.NewContext(ctx)
	defer cancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, b.timeout)
	defer timeoutCancel()

	start := time.Now()
	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	b.logger.Debug("page rendered", "url", rawURL, "bytes", len(html), "duration", time.Since(start))
	return capBytes(html, b.maxBytes), nil
}

// Available reports whether a Chrome binary can be found.
func (b *Bridge) Available() error {
	if b.execPath != "" {
		if _, err := os.Stat(b.execPath); err != nil {
			return fmt.Errorf("%w: %s", ErrNoChrome, b.execPath)
		}
		return nil
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return nil
		}
	}
	return ErrNoChrome
}

func capBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + security.TruncationMarker
}
