package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"
)

// Config holds browser instance configuration
type Config struct {
	Headless   bool
	UserAgent  string // Empty selects a random agent from the rotation list
	DisableGPU bool
	NoSandbox  bool
}

// Link is an anchor element read from the current page
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// userAgents is the rotation list applied when no explicit agent is configured
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
}

// Chrome is an interactive browser session backed by a dedicated chromedp
// allocator. Each session owns exactly one instance; there is no concurrency
// within a session.
type Chrome struct {
	ctx             context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	pacing          Pacing
	logger          arbor.ILogger
}

// NewChrome launches a browser instance and verifies it responds
func NewChrome(parent context.Context, config Config, pacing Pacing, logger arbor.ILogger) (*Chrome, error) {
	startTime := time.Now()

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = userAgents[rand.Intn(len(userAgents))]
	}
	if pacing == nil {
		pacing = NoPacing{}
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(parent, allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// Startup probe
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser instance failed startup test: %w", err)
	}

	logger.Debug().
		Str("user_agent", userAgent).
		Bool("headless", config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance created")

	return &Chrome{
		ctx:             browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		pacing:          pacing,
		logger:          logger,
	}, nil
}

// run executes chromedp actions against the session's browser context with
// a bounded timeout, aborting early if the caller's context is cancelled.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(tctx, actions...)
}

// Navigate loads the given URL and waits for the document to be ready
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, 60*time.Second, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate to %s failed: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until an element matching the selector is visible
func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Click waits for the element to become interactable and clicks it
func (c *Chrome) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return c.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.WaitEnabled(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// Clear empties the value of an input element
func (c *Chrome) Clear(ctx context.Context, selector string) error {
	return c.run(ctx, 15*time.Second, chromedp.Clear(selector, chromedp.ByQuery))
}

// SendKeys types text into an element without pacing
func (c *Chrome) SendKeys(ctx context.Context, selector, text string) error {
	return c.run(ctx, 30*time.Second, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// TypeText types text into an element one character at a time with a
// jittered inter-key delay from the pacing policy
func (c *Chrome) TypeText(ctx context.Context, selector, text string) error {
	for _, r := range text {
		if err := c.run(ctx, 15*time.Second, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("typing into %s failed: %w", selector, err)
		}
		if delay := c.pacing.Keystroke(); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}

// Submit sends the Enter key to the element
func (c *Chrome) Submit(ctx context.Context, selector string) error {
	return c.run(ctx, 15*time.Second, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

// ScrollToBottom scrolls the window to the bottom of the document
func (c *Chrome) ScrollToBottom(ctx context.Context) error {
	return c.run(ctx, 15*time.Second, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight);`, nil))
}

// ControlEnabled reports whether an element matching the selector exists
// and is not disabled
func (c *Chrome) ControlEnabled(ctx context.Context, selector string) (bool, error) {
	var enabled bool
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%q); return !!el && !el.disabled; })()`, selector)
	if err := c.run(ctx, 15*time.Second, chromedp.Evaluate(script, &enabled)); err != nil {
		return false, err
	}
	return enabled, nil
}

// Links returns href and visible text for every element matching the selector
func (c *Chrome) Links(ctx context.Context, selector string) ([]Link, error) {
	var links []Link
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(a => ({href: a.href || "", text: (a.innerText || "").trim()}))`,
		selector,
	)
	if err := c.run(ctx, 30*time.Second, chromedp.Evaluate(script, &links)); err != nil {
		return nil, fmt.Errorf("link query %s failed: %w", selector, err)
	}
	return links, nil
}

// CurrentURL returns the location of the current page
func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, 15*time.Second, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// PageSource returns the rendered markup of the current page
func (c *Chrome) PageSource(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, 30*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to read page source: %w", err)
	}
	return html, nil
}

// Close releases the browser and its allocator. Safe to call more than once.
func (c *Chrome) Close() error {
	if c.browserCancel != nil {
		c.browserCancel()
		c.browserCancel = nil
	}
	if c.allocatorCancel != nil {
		c.allocatorCancel()
		c.allocatorCancel = nil
	}
	c.logger.Debug().Msg("Browser instance closed")
	return nil
}
