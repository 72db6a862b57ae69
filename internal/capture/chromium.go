package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Default viewport of the dashboard (7.5" 800x480 panel).
const (
	DefaultWidth   = 800
	DefaultHeight  = 480
	DefaultTimeout = 30 * time.Second
)

// ReadySelector is the element the dashboard page exposes once rendered.
const ReadySelector = `[data-ready="true"]`

// Capturer screenshots a URL into PNG bytes.
type Capturer interface {
	Capture(ctx context.Context, url string) ([]byte, error)
}

// Chromium captures pages with a headless Chromium driven by chromedp.
type Chromium struct {
	Width   int
	Height  int
	Timeout time.Duration
}

// Capture navigates to url, waits for ReadySelector and returns a full-page
// PNG screenshot at the configured viewport. A fresh browser context is used
// per call so a hung page cannot leak into the next render.
func (c Chromium) Capture(parentCtx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	width, height, timeout := c.Width, c.Height, c.Timeout
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("font-render-hinting", "none"),
		)...,
	)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(url),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let web fonts settle before the screenshot.
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return png, nil
}
