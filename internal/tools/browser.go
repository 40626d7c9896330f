package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/observability"
)

type Browser struct {
	Headless      bool
	ScreenshotDir string

	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowser(headless bool, screenshotDir string) *Browser {
	return &Browser{Headless: headless, ScreenshotDir: screenshotDir}
}

func (b *Browser) Name() string {
	return "browser"
}

func (b *Browser) Description() string {
	return "Control a browser to interact with websites. The browser stays open until 'close'."
}

func (b *Browser) Operations() []Operation {
	op := func(name, desc string, params ...string) Operation {
		return Operation{Name: name, Kind: governance.OpNetwork, Description: desc, Params: params}
	}
	return []Operation{
		op("navigate", "Open a URL", "url"),
		op("content", "Return the page HTML"),
		op("click", "Click an element", "selector"),
		op("type", "Type text into an element", "selector", "text"),
		op("press", "Press a key", "text"),
		op("scroll", "Scroll to an element or the bottom", "selector"),
		op("wait", "Wait for an element or a number of seconds", "selector", "wait_seconds"),
		op("back", "Navigate back"),
		op("forward", "Navigate forward"),
		op("reload", "Reload the page"),
		op("screenshot", "Save a screenshot"),
		op("close", "Close the browser"),
	}
}

func (b *Browser) Describe(operation string, params map[string]any) string {
	if u := optionalString(params, "url"); u != "" {
		return operation + " " + u
	}
	return operation + " " + optionalString(params, "selector")
}

func (b *Browser) initBrowser(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	return chromedp.Run(b.browserCtx)
}

func (b *Browser) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

func (b *Browser) Execute(ctx context.Context, operation string, params map[string]any) StepResult {
	selector := optionalString(params, "selector")
	text := optionalString(params, "text")

	if operation == "close" {
		b.mu.Lock()
		b.cleanup()
		b.mu.Unlock()
		return Ok("Successfully closed the browser.")
	}

	if err := b.initBrowser(ctx); err != nil {
		return Fail("failed to initialize browser: %v", err)
	}

	actionCtx, cancel := context.WithTimeout(b.browserCtx, 60*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var result string
	var err error

	switch operation {
	case "navigate":
		target, perr := stringParam(params, "url")
		if perr != nil {
			return Fail("%v", perr)
		}
		err = chromedp.Run(actionCtx, chromedp.Navigate(target))
		result = fmt.Sprintf("Successfully navigated to %s", target)

	case "content":
		var html string
		err = chromedp.Run(actionCtx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				node, err := dom.GetDocument().Do(ctx)
				if err != nil {
					return err
				}
				html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
				return err
			}),
		)
		if len(html) > 50000 {
			html = observability.Clip(html, 50000) + "\n... (truncated)"
		}
		result = html

	case "click":
		if selector == "" {
			return Fail("selector required")
		}
		err = chromedp.Run(actionCtx, chromedp.Click(selector, chromedp.ByQuery))
		result = fmt.Sprintf("Clicked %s", selector)

	case "type":
		if selector == "" || text == "" {
			return Fail("selector and text required")
		}
		err = chromedp.Run(actionCtx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
		result = fmt.Sprintf("Typed text in %s", selector)

	case "press":
		if text == "" {
			return Fail("text (key) required")
		}
		err = chromedp.Run(actionCtx, chromedp.KeyEvent(text))
		result = fmt.Sprintf("Pressed key: %s", text)

	case "scroll":
		if selector != "" {
			err = chromedp.Run(actionCtx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
			result = fmt.Sprintf("Scrolled to %s", selector)
		} else {
			err = chromedp.Run(actionCtx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil))
			result = "Scrolled to bottom"
		}

	case "wait":
		seconds := intParam(params, "wait_seconds", 0)
		if selector != "" {
			err = chromedp.Run(actionCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
			result = fmt.Sprintf("Finished waiting for %s", selector)
		} else if seconds > 0 {
			select {
			case <-time.After(time.Duration(seconds) * time.Second):
				result = fmt.Sprintf("Waited for %d seconds", seconds)
			case <-actionCtx.Done():
				err = actionCtx.Err()
			}
		} else {
			result = "Nothing to wait for"
		}

	case "back":
		err = chromedp.Run(actionCtx, chromedp.NavigateBack())
		result = "Navigated back"

	case "forward":
		err = chromedp.Run(actionCtx, chromedp.NavigateForward())
		result = "Navigated forward"

	case "reload":
		err = chromedp.Run(actionCtx, chromedp.Reload())
		result = "Page reloaded"

	case "screenshot":
		var buf []byte
		err = chromedp.Run(actionCtx, chromedp.CaptureScreenshot(&buf))
		if err == nil {
			os.MkdirAll(b.ScreenshotDir, 0755)
			filename := fmt.Sprintf("screenshot_%d.png", time.Now().Unix())
			path := filepath.Join(b.ScreenshotDir, filename)
			err = os.WriteFile(path, buf, 0644)
			if err == nil {
				absPath, _ := filepath.Abs(path)
				result = fmt.Sprintf("Screenshot saved to %s", absPath)
			}
		}

	default:
		return Fail("%v: %q", ErrUnknownOperation, operation)
	}

	if err != nil {
		return Fail("Browser action failed: %v", err)
	}
	return Ok(result)
}

// Close shuts down the browser process if one is running.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
}
