package linkmeta

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// collectTagsJS returns the page's meta tags keyed by lowercased property or
// name, first value wins, plus document.title.
const collectTagsJS = `(() => {
	const tags = {};
	for (const el of document.querySelectorAll('meta[content]')) {
		const key = (el.getAttribute('property') || el.getAttribute('name') || '').trim().toLowerCase();
		if (key && !(key in tags)) { tags[key] = el.getAttribute('content'); }
	}
	return { title: document.title || '', tags: tags };
})()`

// BrowserFetcher renders the page in headless Chromium before reading meta
// tags, for sites that only emit them from client-side scripts.
type BrowserFetcher struct {
	timeout   time.Duration
	userAgent string
}

func NewBrowserFetcher(timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{timeout: timeout, userAgent: defaultUserAgent}
}

func BrowserAvailable() bool {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (Metadata, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return Metadata{}, err
	}
	if !BrowserAvailable() {
		return Metadata{}, ErrBrowserMissing
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var page struct {
		Title string            `json:"title"`
		Tags  map[string]string `json:"tags"`
	}
	err = chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(f.userAgent).Do(ctx)
		}),
		chromedp.Navigate(target.String()),
		chromedp.WaitReady("head"),
		chromedp.Evaluate(collectTagsJS, &page),
	)
	if err != nil {
		return Metadata{}, fmt.Errorf("render %s: %w", target.Host, err)
	}

	return fromTags(target, page.Tags, page.Title), nil
}
