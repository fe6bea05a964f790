package configurator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"

	"autoprice/utils"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher retrieves the raw body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// NewFetcher returns the fetcher named by a source.
func NewFetcher(src Source, logger *utils.Logger) Fetcher {
	if src.Fetcher == "browser" {
		return NewBrowserFetcher(src.BrowserPath, logger)
	}
	return NewHTTPFetcher(src.Timeout)
}

// HTTPFetcher talks to configurator JSON/HTML endpoints directly.
type HTTPFetcher struct {
	client *resty.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	client := resty.New()
	client.SetHeader("user-agent", userAgent)
	client.SetHeader("accept", "application/json, text/html;q=0.9")
	client.SetTimeout(timeout)
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("http get %s: %w", url, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("http get %s: status %d", url, res.StatusCode())
	}
	return res.Body(), nil
}

func (f *HTTPFetcher) Close() error { return nil }

// BrowserFetcher renders pages in headless Chrome for configurators that
// build their payload client-side.
type BrowserFetcher struct {
	execPath string
	logger   *utils.Logger

	once          sync.Once
	startErr      error
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewBrowserFetcher runs the Chrome binary at execPath. An empty path falls
// back to $CHROME_BIN and then to chromedp's own lookup.
func NewBrowserFetcher(execPath string, logger *utils.Logger) *BrowserFetcher {
	return &BrowserFetcher{execPath: browserExecPath(execPath), logger: logger}
}

func (b *BrowserFetcher) start() error {
	b.once.Do(func() {
		b.logger.Info("Starting headless browser %q", b.execPath)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.UserAgent(userAgent),
		)
		if b.execPath != "" {
			opts = append(opts, chromedp.ExecPath(b.execPath))
		}
		var allocCtx context.Context
		allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)

		// Suppress chromedp log noise
		b.browserCtx, b.cancelBrowser = chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
		if err := chromedp.Run(b.browserCtx); err != nil {
			b.startErr = fmt.Errorf("chromedp start: %w", err)
		}
	})
	return b.startErr
}

// Fetch opens url in a fresh tab, waits for the body and returns the rendered HTML.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := b.start(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	// tie the tab to the caller's deadline and cancellation
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp render %s: %w", url, err)
	}
	return []byte(html), nil
}

func (b *BrowserFetcher) Close() error {
	if b.cancelBrowser != nil {
		b.cancelBrowser()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	return nil
}

// ExtractPayload returns the text of the first element matching selector,
// typically a <script type="application/json"> block. An empty selector
// returns body unchanged.
func ExtractPayload(body []byte, selector string) ([]byte, error) {
	if selector == "" {
		return body, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("selector %q matched nothing", selector)
	}
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return nil, fmt.Errorf("selector %q matched an empty element", selector)
	}
	return []byte(text), nil
}

func browserExecPath(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("CHROME_BIN")
}
