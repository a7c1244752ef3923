package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	// WaitAtMost bounds every element lookup and navigation on a page.
	WaitAtMost     time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		WaitAtMost:     30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "America/New_York",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// NewSession opens a new tab. The tab shares cookies with every other tab of
// this browser, so a vendor logged in on one session is logged in on all.
func (b *Browser) NewSession() (*Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.WaitAtMost.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(b.opts.WaitAtMost.Milliseconds()))

	return &Page{
		page:   page,
		wait:   b.opts.WaitAtMost,
		logger: b.logger,
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Page is a playwright tab exposed as a Session.
type Page struct {
	page   playwright.Page
	wait   time.Duration
	logger *slog.Logger
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := CheckContext(ctx, "navigate"); err != nil {
		return err
	}

	p.logger.Debug("navigating", "url", url)

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return classify("navigate", KindNavigation, err)
	}
	return nil
}

func (p *Page) FindElement(ctx context.Context, selector string) (Element, error) {
	if err := CheckContext(ctx, "find element"); err != nil {
		return nil, err
	}
	return waitFirst(p.page.Locator(selector), selector, p.wait)
}

func (p *Page) FindAllElements(ctx context.Context, selector string) ([]Element, error) {
	if err := CheckContext(ctx, "find elements"); err != nil {
		return nil, err
	}
	return allOf(p.page.Locator(selector), p.wait)
}

func (p *Page) PageSource(ctx context.Context) (string, error) {
	if err := CheckContext(ctx, "page source"); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	if err != nil {
		return "", classify("page source", KindProtocol, err)
	}
	return html, nil
}

func (p *Page) Close() error {
	return p.page.Close()
}

type locatorElement struct {
	loc  playwright.Locator
	wait time.Duration
}

func (e *locatorElement) FindAllElements(ctx context.Context, selector string) ([]Element, error) {
	if err := CheckContext(ctx, "find elements"); err != nil {
		return nil, err
	}
	return allOf(e.loc.Locator(selector), e.wait)
}

const readProperty = `(el, name) => {
	const v = el[name];
	return v === undefined || v === null ? null : String(v);
}`

func (e *locatorElement) Property(ctx context.Context, name string) (string, bool, error) {
	if err := CheckContext(ctx, "read property"); err != nil {
		return "", false, err
	}
	v, err := e.loc.Evaluate(readProperty, name)
	if err != nil {
		return "", false, classify("read property", KindProtocol, err)
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (e *locatorElement) Text(ctx context.Context) (string, error) {
	if err := CheckContext(ctx, "read text"); err != nil {
		return "", err
	}
	text, err := e.loc.InnerText()
	if err != nil {
		return "", classify("read text", KindProtocol, err)
	}
	return text, nil
}

func (e *locatorElement) SendKeys(ctx context.Context, text string) error {
	if err := CheckContext(ctx, "send keys"); err != nil {
		return err
	}
	if err := e.loc.PressSequentially(text); err != nil {
		return classify("send keys", KindProtocol, err)
	}
	return nil
}

func waitFirst(loc playwright.Locator, selector string, wait time.Duration) (Element, error) {
	first := loc.First()
	err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(wait.Milliseconds())),
	})
	if err != nil {
		return nil, classify("find element "+selector, KindNotFound, err)
	}
	return &locatorElement{loc: first, wait: wait}, nil
}

func allOf(loc playwright.Locator, wait time.Duration) ([]Element, error) {
	locs, err := loc.All()
	if err != nil {
		return nil, classify("find elements", KindProtocol, err)
	}
	elems := make([]Element, 0, len(locs))
	for _, l := range locs {
		elems = append(elems, &locatorElement{loc: l, wait: wait})
	}
	return elems, nil
}

// classify maps playwright timeouts to KindTimeout and everything else to
// fallback.
func classify(op string, fallback ErrorKind, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return NewCommandError(op, KindTimeout, err)
	}
	return NewCommandError(op, fallback, err)
}
