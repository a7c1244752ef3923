// Package webdriver drives a remote browser over the W3C WebDriver protocol,
// typically a chromedriver listening on a local port.
package webdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"github.com/maltedev/catalog-scraper/internal/browser"
)

type Options struct {
	Port       int
	WaitAtMost time.Duration
	Headless   bool
}

// scriptRunner is the part of selenium.WebDriver that reads DOM properties.
type scriptRunner interface {
	ExecuteScript(script string, args []interface{}) (interface{}, error)
}

// Client is one WebDriver session exposed as a browser.Session.
type Client struct {
	wd     selenium.WebDriver
	wait   time.Duration
	logger *slog.Logger
}

// Capabilities builds the chrome capabilities sent on session creation.
func Capabilities(headless bool) selenium.Capabilities {
	args := []string{"--window-size=1920,1080"}
	if headless {
		args = append(args, "--headless")
	}

	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{Args: args})
	return caps
}

func Connect(opts Options, logger *slog.Logger) (*Client, error) {
	url := fmt.Sprintf("http://localhost:%d", opts.Port)

	wd, err := selenium.NewRemote(Capabilities(opts.Headless), url)
	if err != nil {
		return nil, fmt.Errorf("failed to open webdriver session at %s: %w", url, err)
	}

	if err := wd.SetImplicitWaitTimeout(opts.WaitAtMost); err != nil {
		wd.Quit()
		return nil, fmt.Errorf("failed to set implicit wait: %w", err)
	}

	logger = logger.With("component", "webdriver")
	logger.Info("webdriver session opened", "url", url, "wait_at_most", opts.WaitAtMost)

	return &Client{wd: wd, wait: opts.WaitAtMost, logger: logger}, nil
}

// NewClient wraps an existing session.
func NewClient(wd selenium.WebDriver, wait time.Duration, logger *slog.Logger) *Client {
	return &Client{wd: wd, wait: wait, logger: logger.With("component", "webdriver")}
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	if err := browser.CheckContext(ctx, "navigate"); err != nil {
		return err
	}

	c.logger.Debug("navigating", "url", url)

	if err := c.wd.Get(url); err != nil {
		return classify("navigate", browser.KindNavigation, err)
	}
	return nil
}

func (c *Client) FindElement(ctx context.Context, selector string) (browser.Element, error) {
	if err := browser.CheckContext(ctx, "find element"); err != nil {
		return nil, err
	}
	we, err := c.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return nil, classify("find element "+selector, browser.KindProtocol, err)
	}
	return &element{we: we, wd: c.wd}, nil
}

func (c *Client) FindAllElements(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := browser.CheckContext(ctx, "find elements"); err != nil {
		return nil, err
	}
	wes, err := c.wd.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		return nil, classify("find elements "+selector, browser.KindProtocol, err)
	}
	return wrapAll(wes, c.wd), nil
}

func (c *Client) PageSource(ctx context.Context) (string, error) {
	if err := browser.CheckContext(ctx, "page source"); err != nil {
		return "", err
	}
	html, err := c.wd.PageSource()
	if err != nil {
		return "", classify("page source", browser.KindProtocol, err)
	}
	return html, nil
}

func (c *Client) Close() error {
	return c.wd.Quit()
}

type element struct {
	we selenium.WebElement
	wd scriptRunner
}

func (e *element) FindAllElements(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := browser.CheckContext(ctx, "find elements"); err != nil {
		return nil, err
	}
	wes, err := e.we.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		return nil, classify("find elements "+selector, browser.KindProtocol, err)
	}
	return wrapAll(wes, e.wd), nil
}

const readProperty = `const v = arguments[0][arguments[1]];
return v === undefined || v === null ? null : String(v);`

// Property reads the DOM property in the page. An undefined or null property
// is ok == false; an empty string is set.
func (e *element) Property(ctx context.Context, name string) (string, bool, error) {
	if err := browser.CheckContext(ctx, "read property"); err != nil {
		return "", false, err
	}
	v, err := e.wd.ExecuteScript(readProperty, []interface{}{e.we, name})
	if err != nil {
		return "", false, classify("read property "+name, browser.KindProtocol, err)
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := browser.CheckContext(ctx, "read text"); err != nil {
		return "", err
	}
	text, err := e.we.Text()
	if err != nil {
		return "", classify("read text", browser.KindProtocol, err)
	}
	return text, nil
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	if err := browser.CheckContext(ctx, "send keys"); err != nil {
		return err
	}
	if err := e.we.SendKeys(Keys(text)); err != nil {
		return classify("send keys", browser.KindProtocol, err)
	}
	return nil
}

// Keys rewrites "\n" as the WebDriver Enter key.
func Keys(text string) string {
	return strings.ReplaceAll(text, "\n", selenium.EnterKey)
}

func wrapAll(wes []selenium.WebElement, wd scriptRunner) []browser.Element {
	out := make([]browser.Element, 0, len(wes))
	for _, we := range wes {
		out = append(out, &element{we: we, wd: wd})
	}
	return out
}

// classify maps WebDriver error codes onto browser error kinds.
func classify(op string, fallback browser.ErrorKind, err error) error {
	var serr *selenium.Error
	if errors.As(err, &serr) {
		switch serr.Err {
		case "no such element", "stale element reference":
			return browser.NewCommandError(op, browser.KindNotFound, err)
		case "timeout", "script timeout":
			return browser.NewCommandError(op, browser.KindTimeout, err)
		}
	}
	return browser.NewCommandError(op, fallback, err)
}
