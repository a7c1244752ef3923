package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/webdriver"
)

// sessionFactory opens one browser session per vendor on the configured
// backend and closes them all on Close.
type sessionFactory struct {
	cfg     config.BrowserConfig
	logger  *slog.Logger
	browser *browser.Browser
	open    []io.Closer
}

func newSessionFactory(cfg config.BrowserConfig, logger *slog.Logger) (*sessionFactory, error) {
	f := &sessionFactory{cfg: cfg, logger: logger}

	if cfg.Backend == "playwright" {
		opts := browser.DefaultOptions()
		opts.Headless = cfg.Headless
		opts.WaitAtMost = cfg.WaitAtMost
		opts.ViewportWidth = cfg.ViewportWidth
		opts.ViewportHeight = cfg.ViewportHeight
		opts.Locale = cfg.Locale
		opts.TimezoneID = cfg.TimezoneID
		opts.ProxyServer = cfg.ProxyServer

		b, err := browser.New(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		f.browser = b
	}

	return f, nil
}

func (f *sessionFactory) New() (browser.Session, error) {
	if f.browser != nil {
		page, err := f.browser.NewSession()
		if err != nil {
			return nil, err
		}
		f.open = append(f.open, page)
		return page, nil
	}

	client, err := webdriver.Connect(webdriver.Options{
		Port:       f.cfg.WebDriverPort,
		WaitAtMost: f.cfg.WaitAtMost,
		Headless:   f.cfg.Headless,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	f.open = append(f.open, client)
	return client, nil
}

func (f *sessionFactory) Close() error {
	var errs []error
	for _, c := range f.open {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.browser != nil {
		if err := f.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
