package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/ratelimit"
	"github.com/maltedev/catalog-scraper/internal/scraper"
)

var (
	ErrRunnerClosed  = errors.New("runner is closed")
	ErrUnknownVendor = errors.New("unknown vendor")
)

type ProductStore interface {
	SaveProduct(ctx context.Context, vendor string, p models.Product) error
	GetProduct(ctx context.Context, vendor string, gtin models.GTIN) (models.Product, bool, error)
}

type request struct {
	ctx   context.Context
	run   func(ctx context.Context) error
	reply chan error
}

// Runner owns one vendor and its browser session. Requests are executed one
// at a time by a single worker goroutine, in the order they arrive.
type Runner struct {
	name    string
	vendor  scraper.Vendor
	store   ProductStore
	limiter ratelimit.RateLimiter
	logger  *slog.Logger

	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by the worker goroutine
	loggedIn bool
}

// NewRunner starts the worker. limiter may be nil.
func NewRunner(name string, vendor scraper.Vendor, store ProductStore, limiter ratelimit.RateLimiter, logger *slog.Logger) *Runner {
	r := &Runner{
		name:     name,
		vendor:   vendor,
		store:    store,
		limiter:  limiter,
		logger:   logger.With("component", "runner", "vendor", name),
		requests: make(chan request),
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	go r.work()

	return r
}

func (r *Runner) Name() string {
	return r.name
}

func (r *Runner) work() {
	defer r.wg.Done()

	r.logger.Info("runner started")
	for {
		select {
		case <-r.done:
			r.logger.Info("runner stopped")
			return
		case req := <-r.requests:
			if err := req.ctx.Err(); err != nil {
				req.reply <- err
				continue
			}
			req.reply <- req.run(req.ctx)
		}
	}
}

// do hands fn to the worker and waits for it. When ctx ends first, do
// returns at once and fn may still run to completion on the worker.
func (r *Runner) do(ctx context.Context, fn func(ctx context.Context) error) error {
	req := request{ctx: ctx, run: fn, reply: make(chan error, 1)}

	select {
	case <-r.done:
		return ErrRunnerClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.requests <- req:
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup logs in if needed, waits on the rate limiter and scrapes gtin.
// Found products are saved before Lookup returns.
func (r *Runner) Lookup(ctx context.Context, gtin models.GTIN) (models.Product, bool, error) {
	var (
		product models.Product
		found   bool
	)

	err := r.do(ctx, func(ctx context.Context) error {
		if err := r.ensureLogin(ctx); err != nil {
			return err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		p, ok, err := r.vendor.ProductFromIdentifier(ctx, gtin)
		r.feedback(err)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", gtin, err)
		}
		if !ok {
			return nil
		}

		if err := r.store.SaveProduct(ctx, r.name, p); err != nil {
			return fmt.Errorf("failed to save product: %w", err)
		}

		product, found = p, true
		return nil
	})
	if err != nil {
		r.logger.Error("lookup failed", "gtin", gtin, "error", err)
		return models.Product{}, false, err
	}

	return product, found, nil
}

// Relogin runs the vendor login now, even if a previous one succeeded.
func (r *Runner) Relogin(ctx context.Context) error {
	return r.do(ctx, func(ctx context.Context) error {
		r.loggedIn = false
		return r.ensureLogin(ctx)
	})
}

// PriceFromElement reads a price off the page the session is currently on.
func (r *Runner) PriceFromElement(ctx context.Context, selector string) (decimal.Decimal, bool, error) {
	var (
		price decimal.Decimal
		ok    bool
	)
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		price, ok, err = r.vendor.PriceFromElement(ctx, selector)
		return err
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, ok, nil
}

// Stored returns the last saved product for gtin without touching the
// browser.
func (r *Runner) Stored(ctx context.Context, gtin models.GTIN) (models.Product, bool, error) {
	return r.store.GetProduct(ctx, r.name, gtin)
}

func (r *Runner) ensureLogin(ctx context.Context) error {
	if r.loggedIn {
		return nil
	}

	r.logger.Info("logging in", "url", r.vendor.BaseURL())
	if err := r.vendor.Login(ctx); err != nil {
		return fmt.Errorf("failed to log in to %s: %w", r.name, err)
	}

	r.loggedIn = true
	return nil
}

func (r *Runner) feedback(err error) {
	fb, ok := r.limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	if err != nil {
		fb.RecordError()
		return
	}
	fb.RecordSuccess()
}

// Close stops the worker after the request in progress, if any.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
