package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-scraper/internal/browser/browsertest"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/scraper"
)

const loginURL = "https://acme.example/login"

var (
	listed   = models.MustGTIN("4006381333931")
	unlisted = models.MustGTIN("0036000291452")
)

func productURL(g models.GTIN) string {
	return "https://acme.example/search?q=" + g.String()
}

// catalogVendor reads the SKU off the search page for a barcode.
type catalogVendor struct {
	*scraper.Base
}

func (v *catalogVendor) ProductFromIdentifier(ctx context.Context, gtin models.GTIN) (models.Product, bool, error) {
	s := v.Session()
	if err := s.Navigate(ctx, productURL(gtin)); err != nil {
		return models.Product{}, false, err
	}
	elems, err := s.FindAllElements(ctx, "#sku")
	if err != nil || len(elems) == 0 {
		return models.Product{}, false, err
	}
	sku, err := elems[0].Text(ctx)
	if err != nil {
		return models.Product{}, false, err
	}
	return models.NewProduct().WithIdentifier(gtin).WithSKU(sku), true, nil
}

type memStore struct {
	mu       sync.Mutex
	products map[string]models.Product
	fail     error
}

func newMemStore() *memStore {
	return &memStore{products: make(map[string]models.Product)}
}

func (m *memStore) SaveProduct(ctx context.Context, vendor string, p models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.products[vendor+"/"+p.Identifier().String()] = p
	return nil
}

func (m *memStore) GetProduct(ctx context.Context, vendor string, gtin models.GTIN) (models.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[vendor+"/"+gtin.String()]
	return p, ok, nil
}

type countingLimiter struct {
	mu        sync.Mutex
	waits     int
	successes int
	errors    int
}

func (c *countingLimiter) Wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
	return nil
}

func (c *countingLimiter) SetDelay(min, max time.Duration) {}

func (c *countingLimiter) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
}

func (c *countingLimiter) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

type fixture struct {
	session *browsertest.Session
	store   *memStore
	limiter *countingLimiter
	runner  *Runner
	user    *browsertest.Element
	pass    *browsertest.Element
}

func newFixture(t *testing.T, loginInputs ...*browsertest.Element) *fixture {
	t.Helper()

	f := &fixture{
		store:   newMemStore(),
		limiter: &countingLimiter{},
		user:    browsertest.Input("username"),
		pass:    browsertest.Input("password"),
	}
	if loginInputs == nil {
		loginInputs = []*browsertest.Element{f.user, f.pass}
	}

	f.session = browsertest.NewSession(map[string]*browsertest.Page{
		loginURL: {Elements: map[string][]*browsertest.Element{
			"form": {browsertest.Form(loginInputs...)},
		}},
		productURL(listed): {Elements: map[string][]*browsertest.Element{
			"#sku": {{InnerText: "W-100"}},
		}},
		productURL(unlisted): {},
	})

	vendor := &catalogVendor{Base: scraper.NewBase(f.session, loginURL, config.Credentials{
		Username: "buyer",
		Password: "hunter2",
	})}
	f.runner = NewRunner("acme", vendor, f.store, f.limiter, slog.Default())
	t.Cleanup(f.runner.Close)

	return f
}

func (f *fixture) logins() int {
	n := 0
	for _, cmd := range f.session.Commands() {
		if cmd == "navigate "+loginURL {
			n++
		}
	}
	return n
}

func TestRunner_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("logs in once and saves found products", func(t *testing.T) {
		f := newFixture(t)

		p, found, err := f.runner.Lookup(ctx, listed)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "W-100", p.SKU())

		_, found, err = f.runner.Lookup(ctx, listed)
		require.NoError(t, err)
		assert.True(t, found)

		assert.Equal(t, 1, f.logins())
		assert.Equal(t, []string{"buyer"}, f.user.Typed())
		assert.Equal(t, []string{"hunter2\n"}, f.pass.Typed())

		stored, ok, err := f.runner.Stored(ctx, listed)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, p.Equal(stored))

		assert.Equal(t, 2, f.limiter.waits)
		assert.Equal(t, 2, f.limiter.successes)
	})

	t.Run("not found is not saved", func(t *testing.T) {
		f := newFixture(t)

		_, found, err := f.runner.Lookup(ctx, unlisted)
		require.NoError(t, err)
		assert.False(t, found)

		_, ok, err := f.runner.Stored(ctx, unlisted)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		f := newFixture(t)
		f.store.fail = assert.AnError

		_, found, err := f.runner.Lookup(ctx, listed)
		assert.ErrorIs(t, err, assert.AnError)
		assert.False(t, found)
	})

	t.Run("login failure is retried on the next lookup", func(t *testing.T) {
		f := newFixture(t, browsertest.Input("username"))

		_, _, err := f.runner.Lookup(ctx, listed)
		assert.ErrorIs(t, err, scraper.ErrInvalidArgument)

		_, _, err = f.runner.Lookup(ctx, listed)
		assert.ErrorIs(t, err, scraper.ErrInvalidArgument)

		assert.Equal(t, 2, f.logins())
		assert.Zero(t, f.limiter.waits)
	})

	t.Run("browser failure feeds the limiter", func(t *testing.T) {
		f := newFixture(t)

		_, _, err := f.runner.Lookup(ctx, models.MustGTIN("0000000000000"))
		require.Error(t, err)
		assert.Equal(t, 1, f.limiter.errors)
	})
}

func TestRunner_Serializes(t *testing.T) {
	f := newFixture(t)
	f.session.Delay = 2 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := listed
			if i%2 == 1 {
				g = unlisted
			}
			if _, _, err := f.runner.Lookup(context.Background(), g); err != nil {
				errs <- fmt.Errorf("lookup %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1, f.session.MaxInFlight())
	assert.Equal(t, 1, f.logins())
}

func TestRunner_Relogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.runner.Relogin(ctx))
	_, _, err := f.runner.Lookup(ctx, listed)
	require.NoError(t, err)
	require.NoError(t, f.runner.Relogin(ctx))

	assert.Equal(t, 2, f.logins())
}

func TestRunner_PriceFromElement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.runner.Lookup(ctx, listed)
	require.NoError(t, err)

	// "W-100" filters to "100"
	price, ok, err := f.runner.PriceFromElement(ctx, "#sku")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "100", price.String())

	_, _, err = f.runner.PriceFromElement(ctx, "#missing")
	assert.Error(t, err)
}

func TestRunner_Cancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.runner.Lookup(ctx, listed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.session.Commands())
}

func TestRunner_Close(t *testing.T) {
	f := newFixture(t)
	f.runner.Close()
	f.runner.Close()

	_, _, err := f.runner.Lookup(context.Background(), listed)
	assert.ErrorIs(t, err, ErrRunnerClosed)
	assert.ErrorIs(t, f.runner.Relogin(context.Background()), ErrRunnerClosed)
}

func TestRegistry(t *testing.T) {
	newRunner := func(name string) *Runner {
		session := browsertest.NewSession(nil)
		vendor := &catalogVendor{Base: scraper.NewBase(session, loginURL, config.Credentials{})}
		r := NewRunner(name, vendor, newMemStore(), nil, slog.Default())
		return r
	}

	reg := NewRegistry(newRunner("globex"), newRunner("acme"))
	defer reg.Close()

	assert.Equal(t, []string{"acme", "globex"}, reg.Names())

	r, err := reg.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", r.Name())

	_, err = reg.Get("initech")
	assert.ErrorIs(t, err, ErrUnknownVendor)
	assert.True(t, strings.Contains(err.Error(), "initech"))
}
