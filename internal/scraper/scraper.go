package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/models"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Vendor is one vendor site reached through a browser session.
//
// Login and PriceFromElement have default implementations on Base. A vendor
// embeds Base and supplies ProductFromIdentifier, which has no default since
// catalog navigation is different on every site. A vendor whose login form
// does not follow the user/pass naming convention overrides Login.
//
// Every method drives the same session, and none of them may run
// concurrently with another on that session.
type Vendor interface {
	Session() browser.Session
	BaseURL() string
	Credentials() config.Credentials
	Login(ctx context.Context) error
	// ProductFromIdentifier returns ok == false when the vendor does not
	// list the barcode.
	ProductFromIdentifier(ctx context.Context, gtin models.GTIN) (models.Product, bool, error)
	// PriceFromElement returns ok == false when the element holds no
	// readable price.
	PriceFromElement(ctx context.Context, selector string) (decimal.Decimal, bool, error)
}

// InvalidArgumentError is raised by Login when the form lacks a field it
// needs. Field is "user_input" or "passwd_input".
type InvalidArgumentError struct {
	Field string
	Msg   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s: %s", e.Field, e.Msg)
}

func (e *InvalidArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// Base carries the session, login page and credentials of a vendor and
// provides the default Login and PriceFromElement.
type Base struct {
	session     browser.Session
	baseURL     string
	credentials config.Credentials
}

func NewBase(session browser.Session, baseURL string, creds config.Credentials) *Base {
	return &Base{
		session:     session,
		baseURL:     baseURL,
		credentials: creds,
	}
}

func (b *Base) Session() browser.Session {
	return b.session
}

func (b *Base) BaseURL() string {
	return b.baseURL
}

func (b *Base) Credentials() config.Credentials {
	return b.credentials
}

func (b *Base) Login(ctx context.Context) error {
	return Login(ctx, b.session, b.baseURL, b.credentials)
}

func (b *Base) PriceFromElement(ctx context.Context, selector string) (decimal.Decimal, bool, error) {
	return PriceFromElement(ctx, b.session, selector)
}
