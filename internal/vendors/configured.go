package vendors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/parser"
	"github.com/maltedev/catalog-scraper/internal/scraper"
)

// Configured is a vendor whose catalog is navigated with the selectors of a
// vendor file entry. It uses the default login.
type Configured struct {
	*scraper.Base
	cfg    config.VendorConfig
	parser parser.PageParser
	logger *slog.Logger
}

var _ scraper.Vendor = (*Configured)(nil)

func NewConfigured(session browser.Session, cfg config.VendorConfig, logger *slog.Logger) *Configured {
	return &Configured{
		Base:   scraper.NewBase(session, cfg.BaseURL, cfg.Credentials()),
		cfg:    cfg,
		parser: parser.NewHTMLParser(),
		logger: logger.With("component", "vendor", "vendor", cfg.Name),
	}
}

func (v *Configured) Name() string {
	return v.cfg.Name
}

// ProductFromIdentifier opens the vendor's search page for gtin, follows the
// result link when one is configured, and reads each configured field.
func (v *Configured) ProductFromIdentifier(ctx context.Context, gtin models.GTIN) (models.Product, bool, error) {
	session := v.Session()
	sel := v.cfg.Selectors
	url := v.cfg.SearchURLFor(gtin.String())

	v.logger.Info("looking up product", "gtin", gtin, "url", url)

	if err := session.Navigate(ctx, url); err != nil {
		return models.Product{}, false, fmt.Errorf("failed to open search page: %w", err)
	}

	if sel.NotFound != "" {
		markers, err := session.FindAllElements(ctx, sel.NotFound)
		if err != nil {
			return models.Product{}, false, fmt.Errorf("failed to check not-found marker: %w", err)
		}
		if len(markers) > 0 {
			v.logger.Info("product not listed", "gtin", gtin)
			return models.Product{}, false, nil
		}
	}

	if sel.Result != "" {
		found, err := v.followResult(ctx, sel.Result)
		if err != nil {
			return models.Product{}, false, err
		}
		if !found {
			v.logger.Info("no search result", "gtin", gtin)
			return models.Product{}, false, nil
		}
	}

	product := models.NewProduct().WithIdentifier(gtin)

	var err error
	if product, err = v.readText(ctx, product, sel.Description, models.Product.WithDescription); err != nil {
		return models.Product{}, false, err
	}
	if product, err = v.readText(ctx, product, sel.SKU, models.Product.WithSKU); err != nil {
		return models.Product{}, false, err
	}
	if product, err = v.readImage(ctx, product, sel.Image); err != nil {
		return models.Product{}, false, err
	}
	if product, err = v.readPrice(ctx, product, sel.Wholesale, models.Product.WithWholesale); err != nil {
		return models.Product{}, false, err
	}
	if product, err = v.readPrice(ctx, product, sel.MSRP, models.Product.WithMSRP); err != nil {
		return models.Product{}, false, err
	}
	if product, err = v.readPrice(ctx, product, sel.IMAP, models.Product.WithIMAP); err != nil {
		return models.Product{}, false, err
	}
	if product, err = v.readFromSource(ctx, product); err != nil {
		return models.Product{}, false, err
	}

	v.logger.Info("product scraped", "gtin", gtin, "sku", product.SKU())

	return product, true, nil
}

func (v *Configured) followResult(ctx context.Context, selector string) (bool, error) {
	links, err := v.Session().FindAllElements(ctx, selector)
	if err != nil {
		return false, fmt.Errorf("failed to find search results: %w", err)
	}
	if len(links) == 0 {
		return false, nil
	}

	href, ok, err := links[0].Property(ctx, "href")
	if err != nil {
		return false, fmt.Errorf("failed to read result link: %w", err)
	}
	if !ok || href == "" {
		return false, nil
	}

	if err := v.Session().Navigate(ctx, href); err != nil {
		return false, fmt.Errorf("failed to open product page: %w", err)
	}
	return true, nil
}

func (v *Configured) readText(ctx context.Context, p models.Product, selector string, set func(models.Product, string) models.Product) (models.Product, error) {
	if selector == "" {
		return p, nil
	}
	elem, err := v.Session().FindElement(ctx, selector)
	if err != nil {
		return p, fmt.Errorf("failed to find %s: %w", selector, err)
	}
	text, err := elem.Text(ctx)
	if err != nil {
		return p, fmt.Errorf("failed to read %s: %w", selector, err)
	}
	return set(p, strings.TrimSpace(text)), nil
}

func (v *Configured) readImage(ctx context.Context, p models.Product, selector string) (models.Product, error) {
	if selector == "" {
		return p, nil
	}
	elem, err := v.Session().FindElement(ctx, selector)
	if err != nil {
		return p, fmt.Errorf("failed to find image: %w", err)
	}
	src, ok, err := elem.Property(ctx, "src")
	if err != nil {
		return p, fmt.Errorf("failed to read image source: %w", err)
	}
	if !ok || src == "" {
		return p, nil
	}
	return p.WithImageURL(src), nil
}

// readPrice leaves the field at zero when the page shows no readable price.
func (v *Configured) readPrice(ctx context.Context, p models.Product, selector string, set func(models.Product, decimal.Decimal) models.Product) (models.Product, error) {
	if selector == "" {
		return p, nil
	}
	price, ok, err := v.PriceFromElement(ctx, selector)
	if err != nil {
		return p, err
	}
	if !ok {
		v.logger.Debug("no price found", "selector", selector)
		return p, nil
	}
	return set(p, price), nil
}

// readFromSource fills alternate identifiers and properties from the page
// HTML. Alternate codes that are not valid barcodes are skipped.
func (v *Configured) readFromSource(ctx context.Context, p models.Product) (models.Product, error) {
	sel := v.cfg.Selectors
	if sel.AlternateIdentifiers == "" && sel.PropertiesTable == "" {
		return p, nil
	}

	html, err := v.Session().PageSource(ctx)
	if err != nil {
		return p, fmt.Errorf("failed to read page source: %w", err)
	}

	if sel.AlternateIdentifiers != "" {
		codes, err := v.parser.ExtractAttributes(html, sel.AlternateIdentifiers, sel.AlternateAttribute)
		if err != nil {
			return p, err
		}
		for _, raw := range codes {
			code, err := models.ParseGTIN(raw)
			if err != nil {
				v.logger.Warn("skipping alternate identifier", "raw", raw, "error", err)
				continue
			}
			if code != p.Identifier() {
				p = p.WithAlternateIdentifier(code.String())
			}
		}
	}

	if sel.PropertiesTable != "" {
		props, err := v.parser.ExtractProperties(html, sel.PropertiesTable)
		if err != nil {
			return p, err
		}
		for k, val := range props {
			p = p.WithProperty(k, val)
		}
	}

	return p, nil
}
