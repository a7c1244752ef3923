package scraper

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/parser"
)

// PriceFromElement reads a price from the element matching selector. The
// element's value property wins when set and non-empty, which covers price
// inputs; otherwise its text is used. Only digits and '.' are kept, so the
// result is never negative.
//
// An unreadable price is ok == false with a nil error. Failing to find the
// element is an error.
func PriceFromElement(ctx context.Context, session browser.Session, selector string) (decimal.Decimal, bool, error) {
	elem, err := session.FindElement(ctx, selector)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("failed to find price element: %w", err)
	}

	raw, ok, err := elem.Property(ctx, "value")
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("failed to read price value: %w", err)
	}
	if !ok || raw == "" {
		if raw, err = elem.Text(ctx); err != nil {
			return decimal.Decimal{}, false, fmt.Errorf("failed to read price text: %w", err)
		}
	}

	price, err := parser.ParsePriceUnsigned(raw)
	if err != nil {
		return decimal.Decimal{}, false, nil
	}
	return price, true, nil
}
