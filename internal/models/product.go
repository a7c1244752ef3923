package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"
)

// BlankImageURL is the image placeholder for products without a scraped image.
const BlankImageURL = "about:blank"

// Product stores one vendor catalog listing: barcode, description, sku,
// image, wholesale cost, manufacturer suggested retail (MSRP), minimum
// advertised price (IMAP), alternate barcodes and any vendor-specific extras.
//
// A Product is a value. The With* methods return a modified copy and never
// touch the receiver, so a Product handed to a store or a publisher stays as
// it was when handed off.
type Product struct {
	identifier  GTIN
	description string
	sku         string
	imageURL    string
	wholesale   decimal.Decimal
	msrp        decimal.Decimal
	imap        decimal.Decimal
	alternates  mapset.Set[string]
	properties  map[string]string
}

// NewProduct returns a Product with the defaults:
//   - identifier: ZeroGTIN
//   - description, sku: empty
//   - image URL: "about:blank"
//   - wholesale, MSRP, IMAP: 0
//   - no alternate identifiers, no properties
func NewProduct() Product {
	return Product{
		identifier: ZeroGTIN,
		imageURL:   BlankImageURL,
		wholesale:  decimal.Zero,
		msrp:       decimal.Zero,
		imap:       decimal.Zero,
	}
}

func (p Product) WithIdentifier(g GTIN) Product {
	p.identifier = g
	return p
}

func (p Product) WithDescription(desc string) Product {
	p.description = desc
	return p
}

func (p Product) WithSKU(sku string) Product {
	p.sku = sku
	return p
}

// WithImageURL sets the image. An empty url means the product has no image
// and stores BlankImageURL, the same as NewProduct.
func (p Product) WithImageURL(url string) Product {
	if url == "" {
		url = BlankImageURL
	}
	p.imageURL = url
	return p
}

func (p Product) WithWholesale(d decimal.Decimal) Product {
	p.wholesale = d
	return p
}

func (p Product) WithMSRP(d decimal.Decimal) Product {
	p.msrp = d
	return p
}

func (p Product) WithIMAP(d decimal.Decimal) Product {
	p.imap = d
	return p
}

// WithAlternateIdentifier adds code to the alternate identifier set. Adding a
// code that is already present is a no-op.
func (p Product) WithAlternateIdentifier(code string) Product {
	next := mapset.NewThreadUnsafeSet[string]()
	if p.alternates != nil {
		next = p.alternates.Clone()
	}
	next.Add(code)
	p.alternates = next
	return p
}

// WithProperty sets a vendor-specific key. An existing key is overwritten.
func (p Product) WithProperty(key, value string) Product {
	next := make(map[string]string, len(p.properties)+1)
	maps.Copy(next, p.properties)
	next[key] = value
	p.properties = next
	return p
}

func (p Product) Identifier() GTIN {
	if p.identifier == "" {
		return ZeroGTIN
	}
	return p.identifier
}

func (p Product) Description() string { return p.description }
func (p Product) SKU() string         { return p.sku }

// ImageURL also returns BlankImageURL for the zero Product.
func (p Product) ImageURL() string {
	if p.imageURL == "" {
		return BlankImageURL
	}
	return p.imageURL
}

func (p Product) Wholesale() decimal.Decimal { return p.wholesale }
func (p Product) MSRP() decimal.Decimal      { return p.msrp }
func (p Product) IMAP() decimal.Decimal      { return p.imap }

// AlternateIdentifiers returns the alternate codes in sorted order.
func (p Product) AlternateIdentifiers() []string {
	if p.alternates == nil {
		return []string{}
	}
	codes := p.alternates.ToSlice()
	slices.Sort(codes)
	return codes
}

func (p Product) HasAlternateIdentifier(code string) bool {
	return p.alternates != nil && p.alternates.Contains(code)
}

// Properties returns a copy of the vendor-specific properties.
func (p Product) Properties() map[string]string {
	out := make(map[string]string, len(p.properties))
	maps.Copy(out, p.properties)
	return out
}

func (p Product) Property(key string) (string, bool) {
	v, ok := p.properties[key]
	return v, ok
}

// Equal reports whether both products hold the same field values. Decimals
// compare by numeric value, so 1.5 equals 1.50.
func (p Product) Equal(o Product) bool {
	if p.Identifier() != o.Identifier() ||
		p.description != o.description ||
		p.sku != o.sku ||
		p.ImageURL() != o.ImageURL() {
		return false
	}
	if !p.wholesale.Equal(o.wholesale) || !p.msrp.Equal(o.msrp) || !p.imap.Equal(o.imap) {
		return false
	}
	if !slices.Equal(p.AlternateIdentifiers(), o.AlternateIdentifiers()) {
		return false
	}
	return maps.Equal(p.properties, o.properties)
}

func (p Product) String() string {
	return fmt.Sprintf("Product{%s sku=%q wholesale=%s msrp=%s imap=%s}",
		p.Identifier(), p.sku, p.wholesale, p.msrp, p.imap)
}

type productJSON struct {
	Identifier              GTIN              `json:"identifier"`
	Description             string            `json:"description"`
	SKU                     string            `json:"sku"`
	ImageURL                string            `json:"image_url"`
	WholesaleCost           decimal.Decimal   `json:"wholesale_cost"`
	MSRP                    decimal.Decimal   `json:"msrp"`
	IMAP                    decimal.Decimal   `json:"imap"`
	AlternateIdentifiers    []string          `json:"alternate_identifiers"`
	MiscellaneousProperties map[string]string `json:"miscellaneous_properties"`
}

func (p Product) MarshalJSON() ([]byte, error) {
	return json.Marshal(productJSON{
		Identifier:              p.Identifier(),
		Description:             p.description,
		SKU:                     p.sku,
		ImageURL:                p.ImageURL(),
		WholesaleCost:           p.wholesale,
		MSRP:                    p.msrp,
		IMAP:                    p.imap,
		AlternateIdentifiers:    p.AlternateIdentifiers(),
		MiscellaneousProperties: p.Properties(),
	})
}

// UnmarshalJSON starts from NewProduct, so absent keys keep their defaults.
// The identifier goes through ParseGTIN and a bad barcode fails the decode.
func (p *Product) UnmarshalJSON(data []byte) error {
	base := NewProduct()
	raw := productJSON{
		Identifier:    base.identifier,
		ImageURL:      base.imageURL,
		WholesaleCost: base.wholesale,
		MSRP:          base.msrp,
		IMAP:          base.imap,
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode product: %w", err)
	}

	out := base.
		WithIdentifier(raw.Identifier).
		WithDescription(raw.Description).
		WithSKU(raw.SKU).
		WithImageURL(raw.ImageURL).
		WithWholesale(raw.WholesaleCost).
		WithMSRP(raw.MSRP).
		WithIMAP(raw.IMAP)
	for _, code := range raw.AlternateIdentifiers {
		out = out.WithAlternateIdentifier(code)
	}
	for k, v := range raw.MiscellaneousProperties {
		out = out.WithProperty(k, v)
	}

	*p = out
	return nil
}
