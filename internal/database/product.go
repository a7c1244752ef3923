package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-scraper/internal/models"
)

// ProductStore persists scraped products in catalog_products, one row per
// vendor and barcode.
type ProductStore struct {
	db *DB
}

func NewProductStore(db *DB) *ProductStore {
	return &ProductStore{db: db}
}

const upsertProduct = `
	INSERT INTO catalog_products (
		vendor, gtin, description, sku, image_url,
		wholesale_cost, msrp, imap,
		alternate_identifiers, miscellaneous_properties, scraped_at
	) VALUES (
		$1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11
	)
	ON CONFLICT (vendor, gtin) DO UPDATE SET
		description = EXCLUDED.description,
		sku = EXCLUDED.sku,
		image_url = EXCLUDED.image_url,
		wholesale_cost = EXCLUDED.wholesale_cost,
		msrp = EXCLUDED.msrp,
		imap = EXCLUDED.imap,
		alternate_identifiers = EXCLUDED.alternate_identifiers,
		miscellaneous_properties = EXCLUDED.miscellaneous_properties,
		scraped_at = EXCLUDED.scraped_at`

// SaveProduct inserts the product or replaces the stored row for the same
// vendor and barcode.
func (s *ProductStore) SaveProduct(ctx context.Context, vendor string, p models.Product) error {
	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		return s.SaveProductWithTx(ctx, tx, vendor, p)
	})
}

// SaveProductWithTx is SaveProduct inside a caller-owned transaction.
func (s *ProductStore) SaveProductWithTx(ctx context.Context, tx pgx.Tx, vendor string, p models.Product) error {
	args, err := productArgs(vendor, p)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsertProduct, args...); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func productArgs(vendor string, p models.Product) ([]any, error) {
	if !p.Identifier().Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidGTIN, string(p.Identifier()))
	}
	alternates, err := json.Marshal(p.AlternateIdentifiers())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alternate identifiers: %w", err)
	}
	properties, err := json.Marshal(p.Properties())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}

	return []any{
		vendor,
		p.Identifier().String(),
		p.Description(),
		p.SKU(),
		p.ImageURL(),
		p.Wholesale().String(),
		p.MSRP().String(),
		p.IMAP().String(),
		alternates,
		properties,
		time.Now().UTC(),
	}, nil
}

// GetProduct returns the stored product, or false when the vendor has no row
// for gtin.
func (s *ProductStore) GetProduct(ctx context.Context, vendor string, gtin models.GTIN) (models.Product, bool, error) {
	query := `
		SELECT gtin, description, sku, image_url,
			wholesale_cost::text, msrp::text, imap::text,
			alternate_identifiers, miscellaneous_properties
		FROM catalog_products
		WHERE vendor = $1 AND gtin = $2`

	var row productRow
	err := s.db.pool.QueryRow(ctx, query, vendor, gtin.String()).Scan(
		&row.gtin, &row.description, &row.sku, &row.imageURL,
		&row.wholesale, &row.msrp, &row.imap,
		&row.alternates, &row.properties,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, false, nil
	}
	if err != nil {
		return models.Product{}, false, fmt.Errorf("failed to get product: %w", err)
	}

	p, err := row.product()
	if err != nil {
		return models.Product{}, false, err
	}
	return p, true, nil
}

// CountProducts returns the number of stored products per vendor.
func (s *ProductStore) CountProducts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT vendor, COUNT(*)
		FROM catalog_products
		GROUP BY vendor`)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var vendor string
		var count int
		if err := rows.Scan(&vendor, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[vendor] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

type productRow struct {
	gtin        string
	description string
	sku         string
	imageURL    string
	wholesale   string
	msrp        string
	imap        string
	alternates  []byte
	properties  []byte
}

func (r productRow) product() (models.Product, error) {
	gtin, err := models.ParseGTIN(r.gtin)
	if err != nil {
		return models.Product{}, fmt.Errorf("stored product has bad identifier: %w", err)
	}

	prices := make([]decimal.Decimal, 3)
	for i, raw := range []string{r.wholesale, r.msrp, r.imap} {
		if prices[i], err = decimal.NewFromString(raw); err != nil {
			return models.Product{}, fmt.Errorf("stored product has bad price %q: %w", raw, err)
		}
	}

	var alternates []string
	if len(r.alternates) > 0 {
		if err := json.Unmarshal(r.alternates, &alternates); err != nil {
			return models.Product{}, fmt.Errorf("failed to unmarshal alternate identifiers: %w", err)
		}
	}
	var properties map[string]string
	if len(r.properties) > 0 {
		if err := json.Unmarshal(r.properties, &properties); err != nil {
			return models.Product{}, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}

	p := models.NewProduct().
		WithIdentifier(gtin).
		WithDescription(r.description).
		WithSKU(r.sku).
		WithImageURL(r.imageURL).
		WithWholesale(prices[0]).
		WithMSRP(prices[1]).
		WithIMAP(prices[2])
	for _, code := range alternates {
		p = p.WithAlternateIdentifier(code)
	}
	for k, v := range properties {
		p = p.WithProperty(k, v)
	}
	return p, nil
}
