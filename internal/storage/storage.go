package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/catalog-scraper/internal/models"
)

type record struct {
	Vendor    string         `json:"vendor"`
	Product   models.Product `json:"product"`
	ScrapedAt time.Time      `json:"scraped_at"`
}

// FileStore keeps scraped products in a single JSON file. It is the product
// store used when no database is configured.
type FileStore struct {
	mu       sync.RWMutex
	records  map[string]record
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		records:  make(map[string]record),
		filename: filename,
	}

	if err := fs.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return fs, nil
}

func key(vendor string, gtin models.GTIN) string {
	return vendor + "/" + gtin.String()
}

// SaveProduct replaces any product stored under the same vendor and barcode
// and rewrites the file.
func (fs *FileStore) SaveProduct(ctx context.Context, vendor string, p models.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if vendor == "" {
		return fmt.Errorf("vendor is required")
	}
	if !p.Identifier().Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidGTIN, string(p.Identifier()))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	k := key(vendor, p.Identifier())
	prev, existed := fs.records[k]
	fs.records[k] = record{Vendor: vendor, Product: p, ScrapedAt: time.Now().UTC()}

	if err := fs.save(); err != nil {
		if existed {
			fs.records[k] = prev
		} else {
			delete(fs.records, k)
		}
		return err
	}
	return nil
}

func (fs *FileStore) GetProduct(ctx context.Context, vendor string, gtin models.GTIN) (models.Product, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Product{}, false, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	r, ok := fs.records[key(vendor, gtin)]
	if !ok {
		return models.Product{}, false, nil
	}
	return r.Product, true, nil
}

// CountProducts returns the number of stored products per vendor.
func (fs *FileStore) CountProducts(ctx context.Context) (map[string]int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range fs.records {
		counts[r.Vendor]++
	}
	return counts, nil
}

// save writes to a temp file and renames it over the store file.
func (fs *FileStore) save() error {
	keys := make([]string, 0, len(fs.records))
	for k := range fs.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]record, 0, len(keys))
	for _, k := range keys {
		list = append(list, fs.records[k])
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal products: %w", err)
	}

	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, fs.filename); err != nil {
		return fmt.Errorf("failed to replace %s: %w", fs.filename, err)
	}
	return nil
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	var list []record
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("failed to read %s: %w", fs.filename, err)
	}

	for _, r := range list {
		fs.records[key(r.Vendor, r.Product.Identifier())] = r
	}
	return nil
}
