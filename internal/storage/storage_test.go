package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-scraper/internal/models"
)

func widget() models.Product {
	return models.NewProduct().
		WithIdentifier(models.MustGTIN("4006381333931")).
		WithSKU("W-100").
		WithMSRP(decimal.RequireFromString("9.99")).
		WithAlternateIdentifier("0036000291452").
		WithProperty("case_pack", "12")
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "products.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, found, err := store.GetProduct(ctx, "acme", widget().Identifier())
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveProduct(ctx, "acme", widget()))
	require.NoError(t, store.SaveProduct(ctx, "globex", widget().WithSKU("G-1")))

	got, found, err := store.GetProduct(ctx, "acme", widget().Identifier())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, widget().Equal(got))

	t.Run("vendors are separate", func(t *testing.T) {
		got, found, err := store.GetProduct(ctx, "globex", widget().Identifier())
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "G-1", got.SKU())
	})

	t.Run("reloads from disk", func(t *testing.T) {
		reopened, err := NewFileStore(path)
		require.NoError(t, err)

		got, found, err := reopened.GetProduct(ctx, "acme", widget().Identifier())
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, widget().Equal(got))

		counts, err := reopened.CountProducts(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"acme": 1, "globex": 1}, counts)
	})

	t.Run("no temp file left behind", func(t *testing.T) {
		_, err := os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("overwrite replaces the product", func(t *testing.T) {
		require.NoError(t, store.SaveProduct(ctx, "acme", widget().WithSKU("W-200")))
		got, _, err := store.GetProduct(ctx, "acme", widget().Identifier())
		require.NoError(t, err)
		assert.Equal(t, "W-200", got.SKU())
	})
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty vendor", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "p.json"))
		require.NoError(t, err)
		assert.Error(t, store.SaveProduct(ctx, "", widget()))
	})

	t.Run("unchecked identifier", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "p.json"))
		require.NoError(t, err)

		bad := widget().WithIdentifier(models.GTIN("4006381333932"))
		assert.ErrorIs(t, store.SaveProduct(ctx, "acme", bad), models.ErrInvalidGTIN)
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "p.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := NewFileStore(path)
		assert.Error(t, err)
	})

	t.Run("failed write keeps memory consistent", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "missing", "p.json"))
		require.NoError(t, err)

		assert.Error(t, store.SaveProduct(ctx, "acme", widget()))
		_, found, err := store.GetProduct(ctx, "acme", widget().Identifier())
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("cancelled context", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "p.json"))
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, store.SaveProduct(cctx, "acme", widget()), context.Canceled)
	})
}
