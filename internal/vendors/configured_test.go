package vendors

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/browser/browsertest"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/models"
)

const (
	gtinRaw    = "4006381333931"
	searchURL  = "https://acme.example/search?q=4006381333931"
	productURL = "https://acme.example/p/widget"
)

func acmeConfig() config.VendorConfig {
	return config.VendorConfig{
		Name:        "acme",
		BaseURL:     "https://acme.example/login",
		SearchURL:   "https://acme.example/search?q={gtin}",
		UsernameEnv: "ACME_USER",
		PasswordEnv: "ACME_PASS",
		Selectors: config.Selectors{
			Result:               "a.product-link",
			NotFound:             ".no-results",
			Description:          "h1.title",
			SKU:                  "#sku",
			Image:                "img.main",
			Wholesale:            "#cost",
			MSRP:                 "input[name=msrp]",
			IMAP:                 "#imap",
			AlternateIdentifiers: "ul.codes li",
			AlternateAttribute:   "data-code",
			PropertiesTable:      "table.specs",
		},
	}
}

func el(props map[string]string, text string) []*browsertest.Element {
	return []*browsertest.Element{{Props: props, InnerText: text}}
}

const productSource = `<html><body>
<ul class="codes">
	<li data-code="036000291452">UPC</li>
	<li data-code="4006381333931">self</li>
	<li data-code="bogus">bad</li>
</ul>
<table class="specs"><tr><th>Case Pack</th><td>12</td></tr></table>
</body></html>`

func acmePages() map[string]*browsertest.Page {
	return map[string]*browsertest.Page{
		searchURL: {Elements: map[string][]*browsertest.Element{
			"a.product-link": el(map[string]string{"href": productURL}, "Widget"),
		}},
		productURL: {
			Elements: map[string][]*browsertest.Element{
				"h1.title":         el(nil, "  Deluxe Widget \n"),
				"#sku":             el(nil, "W-100"),
				"img.main":         el(map[string]string{"src": "https://cdn.acme.example/w.jpg"}, ""),
				"#cost":            el(nil, "$4.20"),
				"input[name=msrp]": el(map[string]string{"value": "9.99"}, ""),
				"#imap":            el(map[string]string{"value": ""}, "Call for price"),
			},
			Source: productSource,
		},
	}
}

func TestProductFromIdentifier(t *testing.T) {
	session := browsertest.NewSession(acmePages())
	v := NewConfigured(session, acmeConfig(), slog.Default())

	p, found, err := v.ProductFromIdentifier(context.Background(), models.MustGTIN(gtinRaw))
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, productURL, session.URL())
	assert.Equal(t, models.GTIN(gtinRaw), p.Identifier())
	assert.Equal(t, "Deluxe Widget", p.Description())
	assert.Equal(t, "W-100", p.SKU())
	assert.Equal(t, "https://cdn.acme.example/w.jpg", p.ImageURL())
	assert.Equal(t, "4.2", p.Wholesale().String())
	assert.Equal(t, "9.99", p.MSRP().String())
	assert.True(t, p.IMAP().IsZero())
	assert.Equal(t, []string{"0036000291452"}, p.AlternateIdentifiers())

	pack, ok := p.Property("case_pack")
	assert.True(t, ok)
	assert.Equal(t, "12", pack)
}

func TestProductFromIdentifierNotFoundMarker(t *testing.T) {
	pages := acmePages()
	pages[searchURL].Elements[".no-results"] = el(nil, "No products match")
	session := browsertest.NewSession(pages)
	v := NewConfigured(session, acmeConfig(), slog.Default())

	_, found, err := v.ProductFromIdentifier(context.Background(), models.MustGTIN(gtinRaw))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, searchURL, session.URL())
}

func TestProductFromIdentifierNoResult(t *testing.T) {
	pages := acmePages()
	delete(pages[searchURL].Elements, "a.product-link")
	session := browsertest.NewSession(pages)
	v := NewConfigured(session, acmeConfig(), slog.Default())

	_, found, err := v.ProductFromIdentifier(context.Background(), models.MustGTIN(gtinRaw))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProductFromIdentifierMissingFieldIsAnError(t *testing.T) {
	pages := acmePages()
	delete(pages[productURL].Elements, "#sku")
	session := browsertest.NewSession(pages)
	v := NewConfigured(session, acmeConfig(), slog.Default())

	_, found, err := v.ProductFromIdentifier(context.Background(), models.MustGTIN(gtinRaw))
	require.Error(t, err)
	assert.False(t, found)
	assert.True(t, browser.IsNotFound(err))
}

func TestProductFromIdentifierDirectPage(t *testing.T) {
	cfg := acmeConfig()
	cfg.Selectors = config.Selectors{SKU: "#sku"}
	session := browsertest.NewSession(map[string]*browsertest.Page{
		searchURL: {Elements: map[string][]*browsertest.Element{"#sku": el(nil, "DIRECT")}},
	})
	v := NewConfigured(session, cfg, slog.Default())

	p, found, err := v.ProductFromIdentifier(context.Background(), models.MustGTIN(gtinRaw))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "DIRECT", p.SKU())
	assert.Equal(t, models.BlankImageURL, p.ImageURL())

	for _, cmd := range session.Commands() {
		assert.NotEqual(t, "source", cmd)
	}
}

func TestConfiguredUsesDefaultLogin(t *testing.T) {
	t.Setenv("ACME_USER", "buyer")
	t.Setenv("ACME_PASS", "hunter2")

	user := browsertest.Input("user_login")
	pass := browsertest.Input("user_password")
	session := browsertest.NewSession(map[string]*browsertest.Page{
		"https://acme.example/login": {Elements: map[string][]*browsertest.Element{
			"form": {browsertest.Form(user, pass)},
		}},
	})
	v := NewConfigured(session, acmeConfig(), slog.Default())

	require.NoError(t, v.Login(context.Background()))
	assert.Equal(t, "acme", v.Name())
	assert.Equal(t, []string{"buyer"}, user.Typed())
	assert.Equal(t, []string{"hunter2\n"}, pass.Typed())
}
