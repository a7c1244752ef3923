package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageParser reads vendor-specific extras from a page's HTML source. Fields
// that map onto Product setters are read through the browser session instead.
type PageParser interface {
	ExtractProperties(html, tableSelector string) (map[string]string, error)
	ExtractAttributes(html, selector, attr string) ([]string, error)
}

type HTMLParser struct{}

func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// ExtractProperties reads key/value rows from the first table matching
// tableSelector. A row is either <th>key</th><td>value</td> or two <td>
// cells; other rows are ignored. Keys are normalized to snake_case.
func (p *HTMLParser) ExtractProperties(html, tableSelector string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	props := make(map[string]string)

	table := doc.Find(tableSelector).First()
	if table.Length() == 0 {
		return props, nil
	}

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Children().Filter("th, td")
		if cells.Length() != 2 {
			return
		}

		key := normalizeKey(cells.Eq(0).Text())
		value := collapseSpace(cells.Eq(1).Text())
		if key == "" || value == "" {
			return
		}
		props[key] = value
	})

	return props, nil
}

// ExtractAttributes collects attr from every element matching selector, or
// the element text when attr is empty. Blank values are dropped.
func (p *HTMLParser) ExtractAttributes(html, selector, attr string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var values []string
	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		var v string
		if attr == "" {
			v = s.Text()
		} else {
			v, _ = s.Attr(attr)
		}
		if v = collapseSpace(v); v != "" {
			values = append(values, v)
		}
	})

	return values, nil
}

func normalizeKey(s string) string {
	s = strings.ToLower(collapseSpace(s))
	s = strings.TrimSuffix(s, ":")
	s = strings.TrimSpace(s)
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '/'
	}), "_")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
