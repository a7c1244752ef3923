package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials is the login pair for one vendor site.
type Credentials struct {
	Username string
	Password string
}

// Selectors are CSS selectors read on a vendor's product page. An empty
// selector skips its field.
type Selectors struct {
	Result               string `yaml:"result"`
	NotFound             string `yaml:"not_found"`
	Description          string `yaml:"description"`
	SKU                  string `yaml:"sku"`
	Image                string `yaml:"image"`
	Wholesale            string `yaml:"wholesale"`
	MSRP                 string `yaml:"msrp"`
	IMAP                 string `yaml:"imap"`
	AlternateIdentifiers string `yaml:"alternate_identifiers"`
	// AlternateAttribute names the attribute holding each alternate code.
	// Empty reads the element text.
	AlternateAttribute string `yaml:"alternate_attribute"`
	PropertiesTable    string `yaml:"properties_table"`
}

type VendorConfig struct {
	Name        string    `yaml:"name"`
	BaseURL     string    `yaml:"base_url"`
	SearchURL   string    `yaml:"search_url"`
	UsernameEnv string    `yaml:"username_env"`
	PasswordEnv string    `yaml:"password_env"`
	Selectors   Selectors `yaml:"selectors"`
}

type VendorsFile struct {
	Vendors []VendorConfig `yaml:"vendors"`
}

// SearchPlaceholder is replaced by the barcode in VendorConfig.SearchURL.
const SearchPlaceholder = "{gtin}"

// LoadVendors reads and validates a vendor file.
func LoadVendors(path string) (*VendorsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vendors file: %w", err)
	}
	return ParseVendors(data)
}

func ParseVendors(data []byte) (*VendorsFile, error) {
	var vf VendorsFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("failed to parse vendors file: %w", err)
	}
	if err := vf.Validate(); err != nil {
		return nil, err
	}
	return &vf, nil
}

func (vf *VendorsFile) Validate() error {
	if len(vf.Vendors) == 0 {
		return errors.New("vendors file declares no vendors")
	}

	seen := make(map[string]bool, len(vf.Vendors))
	for i, v := range vf.Vendors {
		if v.Name == "" {
			return fmt.Errorf("vendor %d: name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("vendor %q declared twice", v.Name)
		}
		seen[v.Name] = true

		if v.BaseURL == "" {
			return fmt.Errorf("vendor %q: base_url is required", v.Name)
		}
		if !strings.Contains(v.SearchURL, SearchPlaceholder) {
			return fmt.Errorf("vendor %q: search_url must contain %s", v.Name, SearchPlaceholder)
		}
		if v.UsernameEnv == "" || v.PasswordEnv == "" {
			return fmt.Errorf("vendor %q: username_env and password_env are required", v.Name)
		}
	}
	return nil
}

// Enabled returns the vendors whose names are in names, or all of them when
// names is empty.
func (vf *VendorsFile) Enabled(names []string) ([]VendorConfig, error) {
	if len(names) == 0 {
		return vf.Vendors, nil
	}

	var out []VendorConfig
	for _, name := range names {
		i := slices.IndexFunc(vf.Vendors, func(v VendorConfig) bool { return v.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("vendor %q is not in the vendors file", name)
		}
		out = append(out, vf.Vendors[i])
	}
	return out, nil
}

// Credentials reads the vendor's login pair from the environment. A missing
// variable yields an empty string; the site decides whether that logs in.
func (v VendorConfig) Credentials() Credentials {
	return Credentials{
		Username: os.Getenv(v.UsernameEnv),
		Password: os.Getenv(v.PasswordEnv),
	}
}

func (v VendorConfig) SearchURLFor(gtin string) string {
	return strings.ReplaceAll(v.SearchURL, SearchPlaceholder, gtin)
}
