package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	VendorsFile string
	// EnabledVendors limits which vendors from VendorsFile are started.
	// Empty means all of them.
	EnabledVendors []string
	RateLimitMin   time.Duration
	RateLimitMax   time.Duration
	// StoreFile is used for products when no database host is configured.
	StoreFile string
}

type BrowserConfig struct {
	// Backend is "playwright" or "webdriver".
	Backend        string
	Headless       bool
	WaitAtMost     time.Duration
	WebDriverPort  int
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ProxyServer    string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// VendorStreams relays each vendor's products to its own stream.
	VendorStreams bool
	StreamMaxLen  int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 180*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			VendorsFile:    getEnvOrDefault("VENDORS_FILE", "vendors.yml"),
			EnabledVendors: getStringSliceOrDefault("SCRAPER_VENDORS", nil),
			RateLimitMin:   getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:   getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 5*time.Second),
			StoreFile:      getEnvOrDefault("STORE_FILE", "products.json"),
		},
		Browser: BrowserConfig{
			Backend:        getEnvOrDefault("BROWSER_BACKEND", "playwright"),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			WaitAtMost:     getDurationOrDefault("BROWSER_WAIT_AT_MOST", 30*time.Second),
			WebDriverPort:  getIntOrDefault("WEBDRIVER_PORT", 9515),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "catalog"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),

			VendorStreams: getBoolOrDefault("RELAY_VENDOR_STREAMS", false),
			StreamMaxLen:  int64(getIntOrDefault("RELAY_STREAM_MAXLEN", 0)),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Browser.Backend {
	case "playwright", "webdriver":
	default:
		return fmt.Errorf("BROWSER_BACKEND must be playwright or webdriver, got %q", c.Browser.Backend)
	}

	if c.Browser.WaitAtMost <= 0 {
		return fmt.Errorf("BROWSER_WAIT_AT_MOST must be positive")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.VendorsFile == "" {
		return fmt.Errorf("VENDORS_FILE is required")
	}

	if c.Redis.StreamMaxLen < 0 {
		return fmt.Errorf("RELAY_STREAM_MAXLEN cannot be negative")
	}

	if c.Redis.Addr != "" && c.Database.Host == "" {
		return fmt.Errorf("REDIS_ADDR requires DB_HOST: events are relayed from the database outbox")
	}

	return nil
}

// HasDatabase reports whether products go to postgres instead of StoreFile.
func (c *Config) HasDatabase() bool {
	return c.Database.Host != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// ConsumerConfig configures cmd/catalog-consumer. It shares the redis and
// logging variables with Config but needs no browser or database.
type ConsumerConfig struct {
	Redis   RedisConfig
	Logging LoggingConfig
	Stream  string
	Group   string
	Name    string
}

func LoadConsumer() (*ConsumerConfig, error) {
	cfg := &ConsumerConfig{
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
		Stream: getEnvOrDefault("REDIS_STREAM", "stream:catalog_products"),
		Group:  getEnvOrDefault("CONSUMER_GROUP", "catalog-consumer-group"),
		Name:   getEnvOrDefault("CONSUMER_NAME", "consumer-1"),
	}

	if cfg.Redis.DB < 0 {
		return nil, fmt.Errorf("invalid redis db: %d", cfg.Redis.DB)
	}

	return cfg, nil
}
