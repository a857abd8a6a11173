package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	InputFile      string
	Category       string
	ProductType    string
	PriceFormula   string
	Concurrency    int
	Timeout        time.Duration
	APIKey         string
	ProxyURL       string
	ProductURL     string // format string, identifier substituted for %s
	RenderJS       bool
	OutputFile     string
	OutputFormat   string // csv, json, or dual
	CheckpointFile string
	CacheSize      int
	UserAgent      string
	Verbose        bool
	MetricsAddr    string
}

// DefaultConfig returns the defaults used by the production runs.
func DefaultConfig() *Config {
	return &Config{
		Category:       "Health & Supplements",
		ProductType:    "Dietary Supplement",
		PriceFormula:   "x",
		Concurrency:    5,
		Timeout:        90 * time.Second,
		ProxyURL:       "https://api.scrapingdog.com/scrape",
		ProductURL:     "https://www.amazon.com/dp/%s",
		RenderJS:       true,
		OutputFile:     "products_export.csv",
		OutputFormat:   "csv",
		CheckpointFile: "fetched_asins.txt",
		CacheSize:      256,
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:        false,
		MetricsAddr:    "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file cannot be empty")
	}
	if c.APIKey == "" {
		return fmt.Errorf("proxy API key cannot be empty")
	}

	if c.ProxyURL == "" {
		return fmt.Errorf("proxy URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.ProxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("proxy URL must include a host")
	}

	if c.ProductURL == "" {
		return fmt.Errorf("product URL template cannot be empty")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.CheckpointFile == "" {
		return fmt.Errorf("checkpoint file cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// EnvInt reads an integer environment variable. The second return reports
// whether the variable was set.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return value, true, nil
}

// EnvString reads a string environment variable and reports whether it was set.
func EnvString(name string) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
