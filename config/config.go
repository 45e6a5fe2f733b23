// Package config loads webverify.yaml and locates the state directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webverify/webverify/navigation"
	"github.com/webverify/webverify/trust"
)

// FileName is the configuration file looked up in the state directory.
const FileName = "webverify.yaml"

// Config holds the settings loaded from webverify.yaml.
type Config struct {
	Storage   StorageSettings   `yaml:"storage"`
	Keyserver KeyserverSettings `yaml:"keyserver"`
	Capture   CaptureSettings   `yaml:"capture"`
	Matchers  MatcherSettings   `yaml:"matchers"`
	Pages     PageSettings      `yaml:"pages"`
}

// StorageSettings controls where keys, results and decisions are kept.
type StorageSettings struct {
	Dir string `yaml:"dir"` // defaults to the state directory
}

// KeyserverSettings controls remote key lookups.
type KeyserverSettings struct {
	URL               string `yaml:"url"`
	Timeout           string `yaml:"timeout"`             // e.g. "30s"
	RequestsPerMinute int    `yaml:"requests_per_minute"` // 0 = unlimited
}

// CaptureSettings bounds body interception.
type CaptureSettings struct {
	MaxBodyMB int `yaml:"max_body_mb"`
}

// MatcherSettings controls matcher requests to referring pages.
type MatcherSettings struct {
	RequestTimeout string `yaml:"request_timeout"`
}

// PageSettings names the interstitial pages inside the extension.
type PageSettings struct {
	Warning   string `yaml:"warning"`
	Rejection string `yaml:"rejection"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Keyserver: KeyserverSettings{
			URL:               trust.DefaultKeyserver,
			Timeout:           "30s",
			RequestsPerMinute: 60,
		},
		Capture:  CaptureSettings{MaxBodyMB: 10},
		Matchers: MatcherSettings{RequestTimeout: "2s"},
		Pages: PageSettings{
			Warning:   "/pages/unverified-link.html",
			Rejection: "/pages/rejected.html",
		},
	}
}

// Home returns the state directory, respecting WEBVERIFY_HOME.
func Home() string {
	if h := os.Getenv("WEBVERIFY_HOME"); h != "" {
		return h
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".webverify")
}

// DefaultPath returns the configuration file path inside Home.
func DefaultPath() string {
	return filepath.Join(Home(), FileName)
}

// Load reads the file at path over the defaults. If the file does not
// exist, Default is returned with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseDuration("keyserver.timeout", c.Keyserver.Timeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDuration("matchers.request_timeout", c.Matchers.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Keyserver.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("keyserver.requests_per_minute must not be negative"))
	}
	if c.Capture.MaxBodyMB < 0 {
		errs = append(errs, fmt.Errorf("capture.max_body_mb must not be negative"))
	}
	return errors.Join(errs...)
}

// StateDir returns the storage directory.
func (c *Config) StateDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	return Home()
}

// KeyserverTimeout returns the per-lookup timeout. Zero means none.
func (c *Config) KeyserverTimeout() time.Duration {
	d, _ := parseDuration("", c.Keyserver.Timeout)
	return d
}

// MatcherTimeout returns how long navigations wait for matchers.
func (c *Config) MatcherTimeout() time.Duration {
	d, _ := parseDuration("", c.Matchers.RequestTimeout)
	return d
}

// MaxBodyBytes returns the capture limit in bytes.
func (c *Config) MaxBodyBytes() int64 {
	return int64(c.Capture.MaxBodyMB) * 1024 * 1024
}

// Destinations returns the interstitial pages, relative to the extension.
func (c *Config) Destinations() navigation.Destinations {
	d := navigation.DefaultDestinations()
	if c.Pages.Warning != "" {
		d.Warning = navigation.InternalOrigin + c.Pages.Warning
	}
	if c.Pages.Rejection != "" {
		d.Rejection = navigation.InternalOrigin + c.Pages.Rejection
	}
	return d
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
