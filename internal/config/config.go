package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDownloadURL = "https://plus.unsplash.com/premium_photo-1687509673996-0b9e35d58168?fm=jpg&q=60&w=3000&ixlib=rb-4.0.3&ixid=M3wxMjA3fDB8MHxzZWFyY2h8MTd8fGhlbGxvfGVufDB8fDB8fHww"
	DefaultUploadURL   = "https://httpbin.org/post"
	DefaultPingURL     = "https://www.google.com"
	DefaultTimeout     = 30 * time.Second

	PingModeHTTP = "http"
	PingModeICMP = "icmp"
)

// Config holds everything a run needs. Zero values are never valid on their
// own; start from Default.
type Config struct {
	DownloadURL string        `yaml:"download_url" json:"download_url"`
	UploadURL   string        `yaml:"upload_url" json:"upload_url"`
	PingURL     string        `yaml:"ping_url" json:"ping_url"`
	PingMode    string        `yaml:"ping_mode" json:"ping_mode"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`

	IPv4      bool   `yaml:"ipv4" json:"ipv4"`
	IPv6      bool   `yaml:"ipv6" json:"ipv6"`
	Interface string `yaml:"interface" json:"interface"`
	Insecure  bool   `yaml:"insecure" json:"insecure"`

	Textfile string `yaml:"textfile" json:"textfile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DownloadURL: DefaultDownloadURL,
		UploadURL:   DefaultUploadURL,
		PingURL:     DefaultPingURL,
		PingMode:    PingModeHTTP,
		Timeout:     DefaultTimeout,
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	mergeWithDefaults(cfg)
	return cfg, nil
}

// mergeWithDefaults restores defaults for keys explicitly set to empty values.
func mergeWithDefaults(cfg *Config) {
	def := Default()
	if cfg.DownloadURL == "" {
		cfg.DownloadURL = def.DownloadURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = def.UploadURL
	}
	if cfg.PingURL == "" {
		cfg.PingURL = def.PingURL
	}
	if cfg.PingMode == "" {
		cfg.PingMode = def.PingMode
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
}

// Validate checks the configuration before any network activity.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"download_url": c.DownloadURL,
		"upload_url":   c.UploadURL,
		"ping_url":     c.PingURL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch c.PingMode {
	case PingModeHTTP, PingModeICMP:
	default:
		return fmt.Errorf("invalid ping_mode %q: must be %q or %q", c.PingMode, PingModeHTTP, PingModeICMP)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.IPv4 && c.IPv6 {
		return fmt.Errorf("ipv4 and ipv6 cannot be used together")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
