// Package config loads the engage YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/engage/internal/content"
)

// Config is the top-level engage configuration.
type Config struct {
	// BaseURL is the remote platform root, e.g. "https://x.com".
	BaseURL string `yaml:"base_url"`

	// DataDir holds the state database. Default: "./data".
	DataDir string `yaml:"data_dir"`

	// DryRun walks the full reply interaction but never submits.
	DryRun bool `yaml:"dry_run"`

	Sources    []SourceConfig         `yaml:"sources"`
	Limits     LimitsConfig           `yaml:"limits"`
	Strategies []content.ScanStrategy `yaml:"strategies"`
	Filter     FilterConfig           `yaml:"filter"`
	Browser    BrowserConfig          `yaml:"browser"`
	Generator  GeneratorConfig        `yaml:"generator"`
	Status     StatusConfig           `yaml:"status"`
}

// SourceConfig describes one monitored account or channel.
type SourceConfig struct {
	ID string `yaml:"id"`

	// Audience hints the generator who follows this source:
	// crypto | mainstream | technical. Default: crypto.
	Audience string `yaml:"audience"`
}

// LimitsConfig bounds how often and how much the scheduler responds.
type LimitsConfig struct {
	CycleInterval       time.Duration `yaml:"cycle_interval"`
	MaxPerCycle         int           `yaml:"max_per_cycle"`
	MaxDaily            int           `yaml:"max_daily"`
	MaxItemsPerSource   int           `yaml:"max_items_per_source"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`

	// OverFetch multiplies MaxPerCycle into the ranker's accumulation cap,
	// leaving headroom for confidence rejections without a re-scan.
	OverFetch int `yaml:"over_fetch"`

	// Retention is how long processed-item records are kept.
	Retention time.Duration `yaml:"retention"`

	// SourcePause is the minimum delay between consecutive source scans.
	SourcePause time.Duration `yaml:"source_pause"`
}

// FilterConfig is the scan-time content filter.
type FilterConfig struct {
	MinLen   int `yaml:"min_len"`
	MaxLen   int `yaml:"max_len"`
	MinWords int `yaml:"min_words"`

	// Reject patterns short-circuit to rejection before the allow list runs.
	Reject []string `yaml:"reject"`

	// Allow patterns gate topical relevance; at least one must match.
	Allow []string `yaml:"allow"`
}

// BrowserConfig controls the Chrome session.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome. Empty = launch local.
	Remote string `yaml:"remote"`

	// Headful shows the browser window. Needed for interactive login.
	Headful bool `yaml:"headful"`

	// VerifyCacheWindow is how long a successful auth check stays fresh.
	VerifyCacheWindow time.Duration `yaml:"verify_cache_window"`

	// NavTimeout bounds each navigation.
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// GeneratorConfig configures the external text-generation service.
type GeneratorConfig struct {
	// URL of an OpenAI-compatible chat completions endpoint.
	URL string `yaml:"url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// SystemPrompt sets the persona. Empty uses the built-in default.
	SystemPrompt string `yaml:"system_prompt"`
}

// StatusConfig enables the HTTP status surface.
type StatusConfig struct {
	// Addr like ":8090". Empty disables the server.
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the production defaults.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://x.com"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Limits.CycleInterval <= 0 {
		c.Limits.CycleInterval = 15 * time.Minute
	}
	if c.Limits.MaxPerCycle <= 0 {
		c.Limits.MaxPerCycle = 1
	}
	if c.Limits.MaxDaily <= 0 {
		c.Limits.MaxDaily = 60
	}
	if c.Limits.MaxItemsPerSource <= 0 {
		c.Limits.MaxItemsPerSource = 5
	}
	if c.Limits.ConfidenceThreshold <= 0 {
		c.Limits.ConfidenceThreshold = 0.7
	}
	if c.Limits.OverFetch <= 0 {
		c.Limits.OverFetch = 3
	}
	if c.Limits.Retention <= 0 {
		c.Limits.Retention = 48 * time.Hour
	}
	if c.Limits.SourcePause <= 0 {
		c.Limits.SourcePause = time.Second
	}
	if len(c.Strategies) == 0 {
		c.Strategies = []content.ScanStrategy{
			{ScrollDepth: 800, SettleDelay: 2 * time.Second},
			{ScrollDepth: 1600, SettleDelay: 3 * time.Second},
		}
	}
	if c.Filter.MinLen <= 0 {
		c.Filter.MinLen = 20
	}
	if c.Filter.MaxLen <= 0 {
		c.Filter.MaxLen = 600
	}
	if c.Filter.MinWords <= 0 {
		c.Filter.MinWords = 4
	}
	if c.Browser.VerifyCacheWindow <= 0 {
		c.Browser.VerifyCacheWindow = 5 * time.Minute
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 15 * time.Second
	}
	if c.Generator.URL == "" {
		c.Generator.URL = "https://api.openai.com/v1/chat/completions"
	}
	if c.Generator.APIKeyEnv == "" {
		c.Generator.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Generator.Model == "" {
		c.Generator.Model = "gpt-4o-mini"
	}
	if c.Generator.Timeout <= 0 {
		c.Generator.Timeout = 30 * time.Second
	}
	for i := range c.Sources {
		if c.Sources[i].Audience == "" {
			c.Sources[i].Audience = "crypto"
		}
	}
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: no sources configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("config: source with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// SourceIDs returns the configured source identifiers in file order.
func (c *Config) SourceIDs() []string {
	out := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = s.ID
	}
	return out
}

// AudienceMap returns source ID → audience hint.
func (c *Config) AudienceMap() map[string]string {
	out := make(map[string]string, len(c.Sources))
	for _, s := range c.Sources {
		out[s.ID] = s.Audience
	}
	return out
}
