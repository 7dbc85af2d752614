// Package config loads esgfsearch settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/esgfsearch/esgf"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig     = "ESGFSEARCH_CONFIG"
	EnvIndexNodes = "ESGFSEARCH_INDEX_NODES"
	EnvTimeout    = "ESGFSEARCH_TIMEOUT"
	EnvPageSize   = "ESGFSEARCH_PAGE_SIZE"
)

// ErrInvalid indicates a configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting of a run that is not a query.
type Config struct {
	// IndexNodes are index node hosts in federation order. An entry with a
	// scheme ("http://host:port") is used as given.
	IndexNodes []string `yaml:"index_nodes"`

	// SearchPath is the search handler path on every node.
	SearchPath string `yaml:"search_path"`

	Timeout     time.Duration `yaml:"timeout"`
	PageSize    int           `yaml:"page_size"`
	Concurrency int           `yaml:"concurrency"`
	UserAgent   string        `yaml:"user_agent,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
	S3      S3Config      `yaml:"s3"`
}

// LoggingConfig configures the diagnostic log.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// S3Config configures S3 output locations.
type S3Config struct {
	Region       string `yaml:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		IndexNodes:  append([]string(nil), esgf.DefaultIndexNodes...),
		SearchPath:  esgf.SearchPath,
		Timeout:     esgf.DefaultTimeout,
		PageSize:    esgf.MaxPageSize,
		Concurrency: 1,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the
// defaults; a missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvIndexNodes); v != "" {
		var nodes []string
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				nodes = append(nodes, n)
			}
		}
		c.IndexNodes = nodes
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv(EnvPageSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPageSize, err)
		}
		c.PageSize = n
	}
	return nil
}

// Validate checks that c describes a usable run.
func (c *Config) Validate() error {
	if len(c.IndexNodes) == 0 {
		return fmt.Errorf("%w: no index nodes", ErrInvalid)
	}
	if c.SearchPath == "" || !strings.HasPrefix(c.SearchPath, "/") {
		return fmt.Errorf("%w: search path %q must start with /", ErrInvalid, c.SearchPath)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %v must be positive", ErrInvalid, c.Timeout)
	}
	if c.PageSize < 1 || c.PageSize > esgf.MaxPageSize {
		return fmt.Errorf("%w: page size %d outside 1..%d", ErrInvalid, c.PageSize, esgf.MaxPageSize)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency %d must be at least 1", ErrInvalid, c.Concurrency)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// Endpoints returns the search endpoint of every index node, in order.
func (c *Config) Endpoints() []esgf.Endpoint {
	endpoints := make([]esgf.Endpoint, len(c.IndexNodes))
	for i, node := range c.IndexNodes {
		base := node
		if !strings.Contains(node, "://") {
			base = "https://" + node
		}
		endpoints[i] = esgf.Endpoint(strings.TrimSuffix(base, "/") + c.SearchPath)
	}
	return endpoints
}
