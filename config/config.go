// Package config provides file-based configuration for imgpreload.
//
// This package enables running imgpreload as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// YAML is the default format; files ending in .toml are parsed as TOML.
//
// Example configuration:
//
//	method: both
//	max_concurrent: 4
//	page_origin: https://site.example
//	load_on: all
//	exclude_pages: ["12", "/checkout"]
//
//	images:
//	  - https://cdn.example/hero.jpg
//	  - /img/logo.png
//
//	image_sets:
//	  - name: hero
//	    url_template: "https://cdn.example/hero-{{.width}}.{{.format}}"
//	    dimensions:
//	      width: ["480", "960"]
//	      format: [webp, jpg]
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/imgpreload"
)

const (
	defaultPort    = 8080
	defaultTimeout = imgpreload.DefaultTimeout

	// minTimeout keeps a typo like "10ms" from failing every image.
	minTimeout = 100 * time.Millisecond
)

// Config is the root configuration structure for imgpreload.
//
// It maps directly to the configuration file structure.
// Use [Load], [Parse] or [ParseTOML] to create a Config.
type Config struct {
	// Title is the dashboard title. Defaults to "Image Preloading".
	Title string `yaml:"title" toml:"title"`

	// Enabled turns preloading on or off. Defaults to true.
	Enabled *bool `yaml:"enabled" toml:"enabled"`

	// Method is javascript, link_preload or both. Defaults to javascript.
	Method string `yaml:"method" toml:"method"`

	// MaxConcurrent is the number of simultaneous image fetches.
	// Absent means 3; any value is clamped to [1, 10].
	MaxConcurrent *int `yaml:"max_concurrent" toml:"max_concurrent"`

	// Timeout is the per-image timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout" toml:"timeout"`

	// PageOrigin is the origin of the site images are preloaded for.
	// Required when any image is a root-relative path.
	PageOrigin string `yaml:"page_origin" toml:"page_origin"`

	// LoadOn restricts preloading to one kind of page. Defaults to all.
	LoadOn string `yaml:"load_on" toml:"load_on"`

	// ExcludePages lists page IDs skipped when LoadOn is all.
	ExcludePages []string `yaml:"exclude_pages" toml:"exclude_pages"`

	// Images is the ordered list of image URLs to preload.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Images []string `yaml:"images" toml:"images"`

	// ImageSets expand URL templates via cartesian product.
	ImageSets []ImageSetConfig `yaml:"image_sets" toml:"image_sets"`

	// Credentials are sent on same-origin image requests only.
	Credentials CredentialsConfig `yaml:"credentials" toml:"credentials"`

	// RateLimit caps requests per host. Disabled when zero.
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`

	// Server configures the serve command.
	Server ServerConfig `yaml:"server" toml:"server"`

	// Debug adds diagnostic comments around emitted link hints.
	Debug bool `yaml:"debug" toml:"debug"`
}

// ImageSetConfig defines a family of image URLs, such as responsive
// variants, that expands via cartesian product.
//
// For example, with dimensions {width: [480, 960], format: [webp, jpg]},
// the set expands to 4 URLs.
type ImageSetConfig struct {
	// Name identifies the set in error messages.
	Name string `yaml:"name" toml:"name"`

	// URLTemplate is a Go template for generating image URLs.
	// Dimension keys are available as template variables: {{.width}}
	URLTemplate string `yaml:"url_template" toml:"url_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions" toml:"dimensions"`
}

// CredentialsConfig holds credential headers for same-origin requests.
type CredentialsConfig struct {
	// Headers values support environment variable substitution.
	Headers map[string]string `yaml:"headers" toml:"headers"`
}

// RateLimitConfig allows Requests per Window to each host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests" toml:"requests"`
	Window   Duration `yaml:"window" toml:"window"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port" toml:"port"`
}

// Duration wraps time.Duration for YAML and TOML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// IsEnabled reports whether preloading is enabled.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a configuration file.
//
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return finish(&cfg)
}

// ParseTOML parses TOML configuration data.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return finish(&cfg)
}

// finish applies defaults, then expands and validates.
func finish(cfg *Config) (*Config, error) {
	if cfg.Method == "" {
		cfg.Method = string(imgpreload.MethodJavaScript)
	}
	if cfg.LoadOn == "" {
		cfg.LoadOn = string(imgpreload.LoadOnAll)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Duration(defaultTimeout)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandAndValidate expands environment variables, sanitizes image URLs and
// validates the config.
func (c *Config) expandAndValidate() error {
	if !imgpreload.Method(c.Method).Valid() {
		return fmt.Errorf("method must be javascript, link_preload, or both, got %q", c.Method)
	}
	if !imgpreload.LoadCondition(c.LoadOn).Valid() {
		return fmt.Errorf("load_on must be one of all, front_page, posts_page, single, page, archive, got %q", c.LoadOn)
	}
	if c.Timeout.Duration() < minTimeout {
		return fmt.Errorf("timeout must be at least %s, got %s", minTimeout, c.Timeout.Duration())
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.PageOrigin != "" {
		expanded, err := expandEnvVars(c.PageOrigin)
		if err != nil {
			return fmt.Errorf("page_origin: %w", err)
		}
		u, err := url.Parse(expanded)
		if err != nil {
			return fmt.Errorf("page_origin: invalid url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("page_origin must be an absolute http or https url, got %q", expanded)
		}
		c.PageOrigin = expanded
	}

	for i := range c.ExcludePages {
		c.ExcludePages[i] = strings.TrimSpace(c.ExcludePages[i])
	}

	images := make([]string, 0, len(c.Images))
	for i, raw := range c.Images {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		expanded, err := expandEnvVars(raw)
		if err != nil {
			return fmt.Errorf("images[%d]: %w", i, err)
		}
		if err := c.validateImageURL(expanded); err != nil {
			return fmt.Errorf("images[%d]: %w", i, err)
		}
		images = append(images, expanded)
	}
	c.Images = images

	for i := range c.ImageSets {
		s := &c.ImageSets[i]

		if s.Name == "" {
			return fmt.Errorf("image_sets[%d]: name is required", i)
		}
		if s.URLTemplate == "" {
			return fmt.Errorf("image_sets[%d] (%s): url_template is required", i, s.Name)
		}
		expanded, err := expandEnvVars(s.URLTemplate)
		if err != nil {
			return fmt.Errorf("image_sets[%d] (%s): url_template: %w", i, s.Name, err)
		}
		s.URLTemplate = expanded

		if _, err := template.New("").Parse(s.URLTemplate); err != nil {
			return fmt.Errorf("image_sets[%d] (%s): invalid url_template: %w", i, s.Name, err)
		}

		if len(s.Dimensions) == 0 {
			return fmt.Errorf("image_sets[%d] (%s): at least one dimension is required", i, s.Name)
		}
		for dimName, dimValues := range s.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("image_sets[%d] (%s): dimension %q has no values", i, s.Name, dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("image_sets[%d] (%s): dimension %q has duplicate value %q", i, s.Name, dimName, v)
				}
				seen[v] = struct{}{}
			}
		}
	}

	for k, v := range c.Credentials.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("credentials.headers[%s]: %w", k, err)
		}
		c.Credentials.Headers[k] = expanded
	}

	rl := c.RateLimit
	if rl.Requests < 0 || rl.Window.Duration() < 0 {
		return fmt.Errorf("rate_limit values cannot be negative")
	}
	if (rl.Requests == 0) != (rl.Window == 0) {
		return fmt.Errorf("rate_limit requires both requests and window")
	}

	return nil
}

// validateImageURL accepts absolute http(s) URLs and relative paths.
// Relative paths need a page origin to resolve against.
func (c *Config) validateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("url %q has no host", raw)
		}
		return nil
	}
	if u.Host != "" || strings.HasPrefix(raw, "//") {
		return fmt.Errorf("url must be absolute (http:// or https://) or a path, got %q", raw)
	}
	if c.PageOrigin == "" {
		return fmt.Errorf("relative url %q requires page_origin", raw)
	}
	return nil
}
