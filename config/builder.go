package config

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/jpalmerr/imgpreload"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The result does not include a logger, idle signal or callbacks; callers
// append those for their environment.
func BuildOptions(cfg *Config) ([]imgpreload.Option, error) {
	opts := []imgpreload.Option{
		imgpreload.WithMethod(imgpreload.Method(cfg.Method)),
		imgpreload.WithTimeout(cfg.Timeout.Duration()),
	}

	if cfg.MaxConcurrent != nil {
		opts = append(opts, imgpreload.WithMaxConcurrency(*cfg.MaxConcurrent))
	}

	if cfg.PageOrigin != "" {
		opts = append(opts, imgpreload.WithPageOrigin(cfg.PageOrigin))
	}

	if len(cfg.Credentials.Headers) > 0 {
		opts = append(opts, imgpreload.WithCredentials(mapToKeyValuePairs(cfg.Credentials.Headers)...))
	}

	if cfg.RateLimit.Requests > 0 {
		opts = append(opts, imgpreload.WithHostRateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration()))
	}

	return opts, nil
}

// BuildPolicy returns the page policy described by cfg.
func BuildPolicy(cfg *Config) imgpreload.PagePolicy {
	return imgpreload.PagePolicy{
		Enabled:      cfg.IsEnabled(),
		LoadOn:       imgpreload.LoadCondition(cfg.LoadOn),
		ExcludePages: cfg.ExcludePages,
	}
}

// ImageURLs returns the direct images followed by every expanded image set,
// in configuration order.
func ImageURLs(cfg *Config) ([]string, error) {
	urls := make([]string, 0, len(cfg.Images))
	urls = append(urls, cfg.Images...)

	for _, s := range cfg.ImageSets {
		expanded, err := expandImageSet(s)
		if err != nil {
			return nil, err
		}
		urls = append(urls, expanded...)
	}
	return urls, nil
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// expandImageSet renders the set's template once per dimension combination.
func expandImageSet(s ImageSetConfig) ([]string, error) {
	// use missingkey=error to fail fast on missing template variables
	tmpl, err := template.New("url").Option("missingkey=error").Parse(s.URLTemplate)
	if err != nil {
		return nil, err
	}

	combinations := cartesianProduct(s.Dimensions)

	urls := make([]string, 0, len(combinations))
	for _, combo := range combinations {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, combo); err != nil {
			return nil, fmt.Errorf("image set (%s) with dimensions %v: template execution failed: %w", s.Name, combo, err)
		}
		urls = append(urls, buf.String())
	}
	return urls, nil
}

// cartesianProduct generates all combinations of dimension values.
//
// Dimension keys are walked in sorted order and values in declared order,
// so the expansion is deterministic.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// start with single empty combination
	result := []map[string]string{{}}

	for _, key := range keys {
		var next []map[string]string
		for _, combo := range result {
			for _, val := range dimensions[key] {
				c := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					c[k] = v
				}
				c[key] = val
				next = append(next, c)
			}
		}
		result = next
	}

	return result
}
