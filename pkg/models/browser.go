package models

import (
	"fmt"
	"sort"
)

// BrowserConfig is one named browser/OS combination from the browsers file.
// It is read-only once loaded.
type BrowserConfig struct {
	Name         string         `json:"name" yaml:"name"`
	Capabilities map[string]any `json:"capabilities" yaml:"capabilities"`
}

// Cap returns a capability rendered as a string. Missing and nil values
// render as the empty string.
func (b BrowserConfig) Cap(key string) string {
	v, ok := b.Capabilities[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(val)
	}
}

// SortedBrowsers returns the browsers ordered by name so worker indices are
// stable between runs.
func SortedBrowsers(browsers map[string]map[string]any) []BrowserConfig {
	names := make([]string, 0, len(browsers))
	for name := range browsers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]BrowserConfig, 0, len(names))
	for _, name := range names {
		out = append(out, BrowserConfig{Name: name, Capabilities: browsers[name]})
	}
	return out
}
