package config

import (
	"path/filepath"
	"sort"
	"strings"
)

// NormalizeProvider returns the stable key used to tag persisted rows.
func NormalizeProvider(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(key), "-")
}

// ProviderNames returns the providers that have a configured default source.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Source.Providers))
	for name := range c.Source.Providers {
		names = append(names, NormalizeProvider(name))
	}
	sort.Strings(names)
	return names
}

// ScheduledProviders returns SCHEDULE_PROVIDERS, or every registered
// provider when it is unset.
func (c *Config) ScheduledProviders() []string {
	if len(c.Server.ScheduleProviders) > 0 {
		return c.Server.ScheduleProviders
	}
	return c.ProviderNames()
}

// SourceFor resolves the feed location for a provider. An explicit override
// wins, then the PROVIDER_SOURCES entry, then <FEED_DIR>/<provider>.
func (c *Config) SourceFor(provider, override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	key := NormalizeProvider(provider)
	for name, src := range c.Source.Providers {
		if NormalizeProvider(name) == key && strings.TrimSpace(src) != "" {
			return strings.TrimSpace(src)
		}
	}
	return filepath.Join(c.Source.FeedDir, key)
}
