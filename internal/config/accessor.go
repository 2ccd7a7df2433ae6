package config

import (
	"sort"
	"strings"
)

// Get returns the merged raw value for key.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.values[strings.ToUpper(key)]
	return v, ok
}

// Source names the source that supplied key.
func (c *Config) Source(key string) string {
	return c.keySources[strings.ToUpper(key)]
}

// Keys returns every key set by some source, sorted.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeySources maps each non-secret key to the source that supplied it.
func (c *Config) KeySources() map[string]string {
	out := make(map[string]string, len(c.keySources))
	for k, src := range c.keySources {
		if isSecret(k) {
			continue
		}
		out[k] = src
	}
	return out
}

// Sanitize returns every merged value with secrets masked.
func (c *Config) Sanitize() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		if isSecret(k) && v != "" {
			v = maskString(v)
		}
		out[k] = v
	}
	return out
}

// isSecret matches API_KEY, *_SECRET and *_TOKEN style names; MAX_TOKENS is
// not a secret.
func isSecret(key string) bool {
	k := strings.ToUpper(key)
	return strings.HasSuffix(k, "KEY") || strings.Contains(k, "SECRET") || strings.HasSuffix(k, "TOKEN")
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
