// Package config provides file-backed configuration for pulse.
//
// A Config wraps a map[string]any with type-safe accessors; loaders parse
// YAML or JSON files into that map. Nothing here is read implicitly from
// ambient process state: the caller loads a Config and maps recognized
// keys onto construction options, where validation happens eagerly.
package config

import (
	"time"
)

// Config wraps a map[string]any for type-safe value extraction. All
// accessor methods return the supplied default when the key is missing or
// the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. A nil map yields an empty
// Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// String returns the string value for key, or defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal.
//
// Accepts int, int64, and float64 without a fractional part.
func (c Config) Int(key string, defaultVal int) int {
	switch val := c.data[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Float returns the float64 value for key, or defaultVal.
//
// Accepts float64, int, and int64.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch val := c.data[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal.
//
// Accepts:
//   - string: parsed with time.ParseDuration (e.g. "10ms")
//   - int / int64 / float64: interpreted as milliseconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Millisecond))
	case int:
		return time.Duration(val) * time.Millisecond
	case int64:
		return time.Duration(val) * time.Millisecond
	case time.Duration:
		return val
	}
	return defaultVal
}

// StringSlice returns the string slice for key, or defaultVal.
//
// Accepts []string directly, or []any whose elements are all strings.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	switch val := c.data[key].(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, s)
		}
		return result
	}
	return defaultVal
}

// Raw returns the underlying map. The returned map should not be
// modified.
func (c Config) Raw() map[string]any {
	return c.data
}
