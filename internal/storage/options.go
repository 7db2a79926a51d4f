package storage

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Options is a backend's configuration: its defaults overlaid with the
// user's values. Typed getters return a *ConfigError naming the backend.
type Options struct {
	backend string
	values  map[string]string
}

// NewOptions merges overrides onto defaults for backend. Empty override
// values do not replace defaults.
func NewOptions(backend string, defaults, overrides map[string]string) Options {
	values := make(map[string]string, len(defaults)+len(overrides))
	maps.Copy(values, defaults)
	for k, v := range overrides {
		if v != "" {
			values[k] = v
		}
	}
	return Options{backend: backend, values: values}
}

// Backend returns the backend name used in errors.
func (o Options) Backend() string { return o.backend }

// String returns the value of key, or "" when unset.
func (o Options) String(key string) string {
	return o.values[key]
}

// Required returns the value of key, failing when it is unset.
func (o Options) Required(key string) (string, error) {
	v := o.values[key]
	if v == "" {
		return "", NewConfigError(o.backend, key, "cannot be empty")
	}
	return v, nil
}

// Path returns key as a required filesystem path with ~ expanded.
func (o Options) Path(key string) (string, error) {
	v, err := o.Required(key)
	if err != nil {
		return "", err
	}
	return ExpandPath(v), nil
}

// Bool parses key as true/false, 1/0 or yes/no. Unset is false.
func (o Options) Bool(key string) (bool, error) {
	v := o.values[key]
	switch strings.ToLower(v) {
	case "", "false", "0", "no":
		return false, nil
	case "true", "1", "yes":
		return true, nil
	default:
		return false, o.invalid(key, v, "must be a boolean (true/false, 1/0, yes/no)", nil)
	}
}

// Int parses key as an integer. Unset is zero.
func (o Options) Int(key string) (int, error) {
	v := o.values[key]
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, o.invalid(key, v, "must be an integer", err)
	}
	return i, nil
}

// Int64 parses key as a 64-bit integer. Unset is zero.
func (o Options) Int64(key string) (int64, error) {
	v := o.values[key]
	if v == "" {
		return 0, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, o.invalid(key, v, "must be an integer", err)
	}
	return i, nil
}

// Duration parses key as a Go duration or as integer seconds. Unset is zero.
func (o Options) Duration(key string) (time.Duration, error) {
	v := o.values[key]
	if v == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, o.invalid(key, v, "must be a duration (e.g. '5s', '1m30s') or integer seconds", nil)
}

// Keys returns the option names that have values, sorted.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o.values))
	for k, v := range o.values {
		if v != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (o Options) invalid(key, value, message string, cause error) *ConfigError {
	return &ConfigError{Backend: o.backend, Field: key, Value: value, Message: message, Cause: cause}
}

// ExpandPath expands a leading ~/ to the user's home directory and cleans
// the path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return filepath.Clean(path)
}
