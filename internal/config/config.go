// Package config provides configuration types and defaults for defreg.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/tracing"
)

// Config holds all configuration options for defreg.
type Config struct {
	Sources    SourcesConfig     `mapstructure:"sources"`
	Namespaces NamespacesConfig  `mapstructure:"namespaces"`
	Prefixes   map[string]string `mapstructure:"prefixes"` // DefType name -> default prefix
	Cache      CacheConfig       `mapstructure:"cache"`
	UID        UIDConfig         `mapstructure:"uid"`
	Watch      WatchConfig       `mapstructure:"watch"`
	Tracing    tracing.Config    `mapstructure:"tracing"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Flags      map[string]bool   `mapstructure:"flags"`
}

// SourcesConfig lists where bundle sources come from.
type SourcesConfig struct {
	// Roots are directories laid out as <root>/<namespace>/<bundle>/<file>.
	Roots []string `mapstructure:"roots"`
	// DBPath is the SQLite source store. Empty disables it.
	DBPath string `mapstructure:"db_path"`
}

// NamespacesConfig controls privilege and access.
type NamespacesConfig struct {
	// Privileged namespaces are retained in the shared caches.
	Privileged []string `mapstructure:"privileged"`
	// UnsecuredPrefixes bypass access checks (e.g. java).
	UnsecuredPrefixes []string `mapstructure:"unsecured_prefixes"`
}

// CacheConfig bounds the shared cache tiers. Zero durations keep entries
// until invalidated.
type CacheConfig struct {
	DefinitionsTTL  time.Duration `mapstructure:"definitions_ttl"`
	StringsTTL      time.Duration `mapstructure:"strings_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// UIDConfig selects what happens when a client presents an outdated UID.
type UIDConfig struct {
	StalePolicy string `mapstructure:"stale_policy"` // "fresh" (default) or "error"
}

// WatchConfig configures the source watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultDBPath returns ~/.defreg/sources.db or an empty string if the home
// dir is unavailable.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".defreg", "sources.db")
}

// DefaultTracesFilePath returns ~/.config/defreg/traces/traces.jsonl or an
// empty string if the home dir is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "defreg", "traces", "traces.jsonl")
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Sources: SourcesConfig{
			Roots: []string{"."},
		},
		Namespaces: NamespacesConfig{
			Privileged:        []string{"aura", "ui", "test"},
			UnsecuredPrefixes: []string{"java"},
		},
		Cache: CacheConfig{
			CleanupInterval: 10 * time.Minute,
		},
		UID: UIDConfig{
			StalePolicy: "fresh",
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
		Tracing: tracing.DefaultConfig(),
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Flags: flags.Defaults(),
	}
}

// Validate checks every section and returns all problems joined.
func (c Config) Validate() error {
	return errors.Join(
		ValidateNamespaces(c.Namespaces),
		ValidatePrefixes(c.Prefixes),
		ValidateCache(c.Cache),
		ValidateUID(c.UID),
		ValidateTracing(c.Tracing),
	)
}

// ValidateNamespaces rejects empty or wildcard namespace names.
func ValidateNamespaces(ns NamespacesConfig) error {
	for i, name := range ns.Privileged {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("namespaces.privileged[%d] is empty", i)
		}
		if strings.ContainsAny(name, "*?[") {
			return fmt.Errorf("namespaces.privileged[%d] %q must be a literal namespace", i, name)
		}
	}
	for i, p := range ns.UnsecuredPrefixes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("namespaces.unsecured_prefixes[%d] is empty", i)
		}
	}
	return nil
}

// ValidatePrefixes checks that every key names a DefType.
func ValidatePrefixes(prefixes map[string]string) error {
	for name, prefix := range prefixes {
		if _, err := descriptor.ParseDefType(name); err != nil {
			return fmt.Errorf("prefixes: %w", err)
		}
		if prefix == "" {
			return fmt.Errorf("prefixes.%s is empty", name)
		}
	}
	return nil
}

// ValidateCache rejects negative durations.
func ValidateCache(c CacheConfig) error {
	if c.DefinitionsTTL < 0 {
		return fmt.Errorf("cache.definitions_ttl must not be negative, got %s", c.DefinitionsTTL)
	}
	if c.StringsTTL < 0 {
		return fmt.Errorf("cache.strings_ttl must not be negative, got %s", c.StringsTTL)
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("cache.cleanup_interval must not be negative, got %s", c.CleanupInterval)
	}
	return nil
}

// ValidateUID checks the stale policy name.
func ValidateUID(u UIDConfig) error {
	switch u.StalePolicy {
	case "", "fresh", "error":
		return nil
	default:
		return fmt.Errorf("uid.stale_policy must be \"fresh\" or \"error\", got %q", u.StalePolicy)
	}
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" && !slices.Contains(tracing.ExporterNames(), t.Exporter) {
		return fmt.Errorf("tracing.exporter must be one of %s, got %q",
			strings.Join(tracing.ExporterNames(), ", "), t.Exporter)
	}

	if t.Enabled {
		if t.Exporter == tracing.ExporterFile && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultPrefixes returns the built-in prefix table overlaid with the
// configured prefixes.
func (c Config) DefaultPrefixes() (descriptor.PrefixMap, error) {
	out := maps.Clone(descriptor.DefaultPrefixes)
	for name, prefix := range c.Prefixes {
		t, err := descriptor.ParseDefType(name)
		if err != nil {
			return nil, fmt.Errorf("prefixes: %w", err)
		}
		out[t] = strings.ToLower(prefix)
	}
	return out, nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# defreg configuration

# Where bundle sources are loaded from
sources:
  # Directories laid out as <root>/<namespace>/<bundle>/<file>
  roots:
    - .
  # SQLite source store filled by 'defreg import' (optional)
  # db_path: ~/.defreg/sources.db

# Namespace privilege
namespaces:
  # Privileged namespaces are cached across requests and may see
  # each other's public definitions
  privileged:
    - aura
    - ui
    - test
  # Prefixes exempt from access checks
  unsecured_prefixes:
    - java

# Default prefix per definition type, used when a descriptor omits one
# prefixes:
#   CONTROLLER: js
#   MODEL: java
#   STYLE: css

# Shared cache tiers (0 keeps entries until a source changes)
cache:
  # definitions_ttl: 0s
  # strings_ttl: 1h
  cleanup_interval: 10m

# What GetUID does when the client's UID is out of date:
#   fresh - return the fresh UID (default)
#   error - return the fresh UID with a client-out-of-sync error
uid:
  stale_policy: fresh

# Source watcher
watch:
  debounce: 200ms

# Prometheus endpoint for 'defreg serve-metrics'
metrics:
  addr: 127.0.0.1:9464

# Feature flags
flags:
  filter-cache: true     # Cache find results for concrete privileged filters
  access-cache: true     # Memoize access decisions
  negative-cache: true   # Remember failed closures and missing definitions

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/defreg/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
