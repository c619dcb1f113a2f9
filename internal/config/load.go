package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults registers every default on v so keys missing from the file
// still unmarshal to their default values.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("sources.roots", d.Sources.Roots)
	v.SetDefault("sources.db_path", d.Sources.DBPath)
	v.SetDefault("namespaces.privileged", d.Namespaces.Privileged)
	v.SetDefault("namespaces.unsecured_prefixes", d.Namespaces.UnsecuredPrefixes)
	v.SetDefault("cache.definitions_ttl", d.Cache.DefinitionsTTL)
	v.SetDefault("cache.strings_ttl", d.Cache.StringsTTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("uid.stale_policy", d.UID.StalePolicy)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", DefaultTracesFilePath())
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	for name, enabled := range d.Flags {
		v.SetDefault("flags."+name, enabled)
	}
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the YAML file at path over the defaults.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Load(v)
}
