package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "EPIEXTRACT"

// newViper builds a Viper instance with YAML file type, the EPIEXTRACT_ env
// prefix, and a "." to "_" key replacer so "database.host" resolves to
// EPIEXTRACT_DATABASE_HOST.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers every known key so AutomaticEnv can see variables
// for keys absent from the config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.port", "server.mode", "server.read_timeout", "server.write_timeout",
		"server.max_body_size", "server.shutdown_timeout", "server.rate_limit", "server.rate_burst",
		"grpc.port", "grpc.max_recv_msg_size", "grpc.enable_reflection",
		"extraction.strict_only", "extraction.debug", "extraction.compatibility_mode",
		"extraction.max_batch_size", "extraction.concurrency", "extraction.cache_ttl", "extraction.store",
		"database.host", "database.port", "database.user", "database.password", "database.db_name",
		"database.ssl_mode", "database.max_conns", "database.min_conns",
		"sqlite.path",
		"redis.enabled", "redis.mode", "redis.addr", "redis.password", "redis.db", "redis.key_prefix",
		"kafka.enabled", "kafka.brokers", "kafka.group_id", "kafka.input_topic", "kafka.output_topic",
		"kafka.dead_letter_topic", "kafka.max_retries",
		"opensearch.enabled", "opensearch.addresses", "opensearch.user", "opensearch.password", "opensearch.index",
		"minio.enabled", "minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket", "minio.use_ssl",
		"minio.retention_days",
		"worker.concurrency", "worker.lock_ttl", "worker.metrics_port",
		"metrics.namespace",
		"log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}
}

// Load reads the YAML file at configPath, merges EPIEXTRACT_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from EPIEXTRACT_* environment
// variables, with no config file required.
//
//	EPIEXTRACT_<SECTION>_<FIELD>   e.g.  EPIEXTRACT_DATABASE_HOST
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrEnv loads configPath when set and falls back to the environment.
func LoadOrEnv(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath and invokes onChange with the re-parsed Config
// whenever the file is written. Invalid revisions are passed to onError,
// when set, and otherwise dropped. Callers apply only the settings that are
// safe to change at runtime, such as the log level.
func Watch(configPath string, onChange func(*Config), onError func(error)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad is Load that panics on any error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
