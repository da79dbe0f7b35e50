// Package config defines all configuration structures for the epiextract
// service. No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
}

// GRPCConfig holds gRPC server tunables.
type GRPCConfig struct {
	Port             int  `mapstructure:"port"`
	MaxRecvMsgSize   int  `mapstructure:"max_recv_msg_size"`
	EnableReflection bool `mapstructure:"enable_reflection"`
}

// ExtractionConfig holds extraction behaviour switches.
type ExtractionConfig struct {
	StrictOnly        bool          `mapstructure:"strict_only"`
	Debug             bool          `mapstructure:"debug"`
	CompatibilityMode bool          `mapstructure:"compatibility_mode"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	Store             string        `mapstructure:"store"` // "postgres" | "sqlite" | "none"
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// SQLiteConfig holds the local single-node store parameters.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Mode         string        `mapstructure:"mode"` // "standalone" | "sentinel" | "cluster"
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Apache Kafka producer/consumer parameters.
type KafkaConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	InputTopic       string        `mapstructure:"input_topic"`
	OutputTopic      string        `mapstructure:"output_topic"`
	DeadLetterTopic  string        `mapstructure:"dead_letter_topic"`
	AutoOffsetReset  string        `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	BatchSize        int           `mapstructure:"batch_size"`
	BatchTimeout     time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks     string        `mapstructure:"required_acks"` // "none" | "one" | "all"
	AutoCreateTopics bool          `mapstructure:"auto_create_topics"`
}

// OpenSearchConfig holds OpenSearch cluster connection parameters.
type OpenSearchConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Addresses          []string `mapstructure:"addresses"`
	User               string   `mapstructure:"user"`
	Password           string   `mapstructure:"password"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	Index              string   `mapstructure:"index"`
	BulkBatchSize      int      `mapstructure:"bulk_batch_size"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`

	// RetentionDays expires archived objects; 0 keeps them forever.
	RetentionDays int `mapstructure:"retention_days"`
}

// WorkerConfig holds Kafka worker execution parameters.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPort     int           `mapstructure:"metrics_port"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Namespace            string `mapstructure:"namespace"`
	Subsystem            string `mapstructure:"subsystem"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level            string `mapstructure:"level"` // "debug" | "info" | "warn" | "error"
	Format           string `mapstructure:"format"` // "json" | "console"
	Output           string `mapstructure:"output"`
	EnableCaller     bool   `mapstructure:"enable_caller"`
	EnableStacktrace bool   `mapstructure:"enable_stacktrace"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure. Every adapter and service
// reads its settings from the relevant sub-struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Database   DatabaseConfig   `mapstructure:"database"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must be >= 0, got %v", c.Server.RateLimit)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("config: grpc.port %d is out of range [1, 65535]", c.GRPC.Port)
	}

	// Extraction
	if c.Extraction.MaxBatchSize < 1 {
		return fmt.Errorf("config: extraction.max_batch_size must be >= 1, got %d", c.Extraction.MaxBatchSize)
	}
	if c.Extraction.Concurrency < 1 {
		return fmt.Errorf("config: extraction.concurrency must be >= 1, got %d", c.Extraction.Concurrency)
	}
	switch c.Extraction.Store {
	case StorePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("config: database.max_conns must be >= 1, got %d", c.Database.MaxConns)
		}
	case StoreSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("config: sqlite.path is required")
		}
	case StoreNone:
	default:
		return fmt.Errorf("config: extraction.store %q is invalid; expected postgres|sqlite|none", c.Extraction.Store)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Mode == "standalone" && c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.Mode != "standalone" && len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("config: redis.addrs is required in %s mode", c.Redis.Mode)
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	// OpenSearch
	if c.OpenSearch.Enabled && len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("config: opensearch.addresses must contain at least one address")
	}

	// MinIO
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.bucket are required")
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
