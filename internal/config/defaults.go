// Package config provides configuration loading, defaults, and validation for
// the epiextract service.
package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

// Result store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreNone     = "none"
)

const (
	DefaultServerPort  = 8080
	DefaultServerMode  = "release"
	DefaultMaxBodySize = 8 << 20
	DefaultGRPCPort    = 9090

	DefaultMaxBatchSize          = 100
	DefaultExtractionConcurrency = 8
	DefaultCacheTTL              = time.Hour

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "epiextract"
	DefaultDBMaxConns = 25

	DefaultSQLitePath = "epiextract.db"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "epiextract:"

	DefaultKafkaBroker     = "localhost:9092"
	DefaultKafkaGroupID    = "epiextract-worker"
	DefaultInputTopic      = "epi.document.submitted"
	DefaultOutputTopic     = "epi.extraction.completed"
	DefaultDeadLetterTopic = "epi.document.submitted.dlq"

	DefaultOpenSearchIndex = "epi-incidents"
	DefaultMinIOBucket     = "epiextract"

	DefaultWorkerConcurrency = 4

	DefaultMetricsNamespace = "epiextract"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the service
// default. Explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) * 2
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = DefaultGRPCPort
	}
	if cfg.GRPC.MaxRecvMsgSize == 0 {
		cfg.GRPC.MaxRecvMsgSize = int(cfg.Server.MaxBodySize)
	}

	// ── Extraction ────────────────────────────────────────────────────────────
	if cfg.Extraction.MaxBatchSize == 0 {
		cfg.Extraction.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Extraction.Concurrency == 0 {
		cfg.Extraction.Concurrency = DefaultExtractionConcurrency
	}
	if cfg.Extraction.CacheTTL == 0 {
		cfg.Extraction.CacheTTL = DefaultCacheTTL
	}
	if cfg.Extraction.Store == "" {
		cfg.Extraction.Store = StoreNone
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 5 * time.Second
	}

	// ── SQLite ────────────────────────────────────────────────────────────────
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = 5 * time.Second
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = "standalone"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.InputTopic == "" {
		cfg.Kafka.InputTopic = DefaultInputTopic
	}
	if cfg.Kafka.OutputTopic == "" {
		cfg.Kafka.OutputTopic = DefaultOutputTopic
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = DefaultDeadLetterTopic
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Kafka.RequiredAcks == "" {
		cfg.Kafka.RequiredAcks = "all"
	}

	// ── OpenSearch / MinIO ────────────────────────────────────────────────────
	if cfg.OpenSearch.Index == "" {
		cfg.OpenSearch.Index = DefaultOpenSearchIndex
	}
	if cfg.OpenSearch.BulkBatchSize == 0 {
		cfg.OpenSearch.BulkBatchSize = 500
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.LockTTL == 0 {
		cfg.Worker.LockTTL = 2 * time.Minute
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = 30 * time.Second
	}

	// ── Metrics / Log ─────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
