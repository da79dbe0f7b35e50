package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/EpiExtract/internal/application/extraction"
	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/database/postgres"
	"github.com/turtacn/EpiExtract/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/EpiExtract/internal/infrastructure/database/redis"
	"github.com/turtacn/EpiExtract/internal/infrastructure/database/sqlite"
	"github.com/turtacn/EpiExtract/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/internal/infrastructure/search/opensearch"
	"github.com/turtacn/EpiExtract/internal/infrastructure/storage/minio"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/handlers"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

const setupTimeout = 30 * time.Second

// infrastructure holds the adapters opened for a command. Components that
// are disabled in the config stay nil.
type infrastructure struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *prometheus.AppMetrics

	pg       *pgxpool.Pool
	sqlite   *sqlite.Store
	redis    *redis.Client
	minio    *minio.Client
	search   *opensearch.Client
	indexer  *opensearch.Indexer
	producer *kafka.Producer
	topics   *kafka.TopicManager

	repo extraction.Repository
}

// components selects the adapters a command needs on top of the store.
type components struct {
	cache     bool
	archive   bool
	search    bool
	messaging bool
}

var allComponents = components{cache: true, archive: true, search: true, messaging: true}

// openInfrastructure connects every enabled adapter of cfg that want
// selects. On failure the adapters opened so far are closed.
func openInfrastructure(ctx context.Context, cfg *config.Config, want components, logger logging.Logger, metrics *prometheus.AppMetrics) (*infrastructure, error) {
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	infra := &infrastructure{cfg: cfg, logger: logger, metrics: metrics}
	fail := func(err error) (*infrastructure, error) {
		infra.Close()
		return nil, err
	}

	switch cfg.Extraction.Store {
	case config.StorePostgres:
		pool, err := postgres.NewConnectionPool(cfg.Database, logger)
		if err != nil {
			return fail(err)
		}
		infra.pg = pool
		infra.repo = repositories.NewExtractionRepository(pool, logger, repositories.WithMetrics(metrics))
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLite, logger, sqlite.WithMetrics(metrics))
		if err != nil {
			return fail(err)
		}
		infra.sqlite = store
		infra.repo = store
	}

	if want.cache && cfg.Redis.Enabled {
		client, err := redis.NewClient(redis.FromConfig(cfg.Redis), logger)
		if err != nil {
			return fail(err)
		}
		infra.redis = client
	}

	if want.archive && cfg.MinIO.Enabled {
		client, err := minio.NewClient(cfg.MinIO, logger)
		if err != nil {
			return fail(err)
		}
		infra.minio = client
	}

	if want.search && cfg.OpenSearch.Enabled {
		client, err := opensearch.NewClient(cfg.OpenSearch, logger)
		if err != nil {
			return fail(err)
		}
		infra.search = client
		infra.indexer = opensearch.NewIndexer(client, opensearch.IndexerConfig{
			Index:         cfg.OpenSearch.Index,
			BulkBatchSize: cfg.OpenSearch.BulkBatchSize,
		}, logger)
		if err := infra.indexer.EnsureIndex(ctx); err != nil {
			return fail(err)
		}
	}

	if want.messaging && cfg.Kafka.Enabled {
		topics, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger)
		if err != nil {
			return fail(err)
		}
		infra.topics = topics
		if cfg.Kafka.AutoCreateTopics {
			if err := topics.EnsureTopics(ctx, kafka.DefaultTopics(cfg.Kafka)); err != nil {
				return fail(err)
			}
		}
		producer, err := kafka.NewProducer(kafka.ProducerConfigFromConfig(cfg.Kafka), logger)
		if err != nil {
			return fail(err)
		}
		infra.producer = producer
	}

	logger.Info("infrastructure initialized",
		logging.String("store", cfg.Extraction.Store),
		logging.Bool("cache", infra.redis != nil),
		logging.Bool("archive", infra.minio != nil),
		logging.Bool("search", infra.indexer != nil),
		logging.Bool("messaging", infra.producer != nil),
	)
	return infra, nil
}

// Close releases the adapters in reverse order of opening.
func (i *infrastructure) Close() {
	closeLogged := func(name string, fn func() error) {
		if err := fn(); err != nil {
			i.logger.Warn("failed to close "+name, logging.Err(err))
		}
	}
	if i.producer != nil {
		closeLogged("kafka producer", i.producer.Close)
	}
	if i.topics != nil {
		closeLogged("kafka admin connection", i.topics.Close)
	}
	if i.search != nil {
		closeLogged("opensearch client", i.search.Close)
	}
	if i.redis != nil {
		closeLogged("redis client", i.redis.Close)
	}
	if i.sqlite != nil {
		closeLogged("sqlite store", i.sqlite.Close)
	}
	postgres.Close(i.pg)
}

// extractionConfig maps the extraction config section onto the service
// settings.
func extractionConfig(cfg config.ExtractionConfig) extraction.Config {
	return extraction.Config{
		Options: epi.Options{
			StrictOnly:        cfg.StrictOnly,
			Debug:             cfg.Debug,
			CompatibilityMode: cfg.CompatibilityMode,
		},
		MaxBatchSize: cfg.MaxBatchSize,
		Concurrency:  cfg.Concurrency,
		CacheTTL:     cfg.CacheTTL,
	}
}

// newService builds the extraction service over the opened adapters.
func (i *infrastructure) newService() extraction.Service {
	opts := []extraction.Option{extraction.WithLogger(i.logger)}
	if i.metrics != nil {
		opts = append(opts, extraction.WithMetrics(i.metrics))
	}
	if i.repo != nil {
		opts = append(opts, extraction.WithRepository(i.repo))
	}
	if i.redis != nil {
		opts = append(opts, extraction.WithCache(redis.NewRedisCache(i.redis, i.logger)))
	}
	if i.minio != nil {
		opts = append(opts, extraction.WithArchive(minio.NewArchive(i.minio)))
	}
	if i.indexer != nil {
		opts = append(opts, extraction.WithIndexer(i.indexer))
	}
	if i.producer != nil {
		opts = append(opts, extraction.WithPublisher(
			kafka.NewEventPublisher(i.producer, i.cfg.Kafka.OutputTopic, true)))
	}
	return extraction.NewService(extractionConfig(i.cfg.Extraction), opts...)
}

// searcher returns the incident searcher, or nil when search is disabled.
func (i *infrastructure) searcher() handlers.IncidentSearcher {
	if i.indexer == nil {
		return nil
	}
	return i.indexer
}

// lockFactory returns the document lock factory, or nil without Redis.
func (i *infrastructure) lockFactory() redis.LockFactory {
	if i.redis == nil {
		return nil
	}
	return redis.NewLockFactory(i.redis, i.logger)
}

// healthCheckers reports one checker per opened adapter.
func (i *infrastructure) healthCheckers() []handlers.HealthChecker {
	var checkers []handlers.HealthChecker
	add := func(name string, fn func(ctx context.Context) error) {
		checkers = append(checkers, handlers.CheckerFunc{ComponentName: name, Fn: fn})
	}
	if i.pg != nil {
		pool := i.pg
		add("postgres", func(ctx context.Context) error { return postgres.HealthCheck(ctx, pool) })
	}
	if i.sqlite != nil {
		add("sqlite", i.sqlite.Ping)
	}
	if i.redis != nil {
		add("redis", i.redis.Ping)
	}
	if i.minio != nil {
		add("minio", i.minio.HealthCheck)
	}
	if i.search != nil {
		add("opensearch", i.search.Ping)
	}
	if i.topics != nil {
		topics := i.topics
		add("kafka", func(ctx context.Context) error {
			if _, err := topics.ListTopics(ctx); err != nil {
				return errors.Wrap(err, errors.ErrCodeMessagePublish, "kafka metadata request failed")
			}
			return nil
		})
	}
	return checkers
}

// newMetrics creates the metrics registry of a long-running command.
func newMetrics(cfg config.MetricsConfig, logger logging.Logger) (prometheus.MetricsCollector, *prometheus.AppMetrics, error) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Namespace,
		Subsystem:            cfg.Subsystem,
		EnableProcessMetrics: cfg.EnableProcessMetrics,
		EnableGoMetrics:      cfg.EnableGoMetrics,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return collector, prometheus.NewAppMetrics(collector), nil
}

// watchConfig applies log level changes of path at runtime.
func watchConfig(path string, logger logging.Logger) {
	if path == "" {
		return
	}
	config.Watch(path, func(cfg *config.Config) {
		if logging.SetLevel(logger, cfg.Log.Level) {
			logger.Info("configuration reloaded", logging.String("log_level", cfg.Log.Level))
		}
	}, func(err error) {
		logger.Warn("ignoring invalid configuration change", logging.Err(err))
	})
}
