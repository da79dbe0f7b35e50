package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/EpiExtract/internal/application/worker"
	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	httpapi "github.com/turtacn/EpiExtract/internal/interfaces/http"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/handlers"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/middleware"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

const defaultWorkerMetricsPort = 9100

type workerOptions struct {
	concurrency int
	metricsPort int
}

// NewWorkerCmd consumes document.submitted events until SIGINT or SIGTERM.
func NewWorkerCmd() *cobra.Command {
	opts := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Extract documents submitted on the Kafka input topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := *cliCtx.Config
			if opts.concurrency > 0 {
				cfg.Worker.Concurrency = opts.concurrency
			}
			if opts.metricsPort > 0 {
				cfg.Worker.MetricsPort = opts.metricsPort
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			watchConfig(cliCtx.ConfigPath, cliCtx.Logger)
			return runWorker(ctx, &cfg, cliCtx.Logger)
		},
	}
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "consumers in the group (overrides worker.concurrency)")
	cmd.Flags().IntVar(&opts.metricsPort, "metrics-port", 0, "port of /healthz, /readyz and /metrics (overrides worker.metrics_port)")
	return cmd
}

func runWorker(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	if !cfg.Kafka.Enabled {
		return errors.New(errors.ErrCodeValidation, "the worker requires kafka.enabled")
	}
	logger.Info("starting epiextract worker",
		logging.String("version", Version),
		logging.Int("consumers", cfg.Worker.Concurrency),
		logging.String("topic", cfg.Kafka.InputTopic),
	)

	collector, metrics, err := newMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}
	infra, err := openInfrastructure(ctx, cfg, allComponents, logger, metrics)
	if err != nil {
		return err
	}
	defer infra.Close()

	handler := worker.NewDocumentHandler(infra.newService(), infra.lockFactory(), worker.HandlerConfig{
		LockTTL: cfg.Worker.LockTTL,
	}, logger)

	consumerCfg := kafka.ConsumerConfigFromConfig(cfg.Kafka)
	factory := func(member int) (worker.Consumer, error) {
		return kafka.NewConsumer(consumerCfg, logger.With(logging.Int("member", member)),
			kafka.WithConsumerMetrics(metrics),
			kafka.WithDeadLetterPublisher(infra.producer),
		)
	}
	runner := worker.NewRunner(cfg.Kafka.InputTopic, cfg.Worker.Concurrency, factory, handler.Handle, logger)

	port := cfg.Worker.MetricsPort
	if port <= 0 {
		port = defaultWorkerMetricsPort
	}
	probes := httpapi.NewServer(config.ServerConfig{Port: port, ShutdownTimeout: cfg.Worker.ShutdownTimeout},
		httpapi.NewRouter(httpapi.RouterConfig{
			HealthHandler:    handlers.NewHealthHandler(Version, infra.healthCheckers()...).WithMetrics(metrics),
			Logging:          middleware.DefaultLoggingConfig(),
			Mode:             cfg.Server.Mode,
			Logger:           logger,
			MetricsCollector: collector,
		}), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(probes.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		return probes.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", logging.Err(err))
		return err
	}
	logger.Info("worker stopped")
	return nil
}

type submitOptions struct {
	format string
}

// NewSubmitCmd publishes a document to the Kafka input topic.
func NewSubmitCmd() *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Queue an annotated document for the worker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if !cliCtx.Config.Kafka.Enabled {
				return errors.New(errors.ErrCodeValidation, "submit requires kafka.enabled")
			}
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			doc, err := readDocument(cmd.InOrStdin(), path, opts.format)
			if err != nil {
				return err
			}
			if doc.ID == "" {
				doc.ID = uuid.NewString()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
			defer cancel()
			producer, err := kafka.NewProducer(kafka.ProducerConfigFromConfig(cliCtx.Config.Kafka), cliCtx.Logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			if err := kafka.SubmitDocument(ctx, producer, cliCtx.Config.Kafka.InputTopic, doc); err != nil {
				return err
			}
			PrintSuccess(cmd, "document "+doc.ID+" submitted to "+cliCtx.Config.Kafka.InputTopic)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "", "input format (json, yaml); detected when empty")
	return cmd
}
