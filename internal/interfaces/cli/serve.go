package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	grpcapi "github.com/turtacn/EpiExtract/internal/interfaces/grpc"
	"github.com/turtacn/EpiExtract/internal/interfaces/grpc/services"
	httpapi "github.com/turtacn/EpiExtract/internal/interfaces/http"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/handlers"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/middleware"
)

const rateLimitCleanup = 5 * time.Minute

type serveOptions struct {
	httpPort int
	grpcPort int
}

// NewServeCmd runs the HTTP and gRPC APIs until SIGINT or SIGTERM.
func NewServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC extraction APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := *cliCtx.Config
			if opts.httpPort > 0 {
				cfg.Server.Port = opts.httpPort
			}
			if opts.grpcPort > 0 {
				cfg.GRPC.Port = opts.grpcPort
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			watchConfig(cliCtx.ConfigPath, cliCtx.Logger)
			return runServe(ctx, &cfg, cliCtx.Logger)
		},
	}
	cmd.Flags().IntVar(&opts.httpPort, "http-port", 0, "HTTP port (overrides server.port)")
	cmd.Flags().IntVar(&opts.grpcPort, "grpc-port", 0, "gRPC port (overrides grpc.port)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	logger.Info("starting epiextract API server",
		logging.String("version", Version),
		logging.Int("http_port", cfg.Server.Port),
		logging.Int("grpc_port", cfg.GRPC.Port),
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
	svc := infra.newService()

	routerCfg := httpapi.RouterConfig{
		ExtractionHandler: handlers.NewExtractionHandler(svc, infra.searcher(), logger),
		HealthHandler:     handlers.NewHealthHandler(Version, infra.healthCheckers()...).WithMetrics(metrics),
		Logging:           middleware.DefaultLoggingConfig(),
		MaxBodySize:       cfg.Server.MaxBodySize,
		Mode:              cfg.Server.Mode,
		Logger:            logger,
		Metrics:           metrics,
		MetricsCollector:  collector,
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewKeyedLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, rateLimitCleanup)
		defer limiter.Stop()
		routerCfg.RateLimiter = limiter
		routerCfg.RateLimit = middleware.DefaultRateLimitConfig()
	}
	httpServer := httpapi.NewServer(cfg.Server, httpapi.NewRouter(routerCfg), logger)

	grpcServer, err := grpcapi.NewServer(cfg.GRPC, grpcapi.WithLogger(logger), grpcapi.WithMetrics(metrics))
	if err != nil {
		return err
	}
	grpcServer.RegisterService(&services.ExtractionServiceDesc, services.NewExtractionService(svc, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcServer.SetServing(false)
		httpErr := httpServer.Stop(shutdownCtx)
		grpcErr := grpcServer.Stop(shutdownCtx)
		if httpErr != nil {
			return httpErr
		}
		return grpcErr
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", logging.Err(err))
		return err
	}
	logger.Info("servers stopped")
	return nil
}
