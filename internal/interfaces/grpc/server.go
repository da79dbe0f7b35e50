// Package grpc serves the extraction service over gRPC: lifecycle,
// interceptors, the standard health service and optional reflection.
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

const (
	defaultMaxRecvMsgSize  = 16 * 1024 * 1024
	defaultMaxSendMsgSize  = 16 * 1024 * 1024
	defaultGracefulTimeout = 10 * time.Second

	// MetadataRequestID is the incoming and outgoing request id key.
	MetadataRequestID = "x-request-id"
)

var defaultKeepaliveParams = keepalive.ServerParameters{
	MaxConnectionIdle:     15 * time.Minute,
	MaxConnectionAge:      30 * time.Minute,
	MaxConnectionAgeGrace: 5 * time.Second,
	Time:                  5 * time.Minute,
	Timeout:               1 * time.Second,
}

var defaultKeepalivePolicy = keepalive.EnforcementPolicy{
	MinTime:             5 * time.Second,
	PermitWithoutStream: true,
}

// Option configures the gRPC Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger          logging.Logger
	metrics         *prometheus.AppMetrics
	tlsConfig       *tls.Config
	listener        net.Listener
	maxSendMsgSize  int
	keepaliveParams keepalive.ServerParameters
	gracefulTimeout time.Duration
}

// WithLogger sets the logger for the gRPC server.
func WithLogger(l logging.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

// WithMetrics records per-method request counts and durations.
func WithMetrics(m *prometheus.AppMetrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

// WithTLSConfig serves over TLS.
func WithTLSConfig(tc *tls.Config) Option {
	return func(o *serverOptions) { o.tlsConfig = tc }
}

// WithListener serves on ln instead of binding cfg.Port.
func WithListener(ln net.Listener) Option {
	return func(o *serverOptions) { o.listener = ln }
}

// WithKeepaliveParams sets keepalive parameters for the gRPC server.
func WithKeepaliveParams(params keepalive.ServerParameters) Option {
	return func(o *serverOptions) { o.keepaliveParams = params }
}

// WithGracefulTimeout bounds GracefulStop before a forced stop.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.gracefulTimeout = d
		}
	}
}

// Server wraps a grpc.Server with lifecycle management, the interceptor
// chain and health reporting.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	opts         *serverOptions
	healthServer *health.Server
	mu           sync.Mutex
	started      bool
}

// NewServer binds the listener, assembles the interceptor chain and
// registers the health and, when enabled, reflection services.
func NewServer(cfg config.GRPCConfig, opts ...Option) (*Server, error) {
	sopts := &serverOptions{
		maxSendMsgSize:  defaultMaxSendMsgSize,
		keepaliveParams: defaultKeepaliveParams,
		gracefulTimeout: defaultGracefulTimeout,
	}
	for _, o := range opts {
		o(sopts)
	}
	if sopts.logger == nil {
		sopts.logger = logging.NewNopLogger()
	}
	sopts.logger = sopts.logger.Named("grpc")

	lis := sopts.listener
	if lis == nil {
		addr := fmt.Sprintf(":%d", cfg.Port)
		var err error
		if lis, err = net.Listen("tcp", addr); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	maxRecv := cfg.MaxRecvMsgSize
	if maxRecv <= 0 {
		maxRecv = defaultMaxRecvMsgSize
	}

	// recovery is outermost so panics in later interceptors are caught too
	grpcOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxRecv),
		grpc.MaxSendMsgSize(sopts.maxSendMsgSize),
		grpc.KeepaliveParams(sopts.keepaliveParams),
		grpc.KeepaliveEnforcementPolicy(defaultKeepalivePolicy),
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(sopts.logger),
			requestIDUnaryInterceptor(),
			loggingUnaryInterceptor(sopts.logger),
			metricsUnaryInterceptor(sopts.metrics),
			errorUnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recoveryStreamInterceptor(sopts.logger),
			loggingStreamInterceptor(sopts.logger),
		),
	}
	if sopts.tlsConfig != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(sopts.tlsConfig)))
	}

	gs := grpc.NewServer(grpcOpts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if cfg.EnableReflection {
		reflection.Register(gs)
		sopts.logger.Info("grpc reflection service registered")
	}

	return &Server{
		grpcServer:   gs,
		listener:     lis,
		opts:         sopts,
		healthServer: hs,
	}, nil
}

// RegisterService registers impl and marks desc.ServiceName as serving.
// Must be called before Start.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
	s.healthServer.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.opts.logger.Info("grpc service registered", logging.String("service", desc.ServiceName))
}

// SetServing flips the overall health status, e.g. when a dependency fails.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// Start serves until Stop. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.opts.logger.Info("grpc server starting", logging.String("address", s.Addr()))
	if err := s.grpcServer.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop drains in-flight calls and forces a stop when the graceful period
// or ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		// a later Start returns at once
		s.grpcServer.Stop()
		return nil
	}
	s.mu.Unlock()

	s.opts.logger.Info("grpc server stopping")
	s.healthServer.Shutdown()

	gracefulCtx, cancel := context.WithTimeout(ctx, s.opts.gracefulTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.opts.logger.Info("grpc server stopped gracefully")
	case <-gracefulCtx.Done():
		s.opts.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// Addr returns the listening address; useful with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ---------------------------------------------------------------------------
// Interceptors
// ---------------------------------------------------------------------------

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(ctx).Error("grpc panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprintf("%v", r)),
					logging.String("stack", string(debug.Stack())),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc stream panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprintf("%v", r)),
					logging.String("stack", string(debug.Stack())),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

// requestIDUnaryInterceptor reuses the caller's x-request-id or assigns one,
// and echoes it in the response header.
func requestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(MetadataRequestID); len(v) > 0 {
				id = v[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataRequestID, id))
		return handler(logging.ContextWithRequestID(ctx, id), req)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

func loggingUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthCheck(info.FullMethod) {
			return handler(ctx, req)
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(toStatus(err))

		fields := []logging.Field{
			logging.String("method", info.FullMethod),
			logging.Duration("duration", time.Since(start)),
			logging.String("code", code.String()),
		}
		log := logger.WithContext(ctx)
		switch code {
		case codes.OK:
			log.Info("grpc request", fields...)
		case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
			log.Error("grpc request failed", append(fields, logging.Err(err))...)
		default:
			log.Warn("grpc request rejected", append(fields, logging.Err(err))...)
		}
		return resp, err
	}
}

func loggingStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isHealthCheck(info.FullMethod) {
			return handler(srv, ss)
		}
		start := time.Now()
		err := handler(srv, ss)
		logger.Info("grpc stream",
			logging.String("method", info.FullMethod),
			logging.Duration("duration", time.Since(start)),
			logging.String("code", status.Code(err).String()),
		)
		return err
	}
}

func metricsUnaryInterceptor(m *prometheus.AppMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if m == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		prometheus.RecordGRPCRequest(m, info.FullMethod, status.Code(toStatus(err)).String(), time.Since(start))
		return resp, err
	}
}

// errorUnaryInterceptor converts application errors to gRPC statuses.
// Messages of server-side failures are masked.
func errorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, toStatus(err)
		}
		return resp, nil
	}
}

// toStatus maps err to a status error. Status errors pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return status.Error(codes.Internal, "internal server error")
	}
	code := errors.GRPCCodeForCode(appErr.Code)
	msg := appErr.Message
	switch code {
	case codes.Internal, codes.Unknown, codes.DataLoss:
		msg = "internal server error"
	default:
		if appErr.Detail != "" {
			msg += ": " + appErr.Detail
		}
	}
	return status.Errorf(code, "[%s] %s", appErr.Code, msg)
}
