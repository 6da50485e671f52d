package main

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/auth"
	"github.com/example/skincheck/internal/grpchealth"
	"github.com/example/skincheck/internal/handlers"
	"github.com/example/skincheck/internal/metrics"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(ctx context.Context, root *rootOptions) error {
	cfg, logger := root.cfg, root.logger
	if cfg.Auth.JWTSecret == "" {
		return errMissingSecret
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(registry)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readiness := make(map[string]handlers.ReadinessCheck)
	healthChecks := make(map[string]grpchealth.Checker)
	for name, check := range a.checks() {
		readiness[name] = check
		healthChecks[name] = check
	}

	if cfg.Server.GRPCHealthAddr != "" {
		listener, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
		if err != nil {
			return err
		}
		healthServer := grpchealth.NewServer(healthChecks, logger)
		go healthServer.Run(ctx, grpchealth.DefaultInterval)
		go func() {
			if err := healthServer.Serve(ctx, listener); err != nil {
				logger.Error("grpc health server failed", zap.Error(err))
			}
		}()
		logger.Info("gRPC health service listening", zap.String("addr", cfg.Server.GRPCHealthAddr))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger), recorder.GinMiddleware())
	r.MaxMultipartMemory = cfg.Image.MaxBytes

	opts := handlers.Options{
		MaxUploadSize:  cfg.Image.MaxBytes,
		Ingest:         a.normalizer,
		Readiness:      readiness,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:         logger,
	}
	if a.fsStore != nil {
		opts.Objects = a.fsStore
	}
	handlers.RegisterRoutes(r, a.uc, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience), opts)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("skincheck API listening", zap.String("addr", cfg.Server.Addr))
	return serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)
}
