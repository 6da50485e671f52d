// Package grpchealth exposes dependency health over the standard grpc.health.v1 service.
package grpchealth

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/skincheck/internal/logging"
)

// DefaultInterval is how often dependency checks run.
const DefaultInterval = 15 * time.Second

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// Server reports the status of each named dependency plus an overall status under
// the empty service name.
type Server struct {
	health  *health.Server
	checks  map[string]Checker
	names   []string
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	last map[string]error
}

// NewServer creates a health server. All services start NOT_SERVING until the first probe.
func NewServer(checks map[string]Checker, logger *zap.Logger) *Server {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Server{
		health:  health.NewServer(),
		checks:  checks,
		names:   names,
		timeout: 5 * time.Second,
		logger:  logger.Named("grpc_health"),
		last:    make(map[string]error),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, name := range names {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Probe runs every check once and updates the reported statuses.
func (s *Server) Probe(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.names))
	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range s.names {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.checks[name](checkCtx)
		cancel()

		results[name] = err
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(name, status)
		s.logTransition(name, err)
	}
	s.health.SetServingStatus("", overall)
	return results
}

func (s *Server) logTransition(name string, err error) {
	s.mu.Lock()
	prev, seen := s.last[name]
	s.last[name] = err
	s.mu.Unlock()

	if seen && (prev == nil) == (err == nil) {
		return
	}
	opLogger := logging.WithOperation(s.logger, "grpchealth.probe", "")
	if err != nil {
		opLogger.Warn("dependency unhealthy", zap.String("service", name), zap.Error(err))
		return
	}
	opLogger.Info("dependency healthy", zap.String("service", name))
}

// Run probes on every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Register attaches the health service to a gRPC server.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, s.health)
}

// Serve runs a gRPC server on listener until ctx is done, then drains it.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := grpc.NewServer()
	s.Register(server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		server.GracefulStop()
		if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
