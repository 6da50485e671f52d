package grpchealth

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, s *Server) grpc.DialOption {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	})
}

func TestProbeReportsEachDependency(t *testing.T) {
	dbErr := errors.New("database ping failed")
	s := NewServer(map[string]Checker{
		"classifier": func(context.Context) error { return nil },
		"database":   func(context.Context) error { return dbErr },
	}, zap.NewNop())
	dialer := startServer(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := Check(ctx, "passthrough:///bufnet", "", zap.NewNop(), dialer)
	require.Error(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	results := s.Probe(ctx)
	assert.NoError(t, results["classifier"])
	assert.ErrorIs(t, results["database"], dbErr)

	status, err = Check(ctx, "passthrough:///bufnet", "classifier", zap.NewNop(), dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	status, _ = Check(ctx, "passthrough:///bufnet", "", zap.NewNop(), dialer)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestProbeServingWhenAllHealthy(t *testing.T) {
	s := NewServer(map[string]Checker{
		"database": func(context.Context) error { return nil },
	}, zap.NewNop())
	dialer := startServer(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Probe(ctx)

	status, err := Check(ctx, "passthrough:///bufnet", "", zap.NewNop(), dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}

func TestRunStopsWithContext(t *testing.T) {
	calls := make(chan struct{}, 10)
	s := NewServer(map[string]Checker{
		"cache": func(context.Context) error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return nil
		},
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()

	<-calls
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
