package api

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"closer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCServer_Health(t *testing.T) {
	cfg := config.APIConfig{Enabled: true, GRPC: config.APIGRPCConfig{Port: 0, Reflection: true}}
	srv, err := NewGRPCServer(&cfg, nil)
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	conn, err := grpc.NewClient("127.0.0.1:"+port, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	srv.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCServer_WatchReadiness(t *testing.T) {
	cfg := config.APIConfig{Enabled: true}
	srv, err := NewGRPCServer(&cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	var redisDown atomic.Bool
	redisDown.Store(true)
	checks := []ReadinessCheck{
		{Name: "database", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error {
			if redisDown.Load() {
				return errors.New("connection refused")
			}
			return nil
		}},
	}

	ctx := context.Background()
	status := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.False(t, srv.runChecks(ctx, checks))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(ServiceName+"/database"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(ServiceName+"/redis"))

	redisDown.Store(false)
	assert.True(t, srv.runChecks(ctx, checks))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(""))

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		srv.WatchReadiness(watchCtx, checks, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchReadiness did not return after cancel")
	}
}

func TestBuildTLSConfig_MissingFiles(t *testing.T) {
	_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
	assert.Error(t, err)
}

func TestBuildTLSConfig_ClientCA(t *testing.T) {
	_, err := loadCertPool("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))
	_, err = loadCertPool(path)
	assert.Error(t, err)
}
