// health_publisher_test.go: tests for the gRPC health publisher
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T, h *HealthPublisher) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("health server did not stop")
		}
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkHealth(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthPublisherFollowsManager(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	h := NewHealthPublisher(m, nil)
	client := startHealthServer(t, h)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkHealth(t, client, ""), "unloaded")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkHealth(t, client, ServiceOllama))

	_, err := m.Load(context.Background(), yamlSource("version: 81\nenable_ollama_service: true\n"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkHealth(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkHealth(t, client, ServiceOllama))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkHealth(t, client, ServiceComfyUI))

	require.NoError(t, m.Set(context.Background(), "enable_ollama_service", Bool(false)))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkHealth(t, client, ServiceOllama))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealthPublisherDegraded(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	h := NewHealthPublisher(m, nil)
	_, err := m.Load(context.Background(), yamlSource("port: [\n"))
	require.Error(t, err)

	client := startHealthServer(t, h)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkHealth(t, client, ""))
}

func TestHealthPublisherRemoteGate(t *testing.T) {
	m, logger, _ := newTestManager(t, nil)
	_, err := m.Load(context.Background(), yamlSource("version: 81\n"))
	require.NoError(t, err)
	h := NewHealthPublisher(m, logger)

	remote := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4242}})
	local := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4242}})

	err = h.checkPeer(remote)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.NoError(t, h.checkPeer(local))
	assert.Equal(t, codes.PermissionDenied, status.Code(h.checkPeer(context.Background())))

	called := false
	_, err = h.unaryRemoteGate(remote, nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		called = true
		return nil, nil
	})
	assert.Error(t, err)
	assert.False(t, called)

	require.NoError(t, m.Set(context.Background(), KeyRemoteAccess, Bool(true)))
	assert.NoError(t, h.checkPeer(remote))
	assert.True(t, logger.HasMessage("WARN", "Privileged action denied"))
}
