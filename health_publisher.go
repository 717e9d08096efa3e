// health_publisher.go: gRPC health endpoint mirroring configuration state
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// HealthPublisher exposes the standard gRPC health service. The overall
// status ("") is SERVING while the configuration is loaded and healthy;
// each backend service name is SERVING while it is available.
type HealthPublisher struct {
	manager *Manager
	server  *health.Server
	logger  Logger
}

// NewHealthPublisher creates a publisher that follows m.
func NewHealthPublisher(m *Manager, logger any) *HealthPublisher {
	h := &HealthPublisher{
		manager: m,
		server:  health.NewServer(),
		logger:  NewLogger(logger).With("component", "health"),
	}
	for _, name := range m.Services().Names() {
		h.server.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	h.applyState(m.Snapshot())
	m.OnChange(h.applyState)
	m.Services().Subscribe(h.applyServices)
	return h
}

// Server returns the underlying health server.
func (h *HealthPublisher) Server() *health.Server { return h.server }

func (h *HealthPublisher) applyState(snap *Snapshot) {
	status := healthpb.HealthCheckResponse_SERVING
	if snap.State().restrictive() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
}

func (h *HealthPublisher) applyServices(set ServiceSet) {
	for name, d := range set {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if d.Available() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		h.server.SetServingStatus(name, status)
	}
}

// Register adds the health service to s.
func (h *HealthPublisher) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// NewServer returns a gRPC server carrying the health service. Peers that
// are not loopback addresses need the remote_access gate.
func (h *HealthPublisher) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(h.unaryRemoteGate),
		grpc.ChainStreamInterceptor(h.streamRemoteGate))
	s := grpc.NewServer(opts...)
	h.Register(s)
	return s
}

// Serve runs a health server on lis until ctx is done.
func (h *HealthPublisher) Serve(ctx context.Context, lis net.Listener) error {
	s := h.NewServer()
	errCh := make(chan error, 1)
	SafeGo(h.logger, func() { errCh <- s.Serve(lis) })
	h.logger.Info("Health endpoint listening", "address", lis.Addr().String())

	select {
	case <-ctx.Done():
		h.server.Shutdown()
		s.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func (h *HealthPublisher) checkPeer(ctx context.Context) error {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return status.Error(codes.PermissionDenied, "unknown peer")
	}
	// In-process transports report a non-IP address.
	if p.Addr.Network() != "tcp" && p.Addr.Network() != "udp" {
		return nil
	}
	if err := h.manager.AuthorizeRemote(p.Addr.String()); err != nil {
		return status.Error(codes.PermissionDenied, err.Error())
	}
	return nil
}

func (h *HealthPublisher) unaryRemoteGate(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := h.checkPeer(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (h *HealthPublisher) streamRemoteGate(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := h.checkPeer(ss.Context()); err != nil {
		return err
	}
	return handler(srv, ss)
}
