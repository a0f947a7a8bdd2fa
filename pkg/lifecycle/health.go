/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/carverauto/plcgateway/pkg/logger"
)

const healthShutdownTimer = 5 * time.Second

// HealthServer exposes the standard gRPC health service for one named service.
type HealthServer struct {
	srv     *grpc.Server
	health  *health.Server
	addr    string
	service string
	logger  logger.Logger

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewHealthServer builds a health endpoint. The service reports NOT_SERVING until
// SetServing(true).
func NewHealthServer(addr, service string, log logger.Logger) *HealthServer {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()

	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		srv:      srv,
		health:   hs,
		addr:     addr,
		service:  service,
		logger:   log,
		serveErr: make(chan error, 1),
	}
}

// Start listens on the configured address and serves in the background.
func (h *HealthServer) Start(ctx context.Context) error {
	lc := &net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	h.mu.Lock()
	h.listener = lis
	h.mu.Unlock()

	h.logger.Info().Str("addr", lis.Addr().String()).Msg("Health server listening")

	go func() {
		if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			h.serveErr <- err
		}

		close(h.serveErr)
	}()

	return nil
}

// Addr returns the bound address once started.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener == nil {
		return h.addr
	}

	return h.listener.Addr().String()
}

// SetServing flips the reported status of the service and the overall server.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	h.health.SetServingStatus(h.service, status)
	h.health.SetServingStatus("", status)
}

// Stop marks the service as not serving and stops gracefully, forcing after a timeout.
func (h *HealthServer) Stop(ctx context.Context) error {
	h.health.Shutdown()

	stopped := make(chan struct{})

	go func() {
		h.srv.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(healthShutdownTimer)
	defer timer.Stop()

	select {
	case <-stopped:
	case <-ctx.Done():
		h.srv.Stop()
	case <-timer.C:
		h.logger.Warn().Msg("Health server shutdown timed out, forcing stop")
		h.srv.Stop()
	}

	h.mu.Lock()
	started := h.listener != nil
	h.mu.Unlock()

	if !started {
		return nil
	}

	return <-h.serveErr
}
