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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/carverauto/plcgateway/pkg/logger"
)

func checkHealth(t *testing.T, addr, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)

	return resp.GetStatus()
}

func TestHealthServerReportsServingStatus(t *testing.T) {
	t.Parallel()

	hs := NewHealthServer("127.0.0.1:0", "plc-gateway", logger.NewTestLogger())
	require.NoError(t, hs.Start(context.Background()))

	addr := hs.Addr()

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkHealth(t, addr, "plc-gateway"))

	hs.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkHealth(t, addr, "plc-gateway"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkHealth(t, addr, ""))

	require.NoError(t, hs.Stop(context.Background()))
}

func TestHealthServerStopWithoutStart(t *testing.T) {
	t.Parallel()

	hs := NewHealthServer("127.0.0.1:0", "plc-gateway", logger.NewTestLogger())
	require.NoError(t, hs.Stop(context.Background()))
}

func TestRunServiceWithHealthEndpoint(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		errCh <- RunService(ctx, &ServiceOptions{
			ServiceName: "plc-gateway",
			Service:     svc,
			HealthAddr:  "127.0.0.1:0",
		})
	}()

	require.Eventually(t, svc.started.Load, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunService did not return")
	}

	assert.True(t, svc.stopped.Load())
}
