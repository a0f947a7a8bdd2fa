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

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/alarm"
	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
	"github.com/carverauto/plcgateway/pkg/natsutil"
)

func switchStore(t *testing.T) *natsutil.SwitchStore {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go srv.Start()

	t.Cleanup(srv.Shutdown)

	require.True(t, srv.ReadyForConnections(10*time.Second), "embedded NATS server not ready")

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	store, err := openSwitchStore(context.Background(), nc, &models.NATSConfig{SwitchBucket: "switches"}, logger.NewTestLogger())
	require.NoError(t, err)

	return store
}

func TestGatewaySeedsSharedSwitch(t *testing.T) {
	t.Parallel()

	switches := switchStore(t)

	g, err := Assemble(testConfig(true), Components{
		Store: newMemStore(), Alarms: alarm.NewMemoryRepository(), Switches: switches,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, g.Start(ctx))

	enabled, found, err := switches.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, enabled)

	require.NoError(t, g.Stop(context.Background()))
}

func TestGatewayFollowsSharedSwitch(t *testing.T) {
	t.Parallel()

	switches := switchStore(t)
	require.NoError(t, switches.Store(context.Background(), true))

	g, err := Assemble(testConfig(false), Components{
		Store: newMemStore(), Alarms: alarm.NewMemoryRepository(), Switches: switches,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, g.Start(ctx))
	assert.True(t, g.Reconciler().Enabled(), "stored switch wins over local config")

	require.NoError(t, switches.Store(ctx, false))
	require.Eventually(t, func() bool { return !g.Reconciler().Enabled() }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, g.Stop(context.Background()))
}
