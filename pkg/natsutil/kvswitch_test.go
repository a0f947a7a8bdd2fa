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

package natsutil

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/logger"
)

func newSwitchStore(t *testing.T) (*SwitchStore, jetstream.KeyValue) {
	t.Helper()

	srv := runJetStreamServer(t)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewSwitchStore(ctx, js, "plc_gateway_switches", logger.NewTestLogger())
	require.NoError(t, err)

	kv, err := js.KeyValue(ctx, "plc_gateway_switches")
	require.NoError(t, err)

	return store, kv
}

func TestSwitchStoreLoadAndStore(t *testing.T) {
	t.Parallel()

	store, kv := newSwitchStore(t)
	ctx := context.Background()

	_, found, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Store(ctx, false))

	enabled, found, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, enabled)

	_, err = kv.Put(ctx, PollingEnabledKey, []byte("sometimes"))
	require.NoError(t, err)

	_, _, err = store.Load(ctx)
	require.Error(t, err)
}

func TestSwitchStoreWatchAppliesChanges(t *testing.T) {
	t.Parallel()

	store, kv := newSwitchStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.Store(ctx, true))

	ctl := &fakeControl{}
	applied := make(chan bool, 8)

	require.NoError(t, store.Watch(ctx, func(enabled bool) {
		ctl.SetEnabled(enabled)
		applied <- enabled
	}))

	expect := func(want bool) {
		t.Helper()

		select {
		case got := <-applied:
			assert.Equal(t, want, got)
		case <-time.After(3 * time.Second):
			t.Fatalf("switch value %t never applied", want)
		}
	}

	expect(true)

	_, err := kv.Put(ctx, PollingEnabledKey, []byte("garbage"))
	require.NoError(t, err)

	require.NoError(t, kv.Delete(ctx, PollingEnabledKey))

	persistent := &PersistentControl{PollingControl: ctl, Store: store, Logger: logger.NewTestLogger()}
	persistent.SetEnabled(false)

	expect(false)
	assert.False(t, ctl.Enabled())
}
