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
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/logger"
)

type fakeControl struct {
	mu       sync.Mutex
	enabled  bool
	triggers atomic.Int32
}

func (c *fakeControl) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = enabled
}

func (c *fakeControl) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.enabled
}

func (c *fakeControl) Trigger() { c.triggers.Add(1) }

func TestControlSubjects(t *testing.T) {
	t.Parallel()

	polling, reconcile := ControlSubjects("")
	assert.Equal(t, "plc.control.polling", polling)
	assert.Equal(t, "plc.control.reconcile", reconcile)

	polling, _ = ControlSubjects("site1.plc.")
	assert.Equal(t, "site1.plc.control.polling", polling)
}

func TestSubscribeControlRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := SubscribeControl(nil, "plc", &fakeControl{}, logger.NewTestLogger())
	require.ErrorIs(t, err, errNilControlConn)
}

func TestSubscribeControlAppliesCommands(t *testing.T) {
	t.Parallel()

	srv := runJetStreamServer(t)
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)

	defer nc.Close()

	ctl := &fakeControl{enabled: true}

	sub, err := SubscribeControl(nc, "plc", ctl, logger.NewTestLogger())
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	request := func(subject, body string) controlReply {
		t.Helper()

		msg, err := nc.Request(subject, []byte(body), 2*time.Second)
		require.NoError(t, err)

		var reply controlReply
		require.NoError(t, json.Unmarshal(msg.Data, &reply))

		return reply
	}

	reply := request("plc.control.polling", `{"enabled": false}`)
	assert.True(t, reply.OK)
	assert.False(t, reply.Enabled)
	assert.False(t, ctl.Enabled())

	reply = request("plc.control.polling", `{}`)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "enabled")

	reply = request("plc.control.polling", `not json`)
	assert.False(t, reply.OK)

	reply = request("plc.control.reconcile", ``)
	assert.True(t, reply.OK)
	assert.Equal(t, int32(1), ctl.triggers.Load())

	reply = request("plc.control.reboot", `{}`)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "unknown control command")
}
