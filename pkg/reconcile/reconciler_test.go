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

package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/adapter"
	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
	"github.com/carverauto/plcgateway/pkg/poller"
)

var errStoreDown = errors.New("connection reset by peer")

type fakeSource struct {
	mu      sync.Mutex
	devices []*models.Device
	err     error
	calls   int
}

func (s *fakeSource) ListActiveDevices(context.Context) ([]*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	return s.devices, s.err
}

func (s *fakeSource) set(devices ...*models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = devices
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// fakeRegistry mirrors poller.Manager's add/remove contract without starting loops.
type fakeRegistry struct {
	mu       sync.Mutex
	devices  map[string]*models.Device
	adds     []string
	removes  []string
	provider map[string]poller.RegisterProvider
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		devices:  make(map[string]*models.Device),
		provider: make(map[string]poller.RegisterProvider),
	}
}

func (f *fakeRegistry) AddDevice(_ context.Context, device *models.Device, provider poller.RegisterProvider) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := device.Key()
	if _, ok := f.devices[key]; ok {
		return false
	}

	f.devices[key] = device
	f.provider[key] = provider
	f.adds = append(f.adds, key)

	return true
}

func (f *fakeRegistry) RemoveDevice(_ context.Context, address string, subnetID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := models.DeviceKey(address, subnetID)
	if _, ok := f.devices[key]; !ok {
		return false
	}

	delete(f.devices, key)
	f.removes = append(f.removes, key)

	return true
}

func (f *fakeRegistry) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.devices))
	for k := range f.devices {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func (f *fakeRegistry) history() (adds, removes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.adds...), append([]string(nil), f.removes...)
}

type fakeLister struct {
	ids []string
}

func (l *fakeLister) ListActiveRegisters(_ context.Context, deviceID string) ([]models.Register, error) {
	l.ids = append(l.ids, deviceID)

	return []models.Register{{ID: deviceID + "-r1", DeviceID: deviceID}}, nil
}

// manualClock hands out a ticker the test fires by hand.
type manualClock struct {
	ticks chan time.Time
}

func (*manualClock) Now() time.Time { return time.Now() }

func (*manualClock) After(time.Duration) <-chan time.Time { return nil }

func (c *manualClock) Ticker(time.Duration) poller.Ticker { return c }

func (c *manualClock) Chan() <-chan time.Time { return c.ticks }

func (*manualClock) Stop() {}

func plc(id, address string, subnet int, protocol string) *models.Device {
	return &models.Device{ID: id, Address: address, SubnetID: subnet, Protocol: protocol, IsActive: true}
}

func newTestReconciler(t *testing.T, src *fakeSource, reg *fakeRegistry, enabled bool, opts ...Option) *Reconciler {
	t.Helper()

	r, err := New(src, reg, nil, enabled, logger.NewTestLogger(), opts...)
	require.NoError(t, err)

	return r
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, newFakeRegistry(), nil, true, logger.NewTestLogger())
	require.ErrorIs(t, err, errNilSource)

	_, err = New(&fakeSource{}, nil, nil, true, logger.NewTestLogger())
	require.ErrorIs(t, err, errNilRegistry)
}

func TestReconcileAddsAndRemoves(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	r := newTestReconciler(t, src, reg, true)
	ctx := context.Background()

	src.set(plc("a", "10.0.0.1", 1, "modbus"), plc("b", "10.0.0.2", 1, "s7"))

	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 2}, res)
	assert.Equal(t, []string{"10.0.0.1|1", "10.0.0.2|1"}, reg.Keys())

	src.set(plc("b", "10.0.0.2", 1, "s7"), plc("c", "10.0.0.3", 2, "opcua"))

	res, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 1, Removed: 1}, res)
	assert.Equal(t, []string{"10.0.0.2|1", "10.0.0.3|2"}, reg.Keys())

	res, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed())
}

func TestReconcileRestartsOnConfigurationChange(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	r := newTestReconciler(t, src, reg, true)
	ctx := context.Background()

	device := plc("a", "10.0.0.1", 1, "modbus")
	device.Port = 502
	src.set(device)

	_, err := r.Reconcile(ctx)
	require.NoError(t, err)

	renamed := *device
	renamed.Name = "renamed"
	src.set(&renamed)

	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed(), "name changes do not restart the poller")

	moved := *device
	moved.Port = 5020
	src.set(&moved)

	res, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Restarted: 1}, res)

	adds, removes := reg.history()
	assert.Equal(t, []string{"10.0.0.1|1", "10.0.0.1|1"}, adds)
	assert.Equal(t, []string{"10.0.0.1|1"}, removes)
}

func TestReconcileRestartsRecreatedDevice(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	lister := &fakeLister{}
	ctx := context.Background()

	r, err := New(src, reg, RegistersFrom(lister), true, logger.NewTestLogger())
	require.NoError(t, err)

	src.set(plc("plc-old", "10.0.0.5", 1, "modbus"))

	_, err = r.Reconcile(ctx)
	require.NoError(t, err)

	src.set(plc("plc-new", "10.0.0.5", 1, "modbus"))

	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Restarted: 1}, res)

	reg.mu.Lock()
	running := reg.devices["10.0.0.5|1"]
	provider := reg.provider["10.0.0.5|1"]
	reg.mu.Unlock()

	require.NotNil(t, running)
	assert.Equal(t, "plc-new", running.ID)

	regs, err := provider(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "plc-new", regs[0].DeviceID)
}

func TestReconcileDisabledKeepsOnlySimulatedDevices(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	r := newTestReconciler(t, src, reg, true)
	ctx := context.Background()

	sim := plc("sim", "127.0.0.1", 0, "modbus-sim")
	flagged := plc("flagged", "127.0.0.2", 0, "s7")
	flagged.UseSimulation = true
	hw := plc("hw", "10.0.0.1", 1, "modbus")

	src.set(sim, flagged, hw)

	_, err := r.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, reg.Keys(), 3)

	r.SetEnabled(false)
	assert.False(t, r.Enabled())

	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 1, Skipped: 1}, res)
	assert.Equal(t, []string{"127.0.0.1|0", "127.0.0.2|0"}, reg.Keys())

	r.SetEnabled(true)

	res, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 1}, res)
	assert.Len(t, reg.Keys(), 3)
}

func TestReconcileDisabledFromStartNeverAddsHardware(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	r := newTestReconciler(t, src, reg, false)

	src.set(plc("hw", "10.0.0.1", 1, "opcua"), plc("sim", "127.0.0.1", 0, "opcua-sim"))

	res, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 1, Skipped: 1}, res)
	assert.Equal(t, []string{"127.0.0.1|0"}, reg.Keys())
}

func TestReconcileListingFailureLeavesRegistry(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	r := newTestReconciler(t, src, reg, true)
	ctx := context.Background()

	src.set(plc("a", "10.0.0.1", 1, "modbus"))

	_, err := r.Reconcile(ctx)
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errStoreDown
	src.mu.Unlock()

	_, err = r.Reconcile(ctx)
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, []string{"10.0.0.1|1"}, reg.Keys())
}

func TestReconcileIgnoresDuplicateKeys(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	r := newTestReconciler(t, src, reg, true)

	src.set(plc("first", "10.0.0.1", 1, "modbus"), plc("second", "10.0.0.1", 1, "s7"), nil)

	res, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 1, Skipped: 1}, res)

	reg.mu.Lock()
	assert.Equal(t, "first", reg.devices["10.0.0.1|1"].ID)
	reg.mu.Unlock()
}

func TestRegistersFromLoadsPerDevice(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	lister := &fakeLister{}

	r, err := New(src, reg, RegistersFrom(lister), true, logger.NewTestLogger())
	require.NoError(t, err)

	src.set(plc("a", "10.0.0.1", 1, "modbus"))

	_, err = r.Reconcile(context.Background())
	require.NoError(t, err)

	regs, err := reg.provider["10.0.0.1|1"](context.Background())
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "a-r1", regs[0].ID)
	assert.Equal(t, []string{"a"}, lister.ids)
}

func TestRunReconcilesOnTickAndTrigger(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	reg := newFakeRegistry()
	clock := &manualClock{ticks: make(chan time.Time)}
	r := newTestReconciler(t, src, reg, true, WithClock(clock), WithInterval(time.Hour))

	src.set(plc("a", "10.0.0.1", 1, "modbus"))

	require.NoError(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reg.Keys()) == 1 }, time.Second, 5*time.Millisecond)

	src.set(plc("a", "10.0.0.1", 1, "modbus"), plc("b", "10.0.0.2", 1, "modbus"))
	clock.ticks <- time.Now()

	require.Eventually(t, func() bool { return len(reg.Keys()) == 2 }, time.Second, 5*time.Millisecond)

	calls := src.Calls()
	r.SetEnabled(false)

	require.Eventually(t, func() bool { return src.Calls() > calls && len(reg.Keys()) == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	r := newTestReconciler(t, &fakeSource{}, newFakeRegistry(), true)
	require.ErrorIs(t, r.Stop(context.Background()), errNotStarted)
}

func TestReconcilerDrivesManager(t *testing.T) {
	t.Parallel()

	factory := func(device *models.Device) (adapter.Adapter, error) { return adapter.New(device) }

	src := &fakeSource{}
	m := poller.NewManager(factory, poller.Deps{}, poller.DefaultSettings(), logger.NewTestLogger())

	r, err := New(src, m, nil, true, logger.NewTestLogger())
	require.NoError(t, err)

	src.set(plc("sim", "127.0.0.1", 0, "modbus-sim"))

	res, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 1}, res)
	assert.Equal(t, []string{"127.0.0.1|0"}, m.Keys())

	src.set()

	res, err = r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 1}, res)
	assert.Zero(t, m.Len())
}
