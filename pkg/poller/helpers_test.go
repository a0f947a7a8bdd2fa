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

package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/plcgateway/pkg/models"
)

var (
	errConnectRefused = errors.New("connection refused")
	errReadTimeout    = errors.New("read timeout")
)

// fakeClock fires every After immediately until limit sleeps were granted, then
// blocks forever so the loop parks on its context.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	limit  int
}

func newFakeClock(limit int) *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), limit: limit}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Millisecond)

	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sleeps = append(c.sleeps, d)
	if len(c.sleeps) > c.limit {
		return nil
	}

	c.now = c.now.Add(d)

	ch := make(chan time.Time, 1)
	ch <- c.now

	return ch
}

func (*fakeClock) Ticker(time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]time.Duration(nil), c.sleeps...)
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }

func (*fakeTicker) Stop() {}

// fakeAdapter is a thread-safe adapter whose connect and read behavior is scripted.
type fakeAdapter struct {
	mu          sync.Mutex
	connected   bool
	failConnect int
	connects    int
	disconnects int
	read        func(ctx context.Context, reg models.Register) (*models.Measurement, error)
}

func (a *fakeAdapter) Connect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connects++
	if a.failConnect < 0 || a.connects <= a.failConnect {
		return errConnectRefused
	}

	a.connected = true

	return nil
}

func (a *fakeAdapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.disconnects++
	a.connected = false

	return nil
}

func (a *fakeAdapter) ReadRegister(ctx context.Context, reg models.Register) (*models.Measurement, error) {
	if a.read != nil {
		return a.read(ctx, reg)
	}

	return goodReading(reg, 1), nil
}

func (a *fakeAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.connected
}

func (*fakeAdapter) Protocol() string { return "modbus-sim" }

func (a *fakeAdapter) Disconnects() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.disconnects
}

func goodReading(reg models.Register, v float64) *models.Measurement {
	return &models.Measurement{
		DeviceID:   "plc-1",
		RegisterID: reg.ID,
		Timestamp:  time.Now(),
		RawValue:   fmt.Sprint(v),
		ValueFloat: &v,
		Quality:    models.QualityGood,
	}
}

func registers(n int) []models.Register {
	out := make([]models.Register, n)
	for i := range out {
		out[i] = models.Register{ID: fmt.Sprintf("r%d", i+1), Address: fmt.Sprint(40001 + i), DataType: "int16"}
	}

	return out
}

func staticProvider(regs []models.Register) RegisterProvider {
	return func(context.Context) ([]models.Register, error) {
		return regs, nil
	}
}

// recordingSink captures every hand-off.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]*models.Measurement
	events  []models.Event
	batchCh chan []*models.Measurement
}

func newRecordingSink() *recordingSink {
	return &recordingSink{batchCh: make(chan []*models.Measurement, 64)}
}

func (s *recordingSink) Submit(batch []*models.Measurement) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()

	select {
	case s.batchCh <- batch:
	default:
	}
}

func (*recordingSink) PublishMeasurements(*models.Device, []*models.Measurement) {}

func (s *recordingSink) PublishEvent(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
}

func (s *recordingSink) connectivity() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []bool

	for _, ev := range s.events {
		if data, ok := ev.Data.(models.ConnectivityEventData); ok {
			out = append(out, data.Online)
		}
	}

	return out
}

// recordingStatus captures status writes.
type recordingStatus struct {
	mu      sync.Mutex
	online  []bool
	touches int
}

func (s *recordingStatus) SetOnline(_ context.Context, _ string, online bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online = append(s.online, online)

	return nil
}

func (s *recordingStatus) TouchLastSeen(context.Context, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touches++

	return nil
}

func (s *recordingStatus) snapshot() ([]bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]bool(nil), s.online...), s.touches
}

type evaluatorFunc func(ctx context.Context, deviceID, registerID string, value float64) (bool, error)

func (f evaluatorFunc) CheckAndHandle(ctx context.Context, deviceID, registerID string, value float64) (bool, error) {
	return f(ctx, deviceID, registerID, value)
}

func testDevice() *models.Device {
	return &models.Device{ID: "plc-1", Name: "Line 1", Address: "10.0.0.10", SubnetID: 3, Protocol: "modbus-sim"}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Pacing = 500 * time.Millisecond

	return s
}
