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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/plcgateway/pkg/adapter"
	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

var errEvaluator = errors.New("definition lookup failed")

func TestReconnectBackoffSequence(t *testing.T) {
	t.Parallel()

	b := newReconnectBackoff(time.Second, 30*time.Second)
	assert.Equal(t, time.Second, b.pending)

	for n := 1; n <= 8; n++ {
		b.next()

		want := min(time.Duration(1<<n)*time.Second, 30*time.Second)
		assert.Equal(t, want, b.pending, "after %d failures", n)
	}

	b.reset()
	assert.Equal(t, time.Second, b.pending)
	assert.Equal(t, time.Second, b.next())
}

func TestPollerBacksOffOnConnectFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(7)
	adp := &fakeAdapter{failConnect: -1}
	status := &recordingStatus{}

	p := NewDevicePoller(testDevice(), adp, staticProvider(registers(1)),
		Deps{Status: status, Clock: clock}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(clock.Sleeps()) >= 8 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, clock.Sleeps()[:7])
	assert.Equal(t, 30*time.Second, p.Backoff())
	assert.Equal(t, 8, p.ConsecutiveFailures())
	assert.Equal(t, StateDisconnected, p.State())

	require.NoError(t, p.Stop(context.Background()))

	online, _ := status.snapshot()
	require.NotEmpty(t, online)
	assert.False(t, online[len(online)-1])
}

func TestPollerResetsBackoffAfterConnect(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(4)
	adp := &fakeAdapter{failConnect: 3}

	p := NewDevicePoller(testDevice(), adp, staticProvider(nil),
		Deps{Clock: clock}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(clock.Sleeps()) >= 5 }, 2*time.Second, 5*time.Millisecond)

	sleeps := clock.Sleeps()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 500 * time.Millisecond}, sleeps[:4])
	assert.Equal(t, time.Second, p.Backoff())
	assert.Equal(t, 0, p.ConsecutiveFailures())
	assert.Equal(t, StateConnected, p.State())

	require.NoError(t, p.Stop(context.Background()))
}

func TestOneFailedReadOfFiveYieldsFourMeasurements(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	adp := adapter.NewMockAdapter(ctrl)

	adp.EXPECT().Protocol().Return("modbus").AnyTimes()
	adp.EXPECT().IsConnected().Return(true).AnyTimes()
	adp.EXPECT().Disconnect(gomock.Any()).Return(nil).Times(1)
	adp.EXPECT().ReadRegister(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, reg models.Register) (*models.Measurement, error) {
			if reg.ID == "r3" {
				return nil, errReadTimeout
			}

			return goodReading(reg, 12), nil
		}).AnyTimes()

	sink := newRecordingSink()
	p := NewDevicePoller(testDevice(), adp, staticProvider(registers(5)),
		Deps{Sink: sink, Clock: newFakeClock(0)}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	var batch []*models.Measurement

	select {
	case batch = <-sink.batchCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no batch handed off")
	}

	require.Len(t, batch, 4)

	ids := make([]string, 0, len(batch))
	for _, m := range batch {
		ids = append(ids, m.RegisterID)
	}

	assert.Equal(t, []string{"r1", "r2", "r4", "r5"}, ids)
	assert.Zero(t, p.ConsecutiveFailures())

	require.NoError(t, p.Stop(context.Background()))
}

func TestAlarmFailuresNeverDropMeasurements(t *testing.T) {
	t.Parallel()

	evaluator := evaluatorFunc(func(_ context.Context, _, registerID string, _ float64) (bool, error) {
		switch registerID {
		case "r1":
			return false, errEvaluator
		case "r2":
			panic("nil definition")
		case "r3":
			return true, nil
		default:
			return false, nil
		}
	})

	sink := newRecordingSink()
	adp := &fakeAdapter{}
	p := NewDevicePoller(testDevice(), adp, staticProvider(registers(4)),
		Deps{Sink: sink, Evaluator: evaluator, Clock: newFakeClock(0)}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	var batch []*models.Measurement

	select {
	case batch = <-sink.batchCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no batch handed off")
	}

	require.NoError(t, p.Stop(context.Background()))

	require.Len(t, batch, 4)
	assert.False(t, batch[0].IsAlarm)
	assert.False(t, batch[1].IsAlarm)
	assert.True(t, batch[2].IsAlarm)
	assert.False(t, batch[3].IsAlarm)
}

func TestBadQualityReadingsSkipAlarmEvaluation(t *testing.T) {
	t.Parallel()

	var evaluated atomic.Int32

	evaluator := evaluatorFunc(func(context.Context, string, string, float64) (bool, error) {
		evaluated.Add(1)
		return false, nil
	})

	adp := &fakeAdapter{read: func(_ context.Context, reg models.Register) (*models.Measurement, error) {
		return &models.Measurement{DeviceID: "plc-1", RegisterID: reg.ID, Quality: models.QualityBad}, nil
	}}

	sink := newRecordingSink()
	p := NewDevicePoller(testDevice(), adp, staticProvider(registers(2)),
		Deps{Sink: sink, Evaluator: evaluator, Clock: newFakeClock(0)}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	select {
	case batch := <-sink.batchCh:
		assert.Len(t, batch, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch handed off")
	}

	require.NoError(t, p.Stop(context.Background()))
	assert.Zero(t, evaluated.Load())
}

func TestReadConcurrencyIsBounded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		maxReads  int
		registers int
		limit     int
	}{
		{name: "capped at sixteen", maxReads: 16, registers: 40, limit: 16},
		{name: "capped at register count", maxReads: 16, registers: 3, limit: 3},
		{name: "configured lower cap", maxReads: 4, registers: 10, limit: 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var inFlight, peak atomic.Int32

			adp := &fakeAdapter{read: func(_ context.Context, reg models.Register) (*models.Measurement, error) {
				n := inFlight.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}

				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)

				return goodReading(reg, 1), nil
			}}

			settings := testSettings()
			settings.MaxConcurrentReads = tc.maxReads

			sink := newRecordingSink()
			p := NewDevicePoller(testDevice(), adp, staticProvider(registers(tc.registers)),
				Deps{Sink: sink, Clock: newFakeClock(0)}, settings, logger.NewTestLogger())
			p.Start(context.Background())

			select {
			case batch := <-sink.batchCh:
				assert.Len(t, batch, tc.registers)
			case <-time.After(5 * time.Second):
				t.Fatal("no batch handed off")
			}

			require.NoError(t, p.Stop(context.Background()))

			assert.LessOrEqual(t, int(peak.Load()), tc.limit)
			assert.Greater(t, int(peak.Load()), 1)
		})
	}
}

func TestAllReadsFailingDisconnectsAndBacksOff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(0)
	adp := &fakeAdapter{read: func(context.Context, models.Register) (*models.Measurement, error) {
		return nil, errReadTimeout
	}}
	status := &recordingStatus{}
	sink := newRecordingSink()

	p := NewDevicePoller(testDevice(), adp, staticProvider(registers(3)),
		Deps{Status: status, Sink: sink, Clock: clock}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(clock.Sleeps()) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, time.Second, clock.Sleeps()[0])
	assert.Equal(t, 1, adp.Disconnects())
	assert.Equal(t, StateDisconnected, p.State())
	assert.Equal(t, 2*time.Second, p.Backoff())

	online, _ := status.snapshot()
	assert.Equal(t, []bool{true, false}, online)
	assert.Equal(t, []bool{true, false}, sink.connectivity())

	require.NoError(t, p.Stop(context.Background()))
	assert.Empty(t, sink.batches)
}

func TestStopMidCycleLeavesDeviceOfflineAndDisconnected(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	status := NewMockStatusStore(ctrl)

	gomock.InOrder(
		status.EXPECT().SetOnline(gomock.Any(), "plc-1", true, gomock.Any()).Return(nil).Times(1),
		status.EXPECT().SetOnline(gomock.Any(), "plc-1", false, gomock.Any()).Return(nil).Times(1),
	)
	status.EXPECT().TouchLastSeen(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	reading := make(chan struct{})

	var once sync.Once

	adp := &fakeAdapter{read: func(ctx context.Context, _ models.Register) (*models.Measurement, error) {
		once.Do(func() { close(reading) })
		<-ctx.Done()

		return nil, ctx.Err()
	}}

	sink := newRecordingSink()
	p := NewDevicePoller(testDevice(), adp, staticProvider(registers(2)),
		Deps{Status: status, Sink: sink, Clock: newFakeClock(100)}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	select {
	case <-reading:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never started reading")
	}

	assert.Equal(t, StateReading, p.State())

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))

	select {
	case <-p.Done():
	default:
		t.Fatal("read loop still running after Stop")
	}

	assert.False(t, adp.IsConnected())
	assert.Equal(t, StateDisconnected, p.State())
	assert.Equal(t, []bool{true, false}, sink.connectivity())
	assert.Empty(t, sink.batches)
}

func TestStopBeforeStartStillMarksOffline(t *testing.T) {
	t.Parallel()

	status := &recordingStatus{}
	adp := &fakeAdapter{}

	p := NewDevicePoller(testDevice(), adp, staticProvider(nil),
		Deps{Status: status, Clock: newFakeClock(0)}, testSettings(), logger.NewTestLogger())

	require.NoError(t, p.Stop(context.Background()))
	p.Start(context.Background())

	online, _ := status.snapshot()
	assert.Equal(t, []bool{false}, online)
	assert.Equal(t, 1, adp.Disconnects())
	assert.Zero(t, adp.connects)
}

func TestLastSeenTouchIsDebounced(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(20)
	status := &recordingStatus{}

	settings := testSettings()
	settings.Pacing = time.Second

	p := NewDevicePoller(testDevice(), &fakeAdapter{}, staticProvider(registers(1)),
		Deps{Status: status, Clock: clock}, settings, logger.NewTestLogger())
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(clock.Sleeps()) > 20 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	_, touches := status.snapshot()

	// 21 one-second cycles with a 5s debounce: the connect write covers the first
	// window, then one touch per five cycles.
	assert.GreaterOrEqual(t, touches, 3)
	assert.LessOrEqual(t, touches, 5)
}

func TestDevicePollingIntervalOverridesPacing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(1)
	device := testDevice()
	device.PollingInterval = models.Duration(250 * time.Millisecond)

	p := NewDevicePoller(device, &fakeAdapter{}, staticProvider(registers(1)),
		Deps{Clock: clock}, testSettings(), logger.NewTestLogger())
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(clock.Sleeps()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 250*time.Millisecond, clock.Sleeps()[0])
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "READING", StateReading.String())
	assert.Equal(t, "State(9)", State(9).String())
}
