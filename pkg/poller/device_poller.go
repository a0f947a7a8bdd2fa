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

// Package poller runs one read loop per device and keeps the registry of loops.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/carverauto/plcgateway/pkg/adapter"
	"github.com/carverauto/plcgateway/pkg/alarm"
	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

// State is the connection state of a device poller.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReading
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReading:
		return "READING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	onlineUnknown int32 = iota
	onlineTrue
	onlineFalse
)

// Deps are the collaborators shared by every poller. Nil members are skipped.
type Deps struct {
	Status    StatusStore
	Evaluator alarm.Evaluator
	Sink      Sink
	Clock     Clock
}

// DevicePoller owns one adapter and drives its read loop until stopped.
type DevicePoller struct {
	device   models.Device
	adapter  adapter.Adapter
	provider RegisterProvider
	deps     Deps
	clock    Clock
	settings Settings
	logger   logger.Logger
	tracer   trace.Tracer

	state          atomic.Int32
	pendingBackoff atomic.Int64
	failures       atomic.Int32
	backoff        *reconnectBackoff
	connectedOnce  bool
	readLogLimiter *rate.Limiter

	statusMu  sync.Mutex
	online    int32
	lastTouch time.Time

	lifeMu    sync.Mutex
	cancel    context.CancelFunc
	stopped   bool
	done      chan struct{}
	stopOnce  sync.Once
	stopErr   error
	startOnce sync.Once
}

// NewDevicePoller builds a poller. It does not start it.
func NewDevicePoller(
	device *models.Device,
	adp adapter.Adapter,
	provider RegisterProvider,
	deps Deps,
	settings Settings,
	log logger.Logger,
) *DevicePoller {
	clock := deps.Clock
	if clock == nil {
		clock = RealClock{}
	}

	p := &DevicePoller{
		device:         *device,
		adapter:        adp,
		provider:       provider,
		deps:           deps,
		clock:          clock,
		settings:       settings,
		logger:         logger.FromZerolog(log.With().Str("device_id", device.ID).Str("device_key", device.Key()).Logger()),
		tracer:         otel.Tracer(pollerInstrumentation),
		backoff:        newReconnectBackoff(settings.BackoffInitial, settings.BackoffMax),
		readLogLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		done:           make(chan struct{}),
	}

	p.pendingBackoff.Store(int64(p.backoff.pending))

	return p
}

// Key returns the registry key of the polled device.
func (p *DevicePoller) Key() string {
	return p.device.Key()
}

// Device returns a copy of the device configuration the poller was built with.
func (p *DevicePoller) Device() models.Device {
	return p.device
}

// State returns the current connection state.
func (p *DevicePoller) State() State {
	return State(p.state.Load())
}

// Backoff returns the wait the next connection failure will incur.
func (p *DevicePoller) Backoff() time.Duration {
	return time.Duration(p.pendingBackoff.Load())
}

// ConsecutiveFailures returns the number of failed connects or faulted cycles since
// the last successful connect.
func (p *DevicePoller) ConsecutiveFailures() int {
	return int(p.failures.Load())
}

// Done is closed once the read loop has exited.
func (p *DevicePoller) Done() <-chan struct{} {
	return p.done
}

// Start launches the read loop. It is a no-op after the first call or after Stop.
func (p *DevicePoller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.lifeMu.Lock()
		defer p.lifeMu.Unlock()

		if p.stopped {
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel

		recordActive(ctx, 1)

		go p.run(runCtx)
	})
}

// Stop cancels the loop, waits for it to exit, disconnects the adapter and marks the
// device offline. Every call after the first returns the first result.
func (p *DevicePoller) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.lifeMu.Lock()
		p.stopped = true
		cancel := p.cancel
		p.lifeMu.Unlock()

		if cancel != nil {
			cancel()

			select {
			case <-p.done:
			case <-ctx.Done():
				p.stopErr = fmt.Errorf("waiting for poller %s: %w", p.device.Key(), ctx.Err())
			}
		}

		cleanupCtx, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
		defer cancelCleanup()

		if err := p.adapter.Disconnect(cleanupCtx); err != nil {
			p.logger.Debug().Err(err).Msg("Adapter disconnect failed during stop")
		}

		p.state.Store(int32(StateDisconnected))
		p.setOnline(cleanupCtx, false, "poller stopped", true)

		p.logger.Info().Msg("Device poller stopped")
	})

	return p.stopErr
}

func (p *DevicePoller) run(ctx context.Context) {
	defer close(p.done)
	defer recordActive(context.WithoutCancel(ctx), -1)

	p.logger.Info().
		Str("protocol", p.adapter.Protocol()).
		Int("max_concurrent_reads", p.settings.MaxConcurrentReads).
		Msg("Device poller started")

	for {
		wait := p.cycle(ctx)

		if ctx.Err() != nil {
			return
		}

		if !p.sleep(ctx, wait) {
			return
		}
	}
}

func (p *DevicePoller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}

// cycle runs one connect/read/hand-off pass and returns how long to wait before the
// next one.
func (p *DevicePoller) cycle(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			wait = p.fault(ctx, fmt.Errorf("%w: %v", errCyclePanic, r))
		}
	}()

	if !p.adapter.IsConnected() {
		if err := p.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return 0
			}

			return p.connectFailed(ctx, err)
		}
	}

	pacing := p.settings.pacingFor(&p.device)

	registers, err := p.provider(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("Failed to load registers")
		}

		return pacing
	}

	if len(registers) == 0 {
		return pacing
	}

	ctx, span := p.tracer.Start(ctx, "poller.read_cycle", trace.WithAttributes(
		attribute.String("device.id", p.device.ID),
		attribute.String("device.protocol", p.adapter.Protocol()),
		attribute.Int("registers", len(registers)),
	))
	defer span.End()

	started := p.clock.Now()

	batch, failed, lastErr := p.readAll(ctx, registers)

	recordCycle(ctx, p.adapter.Protocol(), len(batch), failed, p.clock.Now().Sub(started))

	if ctx.Err() != nil {
		return 0
	}

	if failed == len(registers) {
		err := fmt.Errorf("%w (%d registers): %w", errAllReadsFailed, failed, lastErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "all reads failed")

		return p.fault(ctx, err)
	}

	span.SetAttributes(attribute.Int("reads.ok", len(batch)), attribute.Int("reads.failed", failed))

	p.evaluateAlarms(ctx, batch)
	p.handOff(batch)
	p.touchLastSeen(ctx)

	return pacing
}

func (p *DevicePoller) connect(ctx context.Context) error {
	p.state.Store(int32(StateConnecting))

	err := p.adapter.Connect(ctx)
	if p.connectedOnce {
		recordReconnect(ctx, p.adapter.Protocol(), err == nil)
	}

	if err != nil {
		p.state.Store(int32(StateDisconnected))
		return err
	}

	p.connectedOnce = true
	p.state.Store(int32(StateConnected))
	p.failures.Store(0)
	p.backoff.reset()
	p.pendingBackoff.Store(int64(p.backoff.pending))

	p.logger.Info().Str("protocol", p.adapter.Protocol()).Msg("Connected to device")
	p.setOnline(ctx, true, "", false)

	return nil
}

func (p *DevicePoller) connectFailed(ctx context.Context, err error) time.Duration {
	wait := p.advanceBackoff()

	p.logger.Warn().
		Err(err).
		Int("attempt", p.ConsecutiveFailures()).
		Dur("retry_in", wait).
		Msg("Device connect failed")

	p.setOnline(ctx, false, err.Error(), false)

	return wait
}

// fault handles an unexpected cycle error: disconnect, go offline and back off.
func (p *DevicePoller) fault(ctx context.Context, err error) time.Duration {
	if ctx.Err() != nil {
		return 0
	}

	wait := p.advanceBackoff()

	p.logger.Error().Err(err).Dur("retry_in", wait).Msg("Poll cycle failed, disconnecting")

	if derr := p.adapter.Disconnect(ctx); derr != nil {
		p.logger.Debug().Err(derr).Msg("Adapter disconnect failed")
	}

	p.state.Store(int32(StateDisconnected))
	p.setOnline(ctx, false, err.Error(), false)

	return wait
}

func (p *DevicePoller) advanceBackoff() time.Duration {
	p.failures.Add(1)
	wait := p.backoff.next()
	p.pendingBackoff.Store(int64(p.backoff.pending))

	return wait
}

// readAll reads every register with at most min(MaxConcurrentReads, n) reads in
// flight. Failed reads are excluded from the batch; order follows the register list.
func (p *DevicePoller) readAll(ctx context.Context, registers []models.Register) ([]*models.Measurement, int, error) {
	p.state.Store(int32(StateReading))
	defer p.state.CompareAndSwap(int32(StateReading), int32(StateConnected))

	limit := max(1, min(p.settings.MaxConcurrentReads, len(registers)))
	sem := semaphore.NewWeighted(int64(limit))

	results := make([]*models.Measurement, len(registers))
	errs := make([]error, len(registers))

	var wg sync.WaitGroup

	for i := range registers {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(registers); j++ {
				errs[j] = err
			}

			break
		}

		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)

			results[i], errs[i] = p.readOne(ctx, registers[i])
		}(i)
	}

	wg.Wait()

	batch := make([]*models.Measurement, 0, len(registers))

	var (
		failed  int
		lastErr error
	)

	for i, err := range errs {
		if err != nil {
			failed++
			lastErr = err
			p.logReadFailure(ctx, &registers[i], err)

			continue
		}

		batch = append(batch, results[i])
	}

	return batch, failed, lastErr
}

func (p *DevicePoller) readOne(ctx context.Context, reg models.Register) (m *models.Measurement, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("%w: %v", errReadPanic, r)
		}
	}()

	m, err = p.adapter.ReadRegister(ctx, reg)
	if err == nil && m == nil {
		err = errNilMeasurement
	}

	return m, err
}

func (p *DevicePoller) logReadFailure(ctx context.Context, reg *models.Register, err error) {
	if ctx.Err() != nil {
		return
	}

	event := p.logger.Debug()
	if p.readLogLimiter.Allow() {
		event = p.logger.Warn()
	}

	event.Err(err).
		Str("register_id", reg.ID).
		Str("address", reg.Address).
		Msg("Register read failed")
}

// evaluateAlarms runs the evaluator for every good reading. Evaluator failures are
// logged and never remove the measurement.
func (p *DevicePoller) evaluateAlarms(ctx context.Context, batch []*models.Measurement) {
	if p.deps.Evaluator == nil {
		return
	}

	for _, m := range batch {
		value, ok := m.Value()
		if !ok {
			continue
		}

		triggered, err := p.checkAlarm(ctx, m.RegisterID, value)
		if err != nil {
			p.logger.Error().Err(err).Str("register_id", m.RegisterID).Msg("Alarm evaluation failed")
		}

		m.IsAlarm = triggered
	}
}

func (p *DevicePoller) checkAlarm(ctx context.Context, registerID string, value float64) (triggered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			triggered, err = false, fmt.Errorf("%w: %v", errAlarmPanic, r)
		}
	}()

	return p.deps.Evaluator.CheckAndHandle(ctx, p.device.ID, registerID, value)
}

func (p *DevicePoller) handOff(batch []*models.Measurement) {
	if p.deps.Sink == nil || len(batch) == 0 {
		return
	}

	p.deps.Sink.Submit(batch)
	p.deps.Sink.PublishMeasurements(&p.device, batch)
}

// touchLastSeen writes last_seen at most once per LastSeenDebounce.
func (p *DevicePoller) touchLastSeen(ctx context.Context) {
	now := p.clock.Now()

	p.statusMu.Lock()
	if !p.lastTouch.IsZero() && now.Sub(p.lastTouch) < p.settings.LastSeenDebounce {
		p.statusMu.Unlock()
		return
	}

	p.lastTouch = now
	p.statusMu.Unlock()

	if p.deps.Status == nil {
		return
	}

	if err := p.deps.Status.TouchLastSeen(ctx, p.device.ID, now); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to update last seen")
	}
}

// setOnline persists and announces a connectivity flip. With force the store is
// written even when the flag is unchanged.
func (p *DevicePoller) setOnline(ctx context.Context, online bool, reason string, force bool) {
	want := onlineFalse
	if online {
		want = onlineTrue
	}

	now := p.clock.Now()

	p.statusMu.Lock()
	changed := p.online != want
	p.online = want

	if online {
		p.lastTouch = now
	}
	p.statusMu.Unlock()

	if !changed && !force {
		return
	}

	if p.deps.Status != nil {
		if err := p.deps.Status.SetOnline(ctx, p.device.ID, online, now); err != nil {
			p.logger.Warn().Err(err).Bool("online", online).Msg("Failed to persist device status")
		}
	}

	if !changed || p.deps.Sink == nil {
		return
	}

	data := models.ConnectivityEventData{
		DeviceID:  p.device.ID,
		Address:   p.device.Address,
		SubnetID:  p.device.SubnetID,
		Online:    online,
		Reason:    reason,
		Timestamp: now,
	}

	if online {
		data.LastSeen = &now
	}

	p.deps.Sink.PublishEvent(models.Event{
		Kind:      models.EventConnectivity,
		DeviceID:  p.device.ID,
		Timestamp: now,
		Data:      data,
	})
}
