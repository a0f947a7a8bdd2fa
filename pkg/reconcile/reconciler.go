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

// Package reconcile keeps the poller registry in line with the configured device set.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
	"github.com/carverauto/plcgateway/pkg/poller"
)

const defaultInterval = 10 * time.Second

var (
	errNilSource   = errors.New("device source is required")
	errNilRegistry = errors.New("poller registry is required")
	errNotStarted  = errors.New("reconciler not started")
)

// DeviceSource lists the devices that should be polled.
type DeviceSource interface {
	ListActiveDevices(ctx context.Context) ([]*models.Device, error)
}

// Registry is the subset of poller.Manager the reconciler drives.
type Registry interface {
	AddDevice(ctx context.Context, device *models.Device, provider poller.RegisterProvider) bool
	RemoveDevice(ctx context.Context, address string, subnetID int) bool
	Keys() []string
}

// ProviderFunc builds the register provider for a device.
type ProviderFunc func(device *models.Device) poller.RegisterProvider

// RegisterLister loads the active registers of a device.
type RegisterLister interface {
	ListActiveRegisters(ctx context.Context, deviceID string) ([]models.Register, error)
}

// RegistersFrom returns a ProviderFunc that reloads registers from l on every cycle.
func RegistersFrom(l RegisterLister) ProviderFunc {
	return func(device *models.Device) poller.RegisterProvider {
		id := device.ID

		return func(ctx context.Context) ([]models.Register, error) {
			return l.ListActiveRegisters(ctx, id)
		}
	}
}

// Result summarizes one reconciliation pass.
type Result struct {
	Added     int
	Removed   int
	Restarted int
	Skipped   int
}

// Changed reports whether the pass touched the registry.
func (r Result) Changed() bool {
	return r.Added+r.Removed+r.Restarted > 0
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInterval sets the period between passes.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock replaces the wall clock; used by tests.
func WithClock(c poller.Clock) Option {
	return func(r *Reconciler) {
		r.clock = c
	}
}

// Reconciler periodically diffs the device source against the registry. When
// polling is disabled only simulated devices keep a poller.
type Reconciler struct {
	source      DeviceSource
	registry    Registry
	providerFor ProviderFunc
	interval    time.Duration
	clock       poller.Clock
	logger      logger.Logger

	enabled atomic.Bool
	trigger chan struct{}

	// passMu serializes passes and guards fingerprints.
	passMu       sync.Mutex
	fingerprints map[string]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a reconciler. enabled is the initial state of the global switch.
func New(source DeviceSource, registry Registry, providerFor ProviderFunc, enabled bool, log logger.Logger, opts ...Option) (*Reconciler, error) {
	if source == nil {
		return nil, errNilSource
	}

	if registry == nil {
		return nil, errNilRegistry
	}

	r := &Reconciler{
		source:       source,
		registry:     registry,
		providerFor:  providerFor,
		interval:     defaultInterval,
		clock:        poller.RealClock{},
		logger:       log,
		trigger:      make(chan struct{}, 1),
		fingerprints: make(map[string]string),
	}

	r.enabled.Store(enabled)

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Enabled reports the global polling switch.
func (r *Reconciler) Enabled() bool {
	return r.enabled.Load()
}

// SetEnabled flips the global polling switch and schedules an immediate pass.
func (r *Reconciler) SetEnabled(enabled bool) {
	if r.enabled.Swap(enabled) == enabled {
		return
	}

	r.logger.Info().Bool("enabled", enabled).Msg("Polling switch changed")
	r.Trigger()
}

// Trigger requests a pass without waiting for the next interval. Requests made
// while one is pending are coalesced.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start runs a first pass and then reconciles every interval until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		r.run(runCtx)
	}()

	r.logger.Info().
		Dur("interval", r.interval).
		Bool("enabled", r.Enabled()).
		Msg("Device reconciler started")

	return nil
}

// Stop ends the loop and waits for an in-flight pass to finish. Running pollers
// are left to their registry.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return errNotStarted
	}

	r.cancel()

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for reconciler: %w", ctx.Err())
	}
}

func (r *Reconciler) run(ctx context.Context) {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-r.trigger:
		}

		r.pass(ctx)
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	res, err := r.Reconcile(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Device reconciliation failed")
		}

		return
	}

	if res.Changed() {
		r.logger.Info().
			Int("added", res.Added).
			Int("removed", res.Removed).
			Int("restarted", res.Restarted).
			Int("skipped", res.Skipped).
			Msg("Device pollers reconciled")
	}
}

// Reconcile performs one pass: pollers for devices no longer wanted are removed,
// pollers whose device configuration changed are restarted and missing ones are
// added. A failed listing leaves the registry untouched.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var res Result

	devices, err := r.source.ListActiveDevices(ctx)
	if err != nil {
		return res, fmt.Errorf("listing active devices: %w", err)
	}

	desired, skipped := r.desiredDevices(devices)
	res.Skipped = skipped

	for _, key := range r.registry.Keys() {
		device, wanted := desired[key]
		if !wanted {
			if r.remove(ctx, key) {
				res.Removed++
			}

			continue
		}

		fp := device.Fingerprint()

		known, tracked := r.fingerprints[key]
		if !tracked {
			r.fingerprints[key] = fp
		} else if known != fp {
			r.logger.Info().Str("device_key", key).Str("device_id", device.ID).Msg("Device configuration changed, restarting poller")

			r.remove(ctx, key)

			if r.add(ctx, device) {
				res.Restarted++
			}
		}

		delete(desired, key)
	}

	for _, device := range desired {
		if r.add(ctx, device) {
			res.Added++
		}
	}

	return res, nil
}

// desiredDevices indexes devices by key. With polling disabled hardware devices are
// left out; the first device wins a duplicate key.
func (r *Reconciler) desiredDevices(devices []*models.Device) (map[string]*models.Device, int) {
	enabled := r.Enabled()
	desired := make(map[string]*models.Device, len(devices))
	skipped := 0

	for _, device := range devices {
		if device == nil {
			continue
		}

		if !enabled && !device.Simulated() {
			skipped++
			continue
		}

		key := device.Key()
		if prev, dup := desired[key]; dup {
			r.logger.Warn().
				Str("device_key", key).
				Str("device_id", device.ID).
				Str("kept_device_id", prev.ID).
				Msg("Duplicate device key, ignoring device")

			skipped++

			continue
		}

		desired[key] = device
	}

	return desired, skipped
}

func (r *Reconciler) add(ctx context.Context, device *models.Device) bool {
	var provider poller.RegisterProvider
	if r.providerFor != nil {
		provider = r.providerFor(device)
	}

	if provider == nil {
		provider = noRegisters
	}

	if !r.registry.AddDevice(ctx, device, provider) {
		return false
	}

	r.fingerprints[device.Key()] = device.Fingerprint()

	return true
}

func (r *Reconciler) remove(ctx context.Context, key string) bool {
	delete(r.fingerprints, key)

	address, subnetID, ok := models.SplitDeviceKey(key)
	if !ok {
		r.logger.Warn().Str("device_key", key).Msg("Malformed device key in registry")
		return false
	}

	return r.registry.RemoveDevice(ctx, address, subnetID)
}

func noRegisters(context.Context) ([]models.Register, error) {
	return nil, nil
}
