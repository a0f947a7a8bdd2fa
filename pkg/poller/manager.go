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
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

// Manager is the registry of running device pollers keyed by "address|subnet".
// It holds no enablement policy.
type Manager struct {
	factory  AdapterFactory
	deps     Deps
	settings Settings
	logger   logger.Logger

	mu      sync.Mutex
	pollers map[string]*DevicePoller
}

// NewManager creates an empty registry.
func NewManager(factory AdapterFactory, deps Deps, settings Settings, log logger.Logger) *Manager {
	return &Manager{
		factory:  factory,
		deps:     deps,
		settings: settings,
		logger:   log,
		pollers:  make(map[string]*DevicePoller),
	}
}

// AddDevice starts a poller for the device unless one already exists for its key.
// The poller outlives ctx's cancellation and runs until removed.
func (m *Manager) AddDevice(ctx context.Context, device *models.Device, provider RegisterProvider) bool {
	key := device.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pollers[key]; exists {
		return false
	}

	adp, err := m.factory(device)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("device_id", device.ID).
			Str("protocol", device.Protocol).
			Msg("Cannot build adapter for device")

		return false
	}

	p := NewDevicePoller(device, adp, provider, m.deps, m.settings, m.logger)
	m.pollers[key] = p
	p.Start(context.WithoutCancel(ctx))

	m.logger.Info().
		Str("device_key", key).
		Str("device_id", device.ID).
		Str("protocol", adp.Protocol()).
		Msg("Added device poller")

	return true
}

// RemoveDevice stops and removes the poller for the device. The registry lock is
// released before the poller is stopped.
func (m *Manager) RemoveDevice(ctx context.Context, address string, subnetID int) bool {
	key := models.DeviceKey(address, subnetID)

	m.mu.Lock()
	p, exists := m.pollers[key]
	delete(m.pollers, key)
	m.mu.Unlock()

	if !exists {
		return false
	}

	if err := p.Stop(ctx); err != nil {
		m.logger.Warn().Err(err).Str("device_key", key).Msg("Device poller did not stop cleanly")
	}

	m.logger.Info().Str("device_key", key).Msg("Removed device poller")

	return true
}

// Shutdown stops every poller concurrently and waits for all of them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	pollers := m.pollers
	m.pollers = make(map[string]*DevicePoller)
	m.mu.Unlock()

	var g errgroup.Group

	for _, p := range pollers {
		g.Go(func() error {
			return p.Stop(ctx)
		})
	}

	err := g.Wait()

	m.logger.Info().Int("stopped", len(pollers)).Msg("Polling manager shut down")

	return err
}

// Get returns the poller registered under key.
func (m *Manager) Get(key string) (*DevicePoller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pollers[key]

	return p, ok
}

// Keys returns the registered device keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.pollers))

	for key := range m.pollers {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	sort.Strings(keys)

	return keys
}

// Len returns the number of registered pollers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pollers)
}
