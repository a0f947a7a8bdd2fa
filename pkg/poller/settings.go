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
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	defaultMaxConcurrentReads = 16
	defaultPacing             = time.Second
	defaultBackoffInitial     = time.Second
	defaultBackoffMax         = 30 * time.Second
	defaultLastSeenDebounce   = 5 * time.Second
	statusWriteTimeout        = 5 * time.Second
)

// Settings are the resolved timing and concurrency knobs of a poller.
type Settings struct {
	MaxConcurrentReads int
	Pacing             time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	LastSeenDebounce   time.Duration
}

// DefaultSettings returns 16 concurrent reads, 1s pacing, 1s..30s backoff and a 5s
// last-seen debounce.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentReads: defaultMaxConcurrentReads,
		Pacing:             defaultPacing,
		BackoffInitial:     defaultBackoffInitial,
		BackoffMax:         defaultBackoffMax,
		LastSeenDebounce:   defaultLastSeenDebounce,
	}
}

// SettingsFrom overlays the configured values on the defaults.
func SettingsFrom(cfg *models.PollingConfig) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}

	if cfg.MaxConcurrentReads > 0 {
		s.MaxConcurrentReads = cfg.MaxConcurrentReads
	}

	s.Pacing = cfg.Pacing.Or(s.Pacing)
	s.BackoffMax = cfg.BackoffMax.Or(s.BackoffMax)
	s.LastSeenDebounce = cfg.LastSeenDebounce.Or(s.LastSeenDebounce)

	return s
}

// pacingFor prefers the device's own polling interval.
func (s Settings) pacingFor(device *models.Device) time.Duration {
	return device.PollingInterval.Or(s.Pacing)
}

// reconnectBackoff doubles from BackoffInitial up to BackoffMax without jitter.
// pending is the wait the next failure will incur.
type reconnectBackoff struct {
	b       *backoff.ExponentialBackOff
	initial time.Duration
	max     time.Duration
	pending time.Duration
}

func newReconnectBackoff(initial, maxInterval time.Duration) *reconnectBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	return &reconnectBackoff{b: b, initial: initial, max: maxInterval, pending: initial}
}

// next returns the wait for this failure and advances the pending value.
func (r *reconnectBackoff) next() time.Duration {
	wait := r.b.NextBackOff()
	r.pending = min(time.Duration(float64(wait)*r.b.Multiplier), r.max)

	return wait
}

func (r *reconnectBackoff) reset() {
	r.b.Reset()
	r.pending = r.initial
}
