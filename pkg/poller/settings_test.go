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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/carverauto/plcgateway/pkg/models"
)

func TestSettingsFrom(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultSettings(), SettingsFrom(nil))

	s := SettingsFrom(&models.PollingConfig{
		MaxConcurrentReads: 4,
		Pacing:             models.Duration(2 * time.Second),
		BackoffMax:         models.Duration(time.Minute),
	})

	assert.Equal(t, 4, s.MaxConcurrentReads)
	assert.Equal(t, 2*time.Second, s.Pacing)
	assert.Equal(t, time.Minute, s.BackoffMax)
	assert.Equal(t, time.Second, s.BackoffInitial)
	assert.Equal(t, 5*time.Second, s.LastSeenDebounce)
}

func TestPacingPrefersDeviceInterval(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	device := testDevice()

	assert.Equal(t, time.Second, s.pacingFor(device))

	device.PollingInterval = models.Duration(3 * time.Second)
	assert.Equal(t, 3*time.Second, s.pacingFor(device))
}
