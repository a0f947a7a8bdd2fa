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

//go:generate mockgen -destination=mock_poller.go -package=poller github.com/carverauto/plcgateway/pkg/poller StatusStore,Sink

import (
	"context"
	"time"

	"github.com/carverauto/plcgateway/pkg/adapter"
	"github.com/carverauto/plcgateway/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// RegisterProvider returns the registers to read on the next cycle.
type RegisterProvider func(ctx context.Context) ([]models.Register, error)

// StatusStore persists device connectivity.
type StatusStore interface {
	SetOnline(ctx context.Context, deviceID string, online bool, at time.Time) error
	TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error
}

// Sink receives the output of a read cycle. Implementations must not block.
type Sink interface {
	Submit(batch []*models.Measurement)
	PublishMeasurements(device *models.Device, batch []*models.Measurement)
	PublishEvent(event models.Event)
}

// AdapterFactory builds the protocol adapter for a device.
type AdapterFactory func(device *models.Device) (adapter.Adapter, error)
