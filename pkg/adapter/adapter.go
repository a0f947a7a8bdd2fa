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

//go:generate mockgen -destination=mock_adapter.go -package=adapter github.com/carverauto/plcgateway/pkg/adapter Adapter

// Package adapter implements the protocol drivers that read PLC registers.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

var (
	ErrUnsupportedProtocol     = errors.New("unsupported protocol")
	ErrUnsupportedDataType     = errors.New("unsupported data type")
	ErrUnsupportedRegisterType = errors.New("unsupported register type")
	ErrInvalidAddress          = errors.New("invalid register address")
	ErrNotConnected            = errors.New("adapter not connected")
	ErrShortPayload            = errors.New("payload shorter than data type")
	errDriverPanic             = errors.New("driver panic")
)

// Adapter is the uniform capability contract every protocol driver satisfies.
// Connect is idempotent and reports failure through its error. ReadRegister returns
// an error only for communication failures; payloads that cannot be decoded come
// back as a measurement with bad quality.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ReadRegister(ctx context.Context, reg models.Register) (*models.Measurement, error)
	IsConnected() bool
	Protocol() string
}

// Option customizes adapter construction.
type Option func(*options)

type options struct {
	log       logger.Logger
	simulator *Simulator
	now       func() time.Time
	drivers   map[string]driverFunc
}

// WithLogger sets the logger used by the adapter.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithSimulator shares a value generator between simulated adapters. Without it each
// adapter gets its own.
func WithSimulator(sim *Simulator) Option {
	return func(o *options) {
		o.simulator = sim
	}
}

// WithNow overrides the measurement timestamp source.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		log: logger.NewTestLogger(),
		now: time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.simulator == nil {
		o.simulator = NewSimulator()
	}

	if o.drivers == nil {
		o.drivers = defaultDrivers()
	}

	return o
}

// base carries the state shared by the concrete adapters.
type base struct {
	device    models.Device
	log       logger.Logger
	now       func() time.Time
	connected atomic.Bool
}

func newBase(device *models.Device, o *options) base {
	return base{
		device: *device,
		log:    o.log,
		now:    o.now,
	}
}

func (b *base) IsConnected() bool {
	return b.connected.Load()
}

func (b *base) hostPort(defaultPort int) string {
	port := b.device.Port
	if port <= 0 {
		port = defaultPort
	}

	return net.JoinHostPort(b.device.Address, strconv.Itoa(port))
}

func (b *base) timeout(fallback, minimum time.Duration) time.Duration {
	t := b.device.Timeout.Or(fallback)
	if t < minimum {
		return minimum
	}

	return t
}

// measurement converts a decoded reading into a Measurement, applying register scaling.
func (b *base) measurement(reg *models.Register, r reading) *models.Measurement {
	m := &models.Measurement{
		DeviceID:   b.device.ID,
		RegisterID: reg.ID,
		Timestamp:  b.now().UTC(),
		RawValue:   r.raw,
		Quality:    models.QualityGood,
		Unit:       reg.Unit,
	}

	scaled := reg.Scale(r.value)
	m.ValueFloat = &scaled

	if r.integer && scaled == r.value {
		i := int64(r.value)
		m.ValueInt = &i
	}

	return m
}

// badMeasurement records a payload that arrived but could not be decoded.
func (b *base) badMeasurement(reg *models.Register, raw string, err error) *models.Measurement {
	b.log.Debug().
		Str("device_id", b.device.ID).
		Str("register_id", reg.ID).
		Str("data_type", reg.DataType).
		Err(err).
		Msg("Register value could not be decoded")

	return &models.Measurement{
		DeviceID:   b.device.ID,
		RegisterID: reg.ID,
		Timestamp:  b.now().UTC(),
		RawValue:   raw,
		Quality:    models.QualityBad,
		Unit:       reg.Unit,
	}
}

// runBlocking runs a synchronous driver call off the caller's goroutine so that a
// cancelled context returns promptly. Driver panics are turned into errors.
func runBlocking(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", errDriverPanic, r)
			}
		}()

		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeIfCancelled closes a connection whose dial finished after ctx ended.
func closeIfCancelled(ctx context.Context, c io.Closer) error {
	if err := ctx.Err(); err != nil {
		_ = c.Close()
		return err
	}

	return nil
}

// isDecodeError reports errors that describe the register, not the link.
func isDecodeError(err error) bool {
	return errors.Is(err, ErrUnsupportedDataType) ||
		errors.Is(err, ErrUnsupportedRegisterType) ||
		errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrShortPayload)
}
