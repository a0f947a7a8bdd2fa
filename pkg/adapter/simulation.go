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

package adapter

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	simSpan      = 10.0
	simPrecision = 1000.0
)

type simKey struct {
	protocol   string
	identifier string
}

type simEntry struct {
	value     float64
	step      float64
	direction float64
	min       float64
	max       float64
	dataType  string
	fixed     bool
}

// Simulator produces deterministic, slowly drifting register values keyed by
// protocol and register identifier.
type Simulator struct {
	mu      sync.Mutex
	entries map[simKey]*simEntry
}

// NewSimulator returns an empty registry.
func NewSimulator() *Simulator {
	return &Simulator{entries: make(map[simKey]*simEntry)}
}

// Next advances the signal for reg and returns its new value.
func (s *Simulator) Next(protocol string, reg *models.Register) float64 {
	key := simKey{protocol: protocol, identifier: reg.Identifier()}

	dataType, ok := CanonicalDataType(reg.DataType)
	if !ok {
		dataType = TypeFloat64
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = newSimEntry(key, dataType)
		s.entries[key] = e
	}

	if e.fixed {
		return e.value
	}

	return e.advance()
}

// SetStaticValue pins a signal to value until Clear is called.
func (s *Simulator) SetStaticValue(protocol, identifier string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[simKey{protocol: protocol, identifier: identifier}] = &simEntry{
		value: value,
		min:   value,
		max:   value,
		fixed: true,
	}
}

// Clear drops every signal.
func (s *Simulator) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[simKey]*simEntry)
}

func simSeed(key simKey) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.protocol))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.identifier))

	return h.Sum32() % 1000
}

func newSimEntry(key simKey, dataType string) *simEntry {
	seed := simSeed(key)
	base := 10 + float64(seed%25)
	step := 0.5 + float64(seed%10)*0.05

	e := &simEntry{
		value:     base,
		step:      step,
		direction: 1,
		min:       base - simSpan,
		max:       base + simSpan,
		dataType:  dataType,
	}

	switch dataType {
	case TypeBool:
		e.value = float64(seed % 2)
		e.step = 1
		e.min, e.max = 0, 1
	case TypeByte, TypeInt16, TypeUint16, TypeInt32, TypeUint32:
		e.step = math.Max(1, math.Floor(step))
	}

	return e
}

func (e *simEntry) advance() float64 {
	if e.dataType == TypeBool {
		if e.value != 0 {
			e.value = 0
		} else {
			e.value = 1
		}

		return e.value
	}

	e.value += e.step * e.direction
	if e.value >= e.max || e.value <= e.min {
		e.direction = -e.direction
		e.value = math.Max(math.Min(e.value, e.max), e.min)
	}

	switch e.dataType {
	case TypeByte, TypeInt16, TypeUint16, TypeInt32, TypeUint32:
		return math.Round(e.value)
	default:
		return math.Round(e.value*simPrecision) / simPrecision
	}
}

// SimulatedAdapter serves register reads from a Simulator instead of the network.
type SimulatedAdapter struct {
	base

	protocol string
	sim      *Simulator
}

func newSimulatedAdapter(protocol string, device *models.Device, o *options) Adapter {
	return &SimulatedAdapter{
		base:     newBase(device, o),
		protocol: protocol,
		sim:      o.simulator,
	}
}

// Protocol reports the emulated protocol with the -sim suffix.
func (a *SimulatedAdapter) Protocol() string { return a.protocol + models.SimSuffix }

func (a *SimulatedAdapter) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !a.connected.Swap(true) {
		a.log.Info().Str("device_id", a.device.ID).Str("protocol", a.Protocol()).Msg("Simulated adapter connected")
	}

	return nil
}

func (a *SimulatedAdapter) Disconnect(_ context.Context) error {
	a.connected.Store(false)

	return nil
}

func (a *SimulatedAdapter) ReadRegister(ctx context.Context, reg models.Register) (*models.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !a.connected.Load() {
		return nil, ErrNotConnected
	}

	r, err := coerce(reg.DataType, a.sim.Next(a.protocol, &reg))
	if err != nil {
		return a.badMeasurement(&reg, r.raw, err), nil
	}

	return a.measurement(&reg, r), nil
}
