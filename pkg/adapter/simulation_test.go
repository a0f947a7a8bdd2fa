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
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/models"
)

func TestSimulatedInt16StaysInSignedRange(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	dev := &models.Device{ID: "sim-1", Protocol: "modbus-sim"}

	a, err := New(dev, WithSimulator(sim))
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background()))

	for i := 0; i < 50; i++ {
		reg := models.Register{ID: fmt.Sprintf("r%d", i), Address: fmt.Sprint(i), DataType: "int16"}

		for step := 0; step < 200; step++ {
			m, err := a.ReadRegister(context.Background(), reg)
			require.NoError(t, err)
			require.Equal(t, models.QualityGood, m.Quality)
			require.NotNil(t, m.ValueInt)
			assert.GreaterOrEqual(t, *m.ValueInt, int64(math.MinInt16))
			assert.LessOrEqual(t, *m.ValueInt, int64(math.MaxInt16))
		}
	}
}

func TestSimulatorIsDeterministicAndBounded(t *testing.T) {
	t.Parallel()

	reg := &models.Register{ID: "temp", DataType: "float"}
	a, b := NewSimulator(), NewSimulator()

	key := simKey{protocol: "opcua", identifier: "temp"}
	seed := simSeed(key)
	base := 10 + float64(seed%25)

	for i := 0; i < 100; i++ {
		va := a.Next("opcua", reg)
		assert.InDelta(t, va, b.Next("opcua", reg), 0)
		assert.GreaterOrEqual(t, va, base-simSpan)
		assert.LessOrEqual(t, va, base+simSpan)
		assert.InDelta(t, va, math.Round(va*1000)/1000, 1e-9)
	}
}

func TestSimulatorIntegerStep(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	reg := &models.Register{ID: "count", DataType: "uint16"}

	prev := sim.Next("s7", reg)
	for i := 0; i < 20; i++ {
		next := sim.Next("s7", reg)
		assert.InDelta(t, next, math.Round(next), 0)
		assert.GreaterOrEqual(t, math.Abs(next-prev), 1.0)
		prev = next
	}
}

func TestSimulatorBoolToggles(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	reg := &models.Register{ID: "run", DataType: "bool"}

	first := sim.Next("modbus", reg)
	second := sim.Next("modbus", reg)
	third := sim.Next("modbus", reg)

	assert.InDelta(t, 1-first, second, 0)
	assert.InDelta(t, first, third, 0)
}

func TestSimulatorStaticValue(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	sim.SetStaticValue("modbus", "pressure", 45)

	reg := &models.Register{ID: "pressure"}
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 45, sim.Next("modbus", reg), 0)
	}

	sim.Clear()
	assert.NotEqual(t, 45.0, sim.Next("modbus", reg))
}

func TestSimulatedAdapterRequiresConnect(t *testing.T) {
	t.Parallel()

	a, err := New(&models.Device{Protocol: "s7", UseSimulation: true}, WithSimulator(NewSimulator()))
	require.NoError(t, err)
	assert.Equal(t, "s7-sim", a.Protocol())

	_, err = a.ReadRegister(context.Background(), models.Register{ID: "x"})
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, a.Connect(context.Background()))
	assert.True(t, a.IsConnected())

	m, err := a.ReadRegister(context.Background(), models.Register{ID: "x", DataType: "struct"})
	require.NoError(t, err)
	assert.Equal(t, models.QualityBad, m.Quality)

	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsConnected())
}
