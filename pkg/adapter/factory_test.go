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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/models"
)

func TestNewResolvesVariant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		protocol  string
		simulated bool
		want      any
		name      string
	}{
		{"modbus", false, &ModbusAdapter{}, "modbus"},
		{"Modbus-TCP", false, &ModbusAdapter{}, "modbus"},
		{"opc-ua", false, &OPCUAAdapter{}, "opcua"},
		{"siemens", false, &S7Adapter{}, "s7"},
		{"snmp", false, &SNMPAdapter{}, "snmp"},
		{"modbus-sim", false, &SimulatedAdapter{}, "modbus-sim"},
		{"opcua", true, &SimulatedAdapter{}, "opcua-sim"},
		{"iec104", false, &SimulatedAdapter{}, "iec104-sim"},
	}

	for _, tt := range tests {
		a, err := New(&models.Device{Protocol: tt.protocol, UseSimulation: tt.simulated})
		require.NoError(t, err, tt.protocol)
		assert.IsType(t, tt.want, a, tt.protocol)
		assert.Equal(t, tt.name, a.Protocol(), tt.protocol)
		assert.False(t, a.IsConnected(), tt.protocol)
	}
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	t.Parallel()

	_, err := New(&models.Device{Protocol: "profinet"})
	require.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestNewFallsBackToSimulationWithoutDriver(t *testing.T) {
	t.Parallel()

	o := newOptions(nil)
	delete(o.drivers, ProtocolS7)

	a, err := New(&models.Device{Protocol: "s7"}, func(dst *options) { dst.drivers = o.drivers })
	require.NoError(t, err)
	assert.IsType(t, &SimulatedAdapter{}, a)
}

func TestOPCUAEndpoint(t *testing.T) {
	t.Parallel()

	a := newOPCUAAdapter(&models.Device{Address: "10.1.1.1"}, newOptions(nil)).(*OPCUAAdapter)
	assert.Equal(t, "opc.tcp://10.1.1.1:4840", a.endpoint())

	a = newOPCUAAdapter(&models.Device{Address: "10.1.1.1", Endpoint: "opc.tcp://plc:4841/ua"}, newOptions(nil)).(*OPCUAAdapter)
	assert.Equal(t, "opc.tcp://plc:4841/ua", a.endpoint())
}
