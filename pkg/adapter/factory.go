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
	"fmt"

	"github.com/carverauto/plcgateway/pkg/models"
)

// Canonical protocol names.
const (
	ProtocolModbus = "modbus"
	ProtocolOPCUA  = "opcua"
	ProtocolS7     = "s7"
	ProtocolSNMP   = "snmp"
	ProtocolIEC104 = "iec104"
	ProtocolENIP   = "enip"
)

var protocolAliases = map[string]string{
	"modbus":      ProtocolModbus,
	"modbus-tcp":  ProtocolModbus,
	"modbustcp":   ProtocolModbus,
	"opcua":       ProtocolOPCUA,
	"opc-ua":      ProtocolOPCUA,
	"opc_ua":      ProtocolOPCUA,
	"s7":          ProtocolS7,
	"siemens":     ProtocolS7,
	"snmp":        ProtocolSNMP,
	"iec104":      ProtocolIEC104,
	"iec-104":     ProtocolIEC104,
	"enip":        ProtocolENIP,
	"ethernet-ip": ProtocolENIP,
}

type driverFunc func(device *models.Device, o *options) Adapter

// defaultDrivers maps canonical protocols to their network drivers. Known protocols
// without an entry are served by the simulator.
func defaultDrivers() map[string]driverFunc {
	return map[string]driverFunc{
		ProtocolModbus: newModbusAdapter,
		ProtocolOPCUA:  newOPCUAAdapter,
		ProtocolS7:     newS7Adapter,
		ProtocolSNMP:   newSNMPAdapter,
	}
}

// CanonicalProtocol resolves a configured protocol, with or without the -sim suffix.
func CanonicalProtocol(protocol string) (string, bool) {
	d := models.Device{Protocol: protocol}
	p, ok := protocolAliases[d.BaseProtocol()]

	return p, ok
}

// New resolves the adapter variant for a device. Simulated devices, and known
// protocols that have no network driver, get a SimulatedAdapter.
func New(device *models.Device, opts ...Option) (Adapter, error) {
	o := newOptions(opts)

	protocol, ok := CanonicalProtocol(device.Protocol)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, device.Protocol)
	}

	if device.Simulated() {
		return newSimulatedAdapter(protocol, device, o), nil
	}

	driver, ok := o.drivers[protocol]
	if !ok {
		o.log.Warn().
			Str("device_id", device.ID).
			Str("protocol", protocol).
			Msg("No driver available for protocol, falling back to simulation")

		return newSimulatedAdapter(protocol, device, o), nil
	}

	return driver(device, o), nil
}
