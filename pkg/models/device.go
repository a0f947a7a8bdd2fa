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

// Package models holds the data types shared by the gateway packages.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SimSuffix marks a protocol as served by the simulator.
const SimSuffix = "-sim"

// Device is a polled PLC. The engine only writes IsOnline and LastSeen.
type Device struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Address         string            `json:"ip_address"`
	SubnetID        int               `json:"vlan_id"`
	Protocol        string            `json:"protocol"`
	Port            int               `json:"port,omitempty"`
	UnitID          int               `json:"unit_id,omitempty"`
	RackSlot        string            `json:"rack_slot,omitempty"`
	Endpoint        string            `json:"endpoint,omitempty"`
	Community       string            `json:"community,omitempty"`
	Timeout         Duration          `json:"timeout,omitempty"`
	PollingInterval Duration          `json:"polling_interval,omitempty"`
	RetryCount      int               `json:"retry_count,omitempty"`
	UseSimulation   bool              `json:"use_simulation"`
	IsActive        bool              `json:"is_active"`
	IsOnline        bool              `json:"is_online"`
	LastSeen        *time.Time        `json:"last_seen,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// DeviceKey builds the registry key for a device: "address|subnet".
func DeviceKey(address string, subnetID int) string {
	return fmt.Sprintf("%s|%d", address, subnetID)
}

// SplitDeviceKey is the inverse of DeviceKey.
func SplitDeviceKey(key string) (address string, subnetID int, ok bool) {
	idx := strings.LastIndex(key, "|")
	if idx < 0 {
		return "", 0, false
	}

	if _, err := fmt.Sscanf(key[idx+1:], "%d", &subnetID); err != nil {
		return "", 0, false
	}

	return key[:idx], subnetID, true
}

// Key returns the registry key of the device.
func (d *Device) Key() string {
	return DeviceKey(d.Address, d.SubnetID)
}

// BaseProtocol returns the lower-cased protocol with any "-sim" suffix removed.
func (d *Device) BaseProtocol() string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d.Protocol)), SimSuffix)
}

// Simulated reports whether the device should be served by a value generator.
func (d *Device) Simulated() bool {
	return d.UseSimulation || strings.HasSuffix(strings.ToLower(strings.TrimSpace(d.Protocol)), SimSuffix)
}

// Fingerprint summarizes the device identity and connection-relevant configuration.
// Two devices with the same key but different fingerprints need their poller restarted.
func (d *Device) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s|%d|%d|%t",
		d.ID, d.BaseProtocol(), d.Port, d.UnitID, d.RackSlot, d.Endpoint, d.Community,
		d.Timeout, d.PollingInterval, d.Simulated())
}

// Register types understood by the adapters.
const (
	RegisterHolding  = "holding"
	RegisterInput    = "input"
	RegisterCoil     = "coil"
	RegisterDiscrete = "discrete"
)

// Register is one addressable data point on a device.
type Register struct {
	ID            string   `json:"id"`
	DeviceID      string   `json:"plc_id"`
	Slave         *int     `json:"slave,omitempty"`
	Name          string   `json:"name"`
	Tag           string   `json:"tag,omitempty"`
	Address       string   `json:"address"`
	RegisterType  string   `json:"register_type,omitempty"`
	DataType      string   `json:"data_type"`
	Length        int      `json:"length,omitempty"`
	ScaleFactor   float64  `json:"scale_factor"`
	Offset        float64  `json:"offset"`
	Unit          string   `json:"unit,omitempty"`
	DecimalPlaces *int     `json:"decimal_places,omitempty"`
	Min           *float64 `json:"min_value,omitempty"`
	Max           *float64 `json:"max_value,omitempty"`
	IsActive      bool     `json:"is_active"`
}

// Identifier is the stable identity used to key simulated values.
func (r *Register) Identifier() string {
	if r.ID != "" {
		return r.ID
	}

	return r.Address
}

// Scale applies the register's scale factor, offset and rounding to a raw value.
func (r *Register) Scale(v float64) float64 {
	factor := r.ScaleFactor
	if factor == 0 {
		factor = 1
	}

	out := v*factor + r.Offset

	if r.DecimalPlaces != nil && *r.DecimalPlaces >= 0 {
		p := math.Pow(10, float64(*r.DecimalPlaces))
		out = math.Round(out*p) / p
	}

	return out
}
