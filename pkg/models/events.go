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

package models

import "time"

// EventKind names the payload carried by an outbound event.
type EventKind string

const (
	EventMeasurementBatch EventKind = "measurement_batch"
	EventAlarm            EventKind = "alarm_event"
	EventConnectivity     EventKind = "connectivity_event"
)

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// MeasurementBatchEventData is published for every accepted read batch.
type MeasurementBatchEventData struct {
	DeviceID     string         `json:"plc_id"`
	Address      string         `json:"ip_address"`
	SubnetID     int            `json:"vlan_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Measurements []*Measurement `json:"measurements"`
}

// AlarmEventData is published on alarm trigger, clear and refresh.
type AlarmEventData struct {
	Action       string        `json:"action"`
	AlarmID      string        `json:"alarm_id"`
	DefinitionID string        `json:"alarm_definition_id"`
	DeviceID     string        `json:"plc_id"`
	RegisterID   string        `json:"register_id,omitempty"`
	State        AlarmState    `json:"state"`
	Priority     AlarmPriority `json:"priority"`
	Message      string        `json:"message"`
	Value        float64       `json:"value"`
	EmailEnabled bool          `json:"email_enabled"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ConnectivityEventData is published when a device goes online or offline.
type ConnectivityEventData struct {
	DeviceID  string     `json:"plc_id"`
	Address   string     `json:"ip_address"`
	SubnetID  int        `json:"vlan_id"`
	Online    bool       `json:"is_online"`
	Reason    string     `json:"reason,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Event is the unit queued for publication on the bus.
type Event struct {
	Kind      EventKind
	DeviceID  string
	Timestamp time.Time
	Data      interface{}
}
