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

// Quality flags for a measurement.
const (
	QualityGood = "good"
	QualityBad  = "bad"
)

// Measurement is the record produced by one register read.
type Measurement struct {
	DeviceID   string    `json:"plc_id"`
	RegisterID string    `json:"register_id"`
	Timestamp  time.Time `json:"timestamp"`
	RawValue   string    `json:"raw_value"`
	ValueFloat *float64  `json:"value_float,omitempty"`
	ValueInt   *int64    `json:"value_int,omitempty"`
	Quality    string    `json:"quality"`
	Unit       string    `json:"unit,omitempty"`
	IsAlarm    bool      `json:"is_alarm"`
}

// Good reports whether the measurement carries a usable value.
func (m *Measurement) Good() bool {
	return m.Quality == QualityGood
}

// Value returns the converted numeric value of a good measurement.
func (m *Measurement) Value() (float64, bool) {
	if !m.Good() {
		return 0, false
	}

	switch {
	case m.ValueFloat != nil:
		return *m.ValueFloat, true
	case m.ValueInt != nil:
		return float64(*m.ValueInt), true
	default:
		return 0, false
	}
}
