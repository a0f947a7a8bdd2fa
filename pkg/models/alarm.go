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

// AlarmCondition is the triggering predicate of a definition.
type AlarmCondition string

const (
	ConditionAbove        AlarmCondition = "above"
	ConditionBelow        AlarmCondition = "below"
	ConditionOutsideRange AlarmCondition = "outside_range"
	ConditionInsideRange  AlarmCondition = "inside_range"
)

// AlarmPriority orders alarms for operators.
type AlarmPriority string

const (
	PriorityLow      AlarmPriority = "LOW"
	PriorityMedium   AlarmPriority = "MEDIUM"
	PriorityHigh     AlarmPriority = "HIGH"
	PriorityCritical AlarmPriority = "CRITICAL"
)

// AlarmState is the lifecycle state of an instance.
type AlarmState string

const (
	AlarmStateActive  AlarmState = "ACTIVE"
	AlarmStateCleared AlarmState = "CLEARED"
)

// AlarmDefinition is a configured rule turning a register value into an alarm.
// A definition without RegisterID matches no reading.
type AlarmDefinition struct {
	ID           string         `json:"id"`
	DeviceID     string         `json:"plc_id"`
	RegisterID   string         `json:"register_id,omitempty"`
	Name         string         `json:"name"`
	Condition    AlarmCondition `json:"condition"`
	Setpoint     *float64       `json:"setpoint,omitempty"`
	Low          *float64       `json:"low_limit,omitempty"`
	High         *float64       `json:"high_limit,omitempty"`
	Deadband     float64        `json:"deadband"`
	Priority     AlarmPriority  `json:"priority"`
	Severity     string         `json:"severity,omitempty"`
	EmailEnabled bool           `json:"email_enabled"`
	IsActive     bool           `json:"is_active"`
}

// PriorityOrDefault returns the configured priority or MEDIUM.
func (d *AlarmDefinition) PriorityOrDefault() AlarmPriority {
	if d.Priority == "" {
		return PriorityMedium
	}

	return d.Priority
}

// AlarmInstance records one occurrence of a definition having fired.
type AlarmInstance struct {
	ID            string        `json:"id"`
	DefinitionID  string        `json:"alarm_definition_id"`
	DeviceID      string        `json:"plc_id"`
	RegisterID    string        `json:"register_id,omitempty"`
	State         AlarmState    `json:"state"`
	Priority      AlarmPriority `json:"priority"`
	Message       string        `json:"message"`
	TriggerValue  float64       `json:"trigger_value"`
	CurrentValue  float64       `json:"current_value"`
	TriggeredAt   time.Time     `json:"triggered_at"`
	ClearedAt     *time.Time    `json:"cleared_at,omitempty"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
}

// Active reports whether the instance is in the ACTIVE state.
func (a *AlarmInstance) Active() bool {
	return a != nil && a.State == AlarmStateActive
}
