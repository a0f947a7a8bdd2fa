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

// Package alarm turns register values into alarm trigger and clear decisions and
// keeps at most one active instance per definition.
package alarm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/carverauto/plcgateway/pkg/models"
)

// Action is the outcome of evaluating one definition against one value.
type Action int

const (
	// ActionNone leaves the alarm state untouched.
	ActionNone Action = iota
	// ActionTrigger opens a new ACTIVE instance.
	ActionTrigger
	// ActionClear moves the ACTIVE instance to CLEARED.
	ActionClear
	// ActionRefresh records a new current value on an ACTIVE instance that stays in alarm.
	ActionRefresh
)

func (a Action) String() string {
	switch a {
	case ActionTrigger:
		return "trigger"
	case ActionClear:
		return "clear"
	case ActionRefresh:
		return "refresh"
	default:
		return "none"
	}
}

// Decision is returned by Evaluate.
type Decision struct {
	Action  Action
	Message string
}

// Evaluate decides what to do with value for def, given the definition's currently
// active instance (nil when none). It has no side effects.
//
// Clearing applies the deadband for above, below and outside_range. An inside_range
// alarm clears as soon as the value leaves [low, high]; the deadband does not apply.
func Evaluate(def *models.AlarmDefinition, value float64, active *models.AlarmInstance) Decision {
	if def == nil || math.IsNaN(value) {
		return Decision{}
	}

	inAlarm, message, ok := condition(def, value)
	if !ok {
		return Decision{}
	}

	if !active.Active() {
		if inAlarm {
			return Decision{Action: ActionTrigger, Message: message}
		}

		return Decision{}
	}

	if cleared(def, value) {
		return Decision{Action: ActionClear, Message: message}
	}

	if inAlarm {
		return Decision{Action: ActionRefresh, Message: message}
	}

	return Decision{}
}

// condition reports whether value is inside the alarm zone. ok is false when the
// definition lacks the thresholds its condition needs.
func condition(def *models.AlarmDefinition, v float64) (inAlarm bool, message string, ok bool) {
	switch def.Condition {
	case models.ConditionAbove:
		if def.Setpoint == nil {
			return false, "", false
		}

		sp := *def.Setpoint

		return v > sp, fmt.Sprintf("Value %s > setpoint %s", num(v), num(sp)), true
	case models.ConditionBelow:
		if def.Setpoint == nil {
			return false, "", false
		}

		sp := *def.Setpoint

		return v < sp, fmt.Sprintf("Value %s < setpoint %s", num(v), num(sp)), true
	case models.ConditionOutsideRange:
		if def.Low == nil || def.High == nil {
			return false, "", false
		}

		lo, hi := *def.Low, *def.High

		return v < lo || v > hi, fmt.Sprintf("Value %s outside [%s, %s]", num(v), num(lo), num(hi)), true
	case models.ConditionInsideRange:
		if def.Low == nil || def.High == nil {
			return false, "", false
		}

		lo, hi := *def.Low, *def.High

		return lo <= v && v <= hi, fmt.Sprintf("Value %s inside [%s, %s]", num(v), num(lo), num(hi)), true
	default:
		return false, "", false
	}
}

// cleared applies the clear rule of an active alarm. Thresholds are known to be set.
func cleared(def *models.AlarmDefinition, v float64) bool {
	db := def.Deadband

	switch def.Condition {
	case models.ConditionAbove:
		return v <= *def.Setpoint-db
	case models.ConditionBelow:
		return v >= *def.Setpoint+db
	case models.ConditionOutsideRange:
		return *def.Low+db <= v && v <= *def.High-db
	case models.ConditionInsideRange:
		return v < *def.Low || v > *def.High
	default:
		return false
	}
}

// num prints the shortest exact form of v, keeping ".0" on whole numbers
// (45 prints as 45.0, 21.75 as 21.75).
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) || strings.Contains(s, ".") {
		return s
	}

	return s + ".0"
}
