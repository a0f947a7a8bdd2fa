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

package alarm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	alarmMeterName       = "plcgateway.alarm"
	metricAlarmTriggered = "plcgateway.alarm.triggered"
	metricAlarmCleared   = "plcgateway.alarm.cleared"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	alarmMetricsOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	triggeredCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	clearedCounter metric.Int64Counter
)

func initAlarmMetrics() {
	meter := otel.Meter(alarmMeterName)

	if counter, err := meter.Int64Counter(
		metricAlarmTriggered,
		metric.WithDescription("Alarm instances opened"),
	); err != nil {
		otel.Handle(err)
	} else {
		triggeredCounter = counter
	}

	if counter, err := meter.Int64Counter(
		metricAlarmCleared,
		metric.WithDescription("Alarm instances cleared"),
	); err != nil {
		otel.Handle(err)
	} else {
		clearedCounter = counter
	}
}

func recordTransition(ctx context.Context, action Action, priority models.AlarmPriority) {
	alarmMetricsOnce.Do(initAlarmMetrics)

	attrs := metric.WithAttributes(attribute.String("priority", string(priority)))

	switch action {
	case ActionTrigger:
		if triggeredCounter != nil {
			triggeredCounter.Add(ctx, 1, attrs)
		}
	case ActionClear:
		if clearedCounter != nil {
			clearedCounter.Add(ctx, 1, attrs)
		}
	case ActionNone, ActionRefresh:
	}
}
