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

package poller

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	pollerInstrumentation = "plcgateway.poller"

	metricReads         = "plcgateway.poller.reads"
	metricReadFailures  = "plcgateway.poller.read_failures"
	metricCycleDuration = "plcgateway.poller.cycle.duration"
	metricReconnects    = "plcgateway.poller.reconnects"
	metricActivePollers = "plcgateway.poller.active"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	pollerMetricsOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	readsCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	readFailuresCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	cycleHistogram metric.Float64Histogram
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	reconnectCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	activePollers metric.Int64UpDownCounter
)

func initPollerMetrics() {
	meter := otel.Meter(pollerInstrumentation)

	var err error

	if readsCounter, err = meter.Int64Counter(
		metricReads,
		metric.WithDescription("Successful register reads"),
	); err != nil {
		otel.Handle(err)
	}

	if readFailuresCounter, err = meter.Int64Counter(
		metricReadFailures,
		metric.WithDescription("Register reads that failed with a communication error"),
	); err != nil {
		otel.Handle(err)
	}

	if cycleHistogram, err = meter.Float64Histogram(
		metricCycleDuration,
		metric.WithDescription("Duration of one device read cycle"),
		metric.WithUnit("s"),
	); err != nil {
		otel.Handle(err)
	}

	if reconnectCounter, err = meter.Int64Counter(
		metricReconnects,
		metric.WithDescription("Connection attempts after the device went offline"),
	); err != nil {
		otel.Handle(err)
	}

	if activePollers, err = meter.Int64UpDownCounter(
		metricActivePollers,
		metric.WithDescription("Device pollers currently running"),
	); err != nil {
		otel.Handle(err)
	}
}

func protocolAttrs(protocol string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("protocol", protocol))
}

func recordCycle(ctx context.Context, protocol string, ok, failed int, elapsed time.Duration) {
	pollerMetricsOnce.Do(initPollerMetrics)

	attrs := protocolAttrs(protocol)

	if readsCounter != nil && ok > 0 {
		readsCounter.Add(ctx, int64(ok), attrs)
	}

	if readFailuresCounter != nil && failed > 0 {
		readFailuresCounter.Add(ctx, int64(failed), attrs)
	}

	if cycleHistogram != nil {
		cycleHistogram.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func recordReconnect(ctx context.Context, protocol string, success bool) {
	pollerMetricsOnce.Do(initPollerMetrics)

	if reconnectCounter != nil {
		reconnectCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("protocol", protocol),
			attribute.Bool("success", success),
		))
	}
}

func recordActive(ctx context.Context, delta int64) {
	pollerMetricsOnce.Do(initPollerMetrics)

	if activePollers != nil {
		activePollers.Add(ctx, delta)
	}
}
