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

package sink

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	sinkMeterName = "plcgateway.sink"

	metricEventsDropped       = "plcgateway.sink.events.dropped"
	metricPublishFailures     = "plcgateway.sink.publish.failures"
	metricFlushFailures       = "plcgateway.sink.flush.failures"
	metricMeasurementsDropped = "plcgateway.sink.measurements.dropped"
	metricMeasurementsStored  = "plcgateway.sink.measurements.stored"
)

//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
var (
	sinkMetricsOnce sync.Once

	eventsDropped       metric.Int64Counter
	publishFailures     metric.Int64Counter
	flushFailures       metric.Int64Counter
	measurementsDropped metric.Int64Counter
	measurementsStored  metric.Int64Counter
)

func initSinkMetrics() {
	meter := otel.Meter(sinkMeterName)

	eventsDropped = newCounter(meter, metricEventsDropped, "Events evicted from the full publish queue")
	publishFailures = newCounter(meter, metricPublishFailures, "Failed event publish attempts")
	flushFailures = newCounter(meter, metricFlushFailures, "Failed measurement batch inserts")
	measurementsDropped = newCounter(meter, metricMeasurementsDropped, "Measurements evicted from the full buffer")
	measurementsStored = newCounter(meter, metricMeasurementsStored, "Measurements persisted")
}

func newCounter(meter metric.Meter, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return nil
	}

	return counter
}

func addCount(ctx context.Context, counter *metric.Int64Counter, n int, attrs ...attribute.KeyValue) {
	sinkMetricsOnce.Do(initSinkMetrics)

	if *counter == nil || n <= 0 {
		return
	}

	(*counter).Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

func recordEventDropped(kind models.EventKind) {
	addCount(context.Background(), &eventsDropped, 1, attribute.String("kind", string(kind)))
}

func recordPublishFailure(ctx context.Context, kind models.EventKind) {
	addCount(ctx, &publishFailures, 1, attribute.String("kind", string(kind)))
}

func recordFlushFailure(ctx context.Context) {
	addCount(ctx, &flushFailures, 1)
}

func recordMeasurementsDropped(ctx context.Context, n int, reason string) {
	addCount(ctx, &measurementsDropped, n, attribute.String("reason", reason))
}

func recordMeasurementsStored(ctx context.Context, n int) {
	addCount(ctx, &measurementsStored, n)
}
