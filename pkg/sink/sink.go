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

// Package sink batches measurements into storage and publishes events to the bus.
// Every entry point is non-blocking; the sink owns its worker goroutines.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	defaultBatchSize         = 1000
	defaultFlushInterval     = 2 * time.Second
	defaultMaxFlushRetries   = 5
	defaultQueueSize         = 10000
	defaultPublishInitial    = time.Second
	defaultPublishMaxBackoff = 60 * time.Second
	bufferHeadroom           = 100
)

// MeasurementStore persists measurement batches.
type MeasurementStore interface {
	InsertMeasurements(ctx context.Context, measurements []*models.Measurement) error
}

// EventPublisher delivers one event to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Option customizes a Sink.
type Option func(*Sink)

// WithPublisher sets the bus publisher. Without one events are discarded.
func WithPublisher(p EventPublisher) Option {
	return func(s *Sink) {
		s.publisher = p
	}
}

// WithPublishBackoff overrides the publish retry interval bounds.
func WithPublishBackoff(initial, maxInterval time.Duration) Option {
	return func(s *Sink) {
		s.publishInitial = initial
		s.publishMax = maxInterval
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.nowFunc = now
	}
}

// Sink buffers measurements and events and drains them in the background.
type Sink struct {
	store     MeasurementStore
	publisher EventPublisher
	logger    logger.Logger
	nowFunc   func() time.Time

	batchSize      int
	flushInterval  time.Duration
	escalateAfter  int
	maxBuffered    int
	publishInitial time.Duration
	publishMax     time.Duration

	mu       sync.Mutex
	buffer   []*models.Measurement
	failures int
	flushMu  sync.Mutex
	flushCh  chan struct{}

	events *eventQueue

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// New builds a sink. A nil store drops measurements after logging them at debug level.
func New(store MeasurementStore, cfg *models.SinkConfig, log logger.Logger, opts ...Option) *Sink {
	if cfg == nil {
		cfg = &models.SinkConfig{}
	}

	s := &Sink{
		store:          store,
		logger:         log,
		nowFunc:        time.Now,
		batchSize:      intOr(cfg.BatchSize, defaultBatchSize),
		flushInterval:  cfg.FlushInterval.Or(defaultFlushInterval),
		escalateAfter:  intOr(cfg.MaxFlushRetries, defaultMaxFlushRetries),
		publishInitial: defaultPublishInitial,
		publishMax:     cfg.PublishMaxBackoff.Or(defaultPublishMaxBackoff),
		flushCh:        make(chan struct{}, 1),
		events:         newEventQueue(intOr(cfg.QueueSize, defaultQueueSize)),
	}

	s.maxBuffered = intOr(cfg.MaxBuffered, s.batchSize*bufferHeadroom)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}

	return fallback
}

// Start launches the flush and publish workers. Calling it twice is a no-op.
func (s *Sink) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel

		s.wg.Add(2)

		go func() {
			defer s.wg.Done()
			s.flushLoop(runCtx)
		}()

		go func() {
			defer s.wg.Done()
			s.publishLoop(runCtx)
		}()

		s.logger.Info().
			Int("batch_size", s.batchSize).
			Dur("flush_interval", s.flushInterval).
			Msg("Data sink started")
	})
}

// Stop halts the workers, forces a final flush and makes one delivery attempt for
// every queued event. It is safe to call more than once.
func (s *Sink) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		s.wg.Wait()

		s.stopErr = s.Flush(ctx)
		s.drainEvents(ctx)

		s.logger.Info().Msg("Data sink stopped")
	})

	return s.stopErr
}

// Submit queues a measurement batch for persistence. It never blocks on storage.
func (s *Sink) Submit(batch []*models.Measurement) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, batch...)
	dropped := s.trimLocked()
	pending := len(s.buffer)
	s.mu.Unlock()

	if dropped > 0 {
		recordMeasurementsDropped(context.Background(), dropped, "overflow")
		s.logger.Warn().Int("dropped", dropped).Msg("Measurement buffer full, dropped oldest entries")
	}

	if pending >= s.batchSize {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// trimLocked evicts the oldest measurements beyond maxBuffered.
func (s *Sink) trimLocked() int {
	over := len(s.buffer) - s.maxBuffered
	if over <= 0 {
		return 0
	}

	clear(s.buffer[:over])
	s.buffer = append(s.buffer[:0], s.buffer[over:]...)

	return over
}

// Pending returns the number of buffered measurements.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buffer)
}

// Flush writes every buffered measurement. A failed batch goes back to the head of
// the buffer and is only lost to overflow eviction.
func (s *Sink) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	for {
		batch := s.take()
		if len(batch) == 0 {
			return nil
		}

		if s.store == nil {
			s.logger.Debug().Int("count", len(batch)).Msg("No measurement store configured, discarding batch")
			continue
		}

		if err := s.store.InsertMeasurements(ctx, batch); err != nil {
			recordFlushFailure(ctx)
			s.requeue(ctx, batch, err)

			return err
		}

		recordMeasurementsStored(ctx, len(batch))

		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()
	}
}

func (s *Sink) take() []*models.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(len(s.buffer), s.batchSize)
	if n == 0 {
		return nil
	}

	batch := make([]*models.Measurement, n)
	copy(batch, s.buffer[:n])

	clear(s.buffer[:n])
	s.buffer = append(s.buffer[:0], s.buffer[n:]...)

	return batch
}

func (s *Sink) requeue(ctx context.Context, batch []*models.Measurement, cause error) {
	s.mu.Lock()

	s.failures++
	attempts := s.failures

	s.buffer = append(batch, s.buffer...)
	dropped := s.trimLocked()
	s.mu.Unlock()

	if dropped > 0 {
		recordMeasurementsDropped(ctx, dropped, "overflow")
	}

	ev := s.logger.Warn()
	if attempts > s.escalateAfter {
		ev = s.logger.Error()
	}

	ev.Err(cause).
		Int("count", len(batch)).
		Int("attempt", attempts).
		Msg("Measurement insert failed, batch re-queued")
}

func (s *Sink) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.flushCh:
		}

		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Debug().Err(err).Msg("Periodic flush failed")
		}
	}
}

// PublishMeasurements queues a measurement_batch event for the device.
func (s *Sink) PublishMeasurements(device *models.Device, batch []*models.Measurement) {
	if device == nil || len(batch) == 0 {
		return
	}

	now := s.nowFunc()

	s.PublishEvent(models.Event{
		Kind:      models.EventMeasurementBatch,
		DeviceID:  device.ID,
		Timestamp: now,
		Data: models.MeasurementBatchEventData{
			DeviceID:     device.ID,
			Address:      device.Address,
			SubnetID:     device.SubnetID,
			Timestamp:    now,
			Measurements: batch,
		},
	})
}

// PublishEvent queues an event for the bus, evicting the oldest one when full.
func (s *Sink) PublishEvent(event models.Event) {
	if s.publisher == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.nowFunc()
	}

	if s.events.push(event) {
		recordEventDropped(event.Kind)
		s.logger.Debug().Str("kind", string(event.Kind)).Msg("Event queue full, dropped oldest event")
	}
}

// QueuedEvents returns the number of events waiting for publication.
func (s *Sink) QueuedEvents() int {
	return s.events.len()
}

func (s *Sink) newPublishBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.publishInitial
	b.MaxInterval = s.publishMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	return b
}

func (s *Sink) publishLoop(ctx context.Context) {
	if s.publisher == nil {
		return
	}

	retry := s.newPublishBackoff()

	for {
		event, ok := s.events.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.events.notify:
			}

			continue
		}

		err := s.publisher.Publish(ctx, event)
		if err == nil {
			retry.Reset()
			continue
		}

		if !s.events.pushFront(event) {
			recordEventDropped(event.Kind)
		}

		if ctx.Err() != nil {
			return
		}

		recordPublishFailure(ctx, event.Kind)

		delay := retry.NextBackOff()

		s.logger.Warn().
			Err(err).
			Str("kind", string(event.Kind)).
			Dur("retry_in", delay).
			Int("queued", s.events.len()).
			Msg("Event publish failed")

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Sink) drainEvents(ctx context.Context) {
	if s.publisher == nil {
		return
	}

	for {
		event, ok := s.events.pop()
		if !ok {
			return
		}

		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn().
				Err(err).
				Int("abandoned", s.events.len()+1).
				Msg("Could not publish queued events during shutdown")

			return
		}
	}
}
