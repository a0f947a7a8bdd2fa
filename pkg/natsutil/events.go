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

// Package natsutil publishes gateway events as CloudEvents on NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	defaultStreamName    = "PLC_GATEWAY"
	defaultSubjectPrefix = "plc"
	eventSource          = "plcgateway/poller"
	eventTypePrefix      = "com.carverauto.plcgateway."
)

var errUnknownEventKind = errors.New("nats: unknown event kind")

// subjectSuffix maps an event kind to the last subject token.
func subjectSuffix(kind models.EventKind) (string, bool) {
	switch kind {
	case models.EventMeasurementBatch:
		return "data", true
	case models.EventAlarm:
		return "alarm", true
	case models.EventConnectivity:
		return "status", true
	default:
		return "", false
	}
}

// EventPublisher publishes CloudEvents to a JetStream stream.
type EventPublisher struct {
	js      jetstream.JetStream
	stream  string
	prefix  string
	source  string
	logger  logger.Logger
	nowFunc func() time.Time
}

// NewEventPublisher wraps an existing JetStream context.
func NewEventPublisher(js jetstream.JetStream, streamName, subjectPrefix string, log logger.Logger) *EventPublisher {
	if streamName == "" {
		streamName = defaultStreamName
	}

	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	return &EventPublisher{
		js:      js,
		stream:  streamName,
		prefix:  strings.TrimSuffix(subjectPrefix, "."),
		source:  eventSource,
		logger:  log,
		nowFunc: time.Now,
	}
}

// Subjects lists the subjects this publisher writes to.
func (p *EventPublisher) Subjects() []string {
	return []string{p.prefix + ".data", p.prefix + ".alarm", p.prefix + ".status"}
}

// SubjectFor returns the subject an event kind is published on.
func (p *EventPublisher) SubjectFor(kind models.EventKind) (string, error) {
	suffix, ok := subjectSuffix(kind)
	if !ok {
		return "", fmt.Errorf("%w: %q", errUnknownEventKind, kind)
	}

	return p.prefix + "." + suffix, nil
}

// Publish wraps the event in a CloudEvent envelope and publishes it.
func (p *EventPublisher) Publish(ctx context.Context, event models.Event) error {
	subject, err := p.SubjectFor(event.Kind)
	if err != nil {
		return err
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = p.nowFunc()
	}

	envelope := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            eventTypePrefix + string(event.Kind),
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &ts,
		Data:            event.Data,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Kind, err)
	}

	ack, err := p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind, err)
	}

	p.logger.Debug().
		Str("event_id", envelope.ID).
		Str("subject", subject).
		Str("device_id", event.DeviceID).
		Uint64("seq", ack.Sequence).
		Msg("Published event")

	return nil
}

// ConnectWithSecurity opens a NATS connection with optional credentials and mTLS.
// Connection state changes are logged.
func ConnectWithSecurity(cfg *models.NATSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name("plc-gateway")}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	if cfg.Security != nil && cfg.Security.Mode == models.SecurityModeMTLS {
		tlsConf, err := TLSConfig(cfg.Security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// NewJetStream returns a JetStream context, scoped to cfg.Domain when set.
func NewJetStream(nc *nats.Conn, cfg *models.NATSConfig) (jetstream.JetStream, error) {
	if cfg.Domain != "" {
		js, err := jetstream.NewWithDomain(nc, cfg.Domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", cfg.Domain, err)
		}

		return js, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return js, nil
}

// CreateEventPublisher builds a publisher on an existing connection and makes sure the
// stream exists and covers the gateway subjects.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, cfg *models.NATSConfig, log logger.Logger) (*EventPublisher, error) {
	js, err := NewJetStream(nc, cfg)
	if err != nil {
		return nil, err
	}

	publisher := NewEventPublisher(js, cfg.StreamName, cfg.SubjectPrefix, log)

	if err := ensureStream(ctx, js, publisher.stream, publisher.Subjects(), log); err != nil {
		return nil, err
	}

	return publisher, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name string, subjects []string, log logger.Logger) error {
	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}

		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     name,
			Subjects: subjects,
		}); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		log.Info().Str("stream", name).Strs("subjects", subjects).Msg("Created JetStream stream")

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", name, err)
	}

	streamCfg := info.Config
	merged := append([]string(nil), streamCfg.Subjects...)

	for _, subject := range subjects {
		merged = ensureSubjectList(merged, subject)
	}

	if len(merged) == len(streamCfg.Subjects) {
		return nil
	}

	streamCfg.Subjects = merged

	if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to add subjects to stream %s: %w", name, err)
	}

	log.Info().Str("stream", name).Strs("subjects", merged).Msg("Extended JetStream stream subjects")

	return nil
}

// ensureSubjectList appends subject unless an existing pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject pattern matches a literal subject.
func matchesSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	for i, token := range patternTokens {
		if token == ">" {
			return i < len(subjectTokens)
		}

		if i >= len(subjectTokens) {
			return false
		}

		if token != "*" && token != subjectTokens[i] {
			return false
		}
	}

	return len(patternTokens) == len(subjectTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
