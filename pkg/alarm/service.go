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

//go:generate mockgen -destination=mock_repository.go -package=alarm github.com/carverauto/plcgateway/pkg/alarm Repository

package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

var (
	ErrActiveInstanceExists = errors.New("definition already has an active alarm instance")
	ErrInstanceNotFound     = errors.New("alarm instance not found")
	errEvaluationPanic      = errors.New("alarm evaluation panic")
)

// Event actions carried in AlarmEventData.Action.
const (
	EventActionTrigger = "trigger"
	EventActionClear   = "clear"
	EventActionUpdate  = "update"
)

// Repository persists alarm definitions and instances. FindActiveInstance returns
// (nil, nil) when the definition has no ACTIVE instance. CreateInstance must refuse a
// second ACTIVE instance for the same definition with ErrActiveInstanceExists.
type Repository interface {
	FindActiveDefinitions(ctx context.Context, deviceID, registerID string) ([]*models.AlarmDefinition, error)
	FindActiveInstance(ctx context.Context, definitionID string) (*models.AlarmInstance, error)
	CreateInstance(ctx context.Context, inst *models.AlarmInstance) error
	UpdateInstance(ctx context.Context, inst *models.AlarmInstance) error
}

// EventPublisher receives alarm transitions. Implementations must not block.
type EventPublisher interface {
	PublishEvent(event models.Event)
}

// Evaluator is the contract the poller depends on.
type Evaluator interface {
	CheckAndHandle(ctx context.Context, deviceID, registerID string, value float64) (bool, error)
}

// Service applies Evaluate against the repository and publishes transitions.
type Service struct {
	repo      Repository
	publisher EventPublisher
	log       logger.Logger
	now       func() time.Time
	newID     func() string
}

var _ Evaluator = (*Service)(nil)

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithPublisher sets the sink for alarm events.
func WithPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns an alarm service over repo.
func NewService(repo Repository, log logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:  repo,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CheckAndHandle evaluates every active definition bound to (deviceID, registerID).
// It returns true when at least one definition newly triggered. A failing definition
// does not stop the others; its error is joined into the result.
func (s *Service) CheckAndHandle(ctx context.Context, deviceID, registerID string, value float64) (bool, error) {
	defs, err := s.repo.FindActiveDefinitions(ctx, deviceID, registerID)
	if err != nil {
		return false, fmt.Errorf("load alarm definitions for %s/%s: %w", deviceID, registerID, err)
	}

	var (
		triggered bool
		errs      []error
	)

	for _, def := range defs {
		fired, err := s.handle(ctx, def, deviceID, registerID, value)
		if err != nil {
			s.log.Error().
				Err(err).
				Str("definition_id", def.ID).
				Str("device_id", deviceID).
				Str("register_id", registerID).
				Msg("Alarm evaluation failed")

			errs = append(errs, fmt.Errorf("definition %s: %w", def.ID, err))

			continue
		}

		triggered = triggered || fired
	}

	return triggered, errors.Join(errs...)
}

func (s *Service) handle(
	ctx context.Context, def *models.AlarmDefinition, deviceID, registerID string, value float64,
) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fired, err = false, fmt.Errorf("%w: %v", errEvaluationPanic, r)
		}
	}()

	active, err := s.repo.FindActiveInstance(ctx, def.ID)
	if err != nil {
		return false, err
	}

	decision := Evaluate(def, value, active)
	now := s.now().UTC()

	switch decision.Action {
	case ActionTrigger:
		inst := &models.AlarmInstance{
			ID:            s.newID(),
			DefinitionID:  def.ID,
			DeviceID:      deviceID,
			RegisterID:    registerID,
			State:         models.AlarmStateActive,
			Priority:      def.PriorityOrDefault(),
			Message:       decision.Message,
			TriggerValue:  value,
			CurrentValue:  value,
			TriggeredAt:   now,
			LastUpdatedAt: now,
		}

		if err := s.repo.CreateInstance(ctx, inst); err != nil {
			if errors.Is(err, ErrActiveInstanceExists) {
				return false, nil
			}

			return false, err
		}

		s.log.Info().
			Str("alarm_id", inst.ID).
			Str("definition_id", def.ID).
			Str("device_id", deviceID).
			Str("register_id", registerID).
			Str("priority", string(inst.Priority)).
			Msg("Alarm triggered: " + decision.Message)

		recordTransition(ctx, ActionTrigger, inst.Priority)
		s.publish(def, inst, EventActionTrigger, value, now)

		return true, nil
	case ActionClear:
		active.State = models.AlarmStateCleared
		active.ClearedAt = &now
		active.CurrentValue = value
		active.LastUpdatedAt = now

		if err := s.repo.UpdateInstance(ctx, active); err != nil {
			return false, err
		}

		s.log.Info().
			Str("alarm_id", active.ID).
			Str("definition_id", def.ID).
			Float64("value", value).
			Msg("Alarm cleared")

		recordTransition(ctx, ActionClear, active.Priority)
		s.publish(def, active, EventActionClear, value, now)
	case ActionRefresh:
		if active.CurrentValue == value {
			return false, nil
		}

		active.CurrentValue = value
		active.LastUpdatedAt = now

		if err := s.repo.UpdateInstance(ctx, active); err != nil {
			return false, err
		}

		s.publish(def, active, EventActionUpdate, value, now)
	case ActionNone:
	}

	return false, nil
}

func (s *Service) publish(def *models.AlarmDefinition, inst *models.AlarmInstance, action string, value float64, at time.Time) {
	if s.publisher == nil {
		return
	}

	s.publisher.PublishEvent(models.Event{
		Kind:      models.EventAlarm,
		DeviceID:  inst.DeviceID,
		Timestamp: at,
		Data: &models.AlarmEventData{
			Action:       action,
			AlarmID:      inst.ID,
			DefinitionID: inst.DefinitionID,
			DeviceID:     inst.DeviceID,
			RegisterID:   inst.RegisterID,
			State:        inst.State,
			Priority:     inst.Priority,
			Message:      inst.Message,
			Value:        value,
			EmailEnabled: def.EmailEnabled,
			Timestamp:    at,
		},
	})
}
