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

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carverauto/plcgateway/pkg/alarm"
	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	uniqueViolationCode = "23505"

	findActiveDefinitionsSQL = `
SELECT id, plc_id, COALESCE(register_id, ''), name, condition_type, setpoint,
       threshold_low, threshold_high, deadband, priority, COALESCE(severity, ''),
       email_enabled, is_active
FROM alarm_definition
WHERE plc_id = $1 AND register_id = $2 AND is_active`

	findActiveInstanceSQL = `
SELECT id, alarm_definition_id, plc_id, COALESCE(register_id, ''), state, priority, message,
       COALESCE(trigger_value, 0), COALESCE(current_value, 0), triggered_at, cleared_at,
       COALESCE(last_updated_at, triggered_at)
FROM alarm
WHERE alarm_definition_id = $1 AND state = 'ACTIVE'
LIMIT 1`

	insertInstanceSQL = `
INSERT INTO alarm (id, alarm_definition_id, plc_id, register_id, state, priority, message,
                   trigger_value, current_value, triggered_at, cleared_at, last_updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)`

	updateInstanceSQL = `
UPDATE alarm
SET state = $2, message = $3, current_value = $4, cleared_at = $5, last_updated_at = $6
WHERE id = $1`
)

// AlarmStore is the PostgreSQL alarm repository.
type AlarmStore struct {
	exec pgxExecutor
}

var _ alarm.Repository = (*AlarmStore)(nil)

// NewAlarmStore wraps a pgx pool.
func NewAlarmStore(exec pgxExecutor) *AlarmStore {
	return &AlarmStore{exec: exec}
}

// FindActiveDefinitions returns the active definitions of the device that apply to
// the register, including device-wide ones.
func (s *AlarmStore) FindActiveDefinitions(ctx context.Context, deviceID, registerID string) ([]*models.AlarmDefinition, error) {
	rows, err := s.exec.Query(ctx, findActiveDefinitionsSQL, deviceID, registerID)
	if err != nil {
		return nil, fmt.Errorf("%w alarm definitions: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var defs []*models.AlarmDefinition

	for rows.Next() {
		var (
			def       models.AlarmDefinition
			condition string
			priority  string
		)

		if err := rows.Scan(
			&def.ID, &def.DeviceID, &def.RegisterID, &def.Name, &condition, &def.Setpoint,
			&def.Low, &def.High, &def.Deadband, &priority, &def.Severity,
			&def.EmailEnabled, &def.IsActive,
		); err != nil {
			return nil, fmt.Errorf("%w alarm definition: %w", ErrFailedToScan, err)
		}

		def.Condition = models.AlarmCondition(condition)
		def.Priority = models.AlarmPriority(priority)
		defs = append(defs, &def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w alarm definitions: %w", ErrFailedToQuery, err)
	}

	return defs, nil
}

// FindActiveInstance returns nil, nil when the definition has no ACTIVE instance.
func (s *AlarmStore) FindActiveInstance(ctx context.Context, definitionID string) (*models.AlarmInstance, error) {
	var (
		inst     models.AlarmInstance
		state    string
		priority string
	)

	err := s.exec.QueryRow(ctx, findActiveInstanceSQL, definitionID).Scan(
		&inst.ID, &inst.DefinitionID, &inst.DeviceID, &inst.RegisterID, &state, &priority,
		&inst.Message, &inst.TriggerValue, &inst.CurrentValue, &inst.TriggeredAt,
		&inst.ClearedAt, &inst.LastUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w active alarm for %s: %w", ErrFailedToQuery, definitionID, err)
	}

	inst.State = models.AlarmState(state)
	inst.Priority = models.AlarmPriority(priority)

	return &inst, nil
}

// CreateInstance inserts a new instance. The partial unique index on ACTIVE rows
// turns a concurrent duplicate into alarm.ErrActiveInstanceExists.
func (s *AlarmStore) CreateInstance(ctx context.Context, inst *models.AlarmInstance) error {
	_, err := s.exec.Exec(ctx, insertInstanceSQL,
		inst.ID, inst.DefinitionID, inst.DeviceID, inst.RegisterID,
		string(inst.State), string(inst.Priority), inst.Message,
		inst.TriggerValue, inst.CurrentValue, inst.TriggeredAt.UTC(),
		utcPtr(inst.ClearedAt), inst.LastUpdatedAt.UTC(),
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return alarm.ErrActiveInstanceExists
	}

	return fmt.Errorf("%w alarm %s: %w", ErrFailedToInsert, inst.ID, err)
}

// UpdateInstance persists state, message, current value and timestamps.
func (s *AlarmStore) UpdateInstance(ctx context.Context, inst *models.AlarmInstance) error {
	tag, err := s.exec.Exec(ctx, updateInstanceSQL,
		inst.ID, string(inst.State), inst.Message, inst.CurrentValue,
		utcPtr(inst.ClearedAt), inst.LastUpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w alarm %s: %w", ErrFailedToUpdate, inst.ID, err)
	}

	if tag.RowsAffected() == 0 {
		return alarm.ErrInstanceNotFound
	}

	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()

	return &u
}
