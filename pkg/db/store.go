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

// Package db persists devices, registers, measurements and alarms in PostgreSQL.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	listActiveDevicesSQL = `
SELECT id, name, ip_address, vlan_id, protocol, port, COALESCE(unit_id, 0),
       COALESCE(rack_slot, ''), COALESCE(endpoint, ''), COALESCE(community, ''),
       timeout_ms, polling_interval_ms, retry_count, use_simulation, is_active,
       is_online, last_seen, tags, updated_at
FROM plc
WHERE is_active
ORDER BY ip_address, vlan_id`

	listActiveRegistersSQL = `
SELECT id, plc_id, slave, name, COALESCE(tag, ''), address, COALESCE(register_type, ''),
       data_type, length, scale_factor, value_offset, COALESCE(unit, ''),
       decimal_places, min_value, max_value, is_active
FROM register
WHERE plc_id = $1 AND is_active
ORDER BY address`

	setOnlineSQL = `
UPDATE plc
SET is_online = $2,
    status_changed_at = CASE WHEN is_online IS DISTINCT FROM $2 THEN $3 ELSE status_changed_at END,
    last_seen = CASE WHEN $2 THEN $3 ELSE last_seen END
WHERE id = $1`

	touchLastSeenSQL = `UPDATE plc SET last_seen = $2 WHERE id = $1`
)

//nolint:gochecknoglobals // column list shared by CopyFrom calls
var dataLogColumns = []string{
	"plc_id", "register_id", "timestamp", "raw_value",
	"value_float", "value_int", "quality", "unit", "is_alarm",
}

// Store reads device configuration and writes device status and measurements.
type Store struct {
	exec   pgxExecutor
	copier copyFromer
	logger logger.Logger
}

type copyFromer interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// NewStore wraps a pgx pool (or anything with the same methods).
func NewStore(exec interface {
	pgxExecutor
	copyFromer
}, log logger.Logger) *Store {
	return &Store{exec: exec, copier: exec, logger: log}
}

// ListActiveDevices returns every device flagged active.
func (s *Store) ListActiveDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.exec.Query(ctx, listActiveDevicesSQL)
	if err != nil {
		return nil, fmt.Errorf("%w devices: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var devices []*models.Device

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}

		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w devices: %w", ErrFailedToQuery, err)
	}

	return devices, nil
}

func scanDevice(row pgx.Row) (*models.Device, error) {
	var (
		d           models.Device
		timeoutMS   int64
		intervalMS  int64
		rawTags     []byte
		lastSeen    *time.Time
		updatedTime time.Time
	)

	if err := row.Scan(
		&d.ID, &d.Name, &d.Address, &d.SubnetID, &d.Protocol, &d.Port, &d.UnitID,
		&d.RackSlot, &d.Endpoint, &d.Community,
		&timeoutMS, &intervalMS, &d.RetryCount, &d.UseSimulation, &d.IsActive,
		&d.IsOnline, &lastSeen, &rawTags, &updatedTime,
	); err != nil {
		return nil, fmt.Errorf("%w device: %w", ErrFailedToScan, err)
	}

	d.Timeout = models.Duration(time.Duration(timeoutMS) * time.Millisecond)
	d.PollingInterval = models.Duration(time.Duration(intervalMS) * time.Millisecond)
	d.LastSeen = lastSeen
	d.UpdatedAt = updatedTime

	if len(rawTags) > 0 {
		if err := json.Unmarshal(rawTags, &d.Tags); err != nil {
			return nil, fmt.Errorf("%w device %s tags: %w", ErrFailedToScan, d.ID, err)
		}
	}

	return &d, nil
}

// ListActiveRegisters returns the active registers of one device.
func (s *Store) ListActiveRegisters(ctx context.Context, deviceID string) ([]models.Register, error) {
	rows, err := s.exec.Query(ctx, listActiveRegistersSQL, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w registers for %s: %w", ErrFailedToQuery, deviceID, err)
	}
	defer rows.Close()

	var registers []models.Register

	for rows.Next() {
		var (
			r        models.Register
			slave    *int32
			decimals *int32
		)

		if err := rows.Scan(
			&r.ID, &r.DeviceID, &slave, &r.Name, &r.Tag, &r.Address, &r.RegisterType,
			&r.DataType, &r.Length, &r.ScaleFactor, &r.Offset, &r.Unit,
			&decimals, &r.Min, &r.Max, &r.IsActive,
		); err != nil {
			return nil, fmt.Errorf("%w register: %w", ErrFailedToScan, err)
		}

		r.Slave = intPtr(slave)
		r.DecimalPlaces = intPtr(decimals)

		registers = append(registers, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w registers for %s: %w", ErrFailedToQuery, deviceID, err)
	}

	return registers, nil
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}

	out := int(*v)

	return &out
}

// SetOnline records a connectivity flip. Going online also refreshes last_seen.
func (s *Store) SetOnline(ctx context.Context, deviceID string, online bool, at time.Time) error {
	if _, err := s.exec.Exec(ctx, setOnlineSQL, deviceID, online, at.UTC()); err != nil {
		return fmt.Errorf("%w online status of %s: %w", ErrFailedToUpdate, deviceID, err)
	}

	return nil
}

// TouchLastSeen updates the last time the device answered.
func (s *Store) TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error {
	if _, err := s.exec.Exec(ctx, touchLastSeenSQL, deviceID, at.UTC()); err != nil {
		return fmt.Errorf("%w last_seen of %s: %w", ErrFailedToUpdate, deviceID, err)
	}

	return nil
}

// InsertMeasurements appends the measurements to data_log in one COPY.
func (s *Store) InsertMeasurements(ctx context.Context, measurements []*models.Measurement) error {
	if len(measurements) == 0 {
		return nil
	}

	rows := measurementRows(measurements)

	n, err := s.copier.CopyFrom(ctx, pgx.Identifier{"data_log"}, dataLogColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("%w measurements: %w", ErrFailedToInsert, err)
	}

	s.logger.Debug().Int64("rows", n).Msg("Inserted measurements")

	return nil
}

func measurementRows(measurements []*models.Measurement) [][]any {
	rows := make([][]any, 0, len(measurements))

	for _, m := range measurements {
		if m == nil {
			continue
		}

		rows = append(rows, []any{
			m.DeviceID,
			m.RegisterID,
			m.Timestamp.UTC(),
			m.RawValue,
			m.ValueFloat,
			m.ValueInt,
			m.Quality,
			nullableString(m.Unit),
			m.IsAlarm,
		})
	}

	return rows
}

// SetOnlineMany applies several status flips in one round trip.
func (s *Store) SetOnlineMany(ctx context.Context, deviceIDs []string, online bool, at time.Time) error {
	batch := &pgx.Batch{}

	for _, id := range deviceIDs {
		batch.Queue(setOnlineSQL, id, online, at.UTC())
	}

	if err := sendBatchExecAll(ctx, batch, s.exec.SendBatch, "set online"); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
