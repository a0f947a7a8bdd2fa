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

package adapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	defaultModbusPort    = 502
	defaultModbusTimeout = 3 * time.Second
	minModbusTimeout     = 100 * time.Millisecond
)

// modbusLink is the subset of a Modbus TCP session the adapter needs.
type modbusLink interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	SetUnit(id byte)
	Close() error
}

type modbusDialFunc func(address string, timeout time.Duration, unit byte) (modbusLink, error)

type tcpModbusLink struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (l *tcpModbusLink) SetUnit(id byte) {
	l.handler.SlaveId = id
}

func (l *tcpModbusLink) Close() error {
	return l.handler.Close()
}

func dialModbusTCP(address string, timeout time.Duration, unit byte) (modbusLink, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	handler.SlaveId = unit

	if err := handler.Connect(); err != nil {
		return nil, err
	}

	return &tcpModbusLink{Client: modbus.NewClient(handler), handler: handler}, nil
}

// ModbusAdapter reads holding/input registers and coils/discrete inputs over Modbus TCP.
type ModbusAdapter struct {
	base

	dial modbusDialFunc

	// mu serializes requests on the shared TCP session; the unit id is per request.
	mu   sync.Mutex
	link modbusLink
}

func newModbusAdapter(device *models.Device, o *options) Adapter {
	return &ModbusAdapter{
		base: newBase(device, o),
		dial: dialModbusTCP,
	}
}

func (*ModbusAdapter) Protocol() string { return "modbus" }

func (a *ModbusAdapter) defaultUnit() byte {
	if a.device.UnitID > 0 && a.device.UnitID <= 247 {
		return byte(a.device.UnitID)
	}

	return 1
}

func (a *ModbusAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.link != nil {
		return nil
	}

	address := a.hostPort(defaultModbusPort)

	var link modbusLink

	err := runBlocking(ctx, func() error {
		var dialErr error

		link, dialErr = a.dial(address, a.timeout(defaultModbusTimeout, minModbusTimeout), a.defaultUnit())
		if dialErr != nil {
			return dialErr
		}

		return closeIfCancelled(ctx, link)
	})
	if err != nil {
		return fmt.Errorf("modbus connect %s: %w", address, err)
	}

	a.link = link
	a.connected.Store(true)

	a.log.Info().Str("device_id", a.device.ID).Str("address", address).Msg("Modbus connected")

	return nil
}

func (a *ModbusAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected.Store(false)

	if a.link == nil {
		return nil
	}

	err := a.link.Close()
	a.link = nil

	return err
}

func (a *ModbusAdapter) ReadRegister(ctx context.Context, reg models.Register) (*models.Measurement, error) {
	address, err := parseModbusAddress(reg.Address)
	if err != nil {
		return a.badMeasurement(&reg, reg.Address, err), nil
	}

	dataType, ok := CanonicalDataType(reg.DataType)
	if !ok {
		return a.badMeasurement(&reg, "", fmt.Errorf("%w: %s", ErrUnsupportedDataType, reg.DataType)), nil
	}

	unit := a.defaultUnit()
	if reg.Slave != nil && *reg.Slave > 0 && *reg.Slave <= 247 {
		unit = byte(*reg.Slave)
	}

	quantity := wordCount(dataType)
	if reg.Length > 0 {
		quantity = uint16(reg.Length)
	}

	regType := strings.ToLower(reg.RegisterType)
	if regType == "" {
		regType = models.RegisterHolding
	}

	var payload []byte

	err = runBlocking(ctx, func() error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.link == nil {
			return ErrNotConnected
		}

		a.link.SetUnit(unit)

		var readErr error

		switch regType {
		case models.RegisterHolding:
			payload, readErr = a.link.ReadHoldingRegisters(address, quantity)
		case models.RegisterInput:
			payload, readErr = a.link.ReadInputRegisters(address, quantity)
		case models.RegisterCoil:
			payload, readErr = a.link.ReadCoils(address, 1)
		case models.RegisterDiscrete:
			payload, readErr = a.link.ReadDiscreteInputs(address, 1)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedRegisterType, reg.RegisterType)
		}

		return readErr
	})

	switch {
	case err == nil:
	case isDecodeError(err):
		return a.badMeasurement(&reg, "", err), nil
	default:
		return nil, fmt.Errorf("modbus read %s@%d: %w", regType, address, err)
	}

	if regType == models.RegisterCoil || regType == models.RegisterDiscrete {
		if len(payload) == 0 {
			return a.badMeasurement(&reg, "", ErrShortPayload), nil
		}

		return a.measurement(&reg, boolReading(payload[0]&0x01 == 1)), nil
	}

	r, err := decodeBigEndian(dataType, payload)
	if err != nil {
		return a.badMeasurement(&reg, hex.EncodeToString(payload), err), nil
	}

	return a.measurement(&reg, r), nil
}

// parseModbusAddress accepts decimal or 0x-prefixed register offsets.
func parseModbusAddress(addr string) (uint16, error) {
	s := strings.TrimSpace(addr)
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	return uint16(v), nil
}
