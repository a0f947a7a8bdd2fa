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
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robinson/gos7"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	defaultS7Port    = 102
	defaultS7Timeout = 5 * time.Second
	defaultRack      = 0
	defaultSlot      = 2
)

var (
	s7DBAddressRE = regexp.MustCompile(`(?i)^DB(\d+)\.DB([XBWD])(\d+)(?:\.(\d+))?$`)
	s7MAddressRE  = regexp.MustCompile(`(?i)^M(\d+)(?:\.(\d+))?$`)
	rackSlotSplit = regexp.MustCompile(`[.,;/\s]+`)

	errBitOutOfRange = errors.New("bit offset must be 0-7")
)

// S7 memory areas addressable by a register.
const (
	s7AreaDB     = "DB"
	s7AreaMerker = "M"
)

// s7Address is a parsed S7 register address such as DB1.DBW20 or M10.3.
type s7Address struct {
	Area  string
	DB    int
	Width byte // X, B, W or D for data block addresses
	Start int
	Bit   int // -1 when the address is not a bit address
}

// parseS7Address decodes the DB<n>.DB[XBWD]<byte>[.<bit>] and M<byte>[.<bit>] forms.
func parseS7Address(address string) (s7Address, error) {
	s := strings.TrimSpace(address)

	if m := s7DBAddressRE.FindStringSubmatch(s); m != nil {
		db, _ := strconv.Atoi(m[1])
		start, _ := strconv.Atoi(m[3])

		bit, err := parseBit(m[4])
		if err != nil {
			return s7Address{}, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
		}

		return s7Address{
			Area:  s7AreaDB,
			DB:    db,
			Width: strings.ToUpper(m[2])[0],
			Start: start,
			Bit:   bit,
		}, nil
	}

	if m := s7MAddressRE.FindStringSubmatch(s); m != nil {
		start, _ := strconv.Atoi(m[1])

		bit, err := parseBit(m[2])
		if err != nil {
			return s7Address{}, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
		}

		return s7Address{Area: s7AreaMerker, Start: start, Bit: bit}, nil
	}

	return s7Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
}

// parseBit returns -1 when no bit is given. Bits run from 0 to 7.
func parseBit(s string) (int, error) {
	if s == "" {
		return -1, nil
	}

	b, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}

	if b > 7 {
		return 0, errBitOutOfRange
	}

	return b, nil
}

// parseRackSlot splits "rack,slot" (any of . , ; / or whitespace), defaulting to 0,2.
func parseRackSlot(value string) (rack, slot int) {
	parts := rackSlotSplit.Split(strings.TrimSpace(value), -1)
	if len(parts) >= 2 {
		r, errR := strconv.Atoi(parts[0])
		s, errS := strconv.Atoi(parts[1])

		if errR == nil && errS == nil {
			return r, s
		}
	}

	return defaultRack, defaultSlot
}

// s7DataType resolves the declared type, falling back to the width letter of the address.
func s7DataType(declared string, addr s7Address) (string, bool) {
	if addr.Bit >= 0 || addr.Width == 'X' {
		return TypeBool, true
	}

	if t, ok := CanonicalDataType(declared); ok {
		return t, true
	}

	switch addr.Width {
	case 'B':
		return TypeByte, true
	case 'W':
		return TypeInt16, true
	case 'D':
		return TypeInt32, true
	default:
		return "", false
	}
}

// decodeS7 interprets a PLC payload. Bit addresses read one byte and test the bit.
func decodeS7(dataType string, addr s7Address, data []byte) (reading, error) {
	if dataType == TypeBool && addr.Bit >= 0 {
		if len(data) < 1 {
			return reading{}, ErrShortPayload
		}

		return boolReading(data[0]&(1<<uint(addr.Bit)) != 0), nil
	}

	return decodeBigEndian(dataType, data)
}

// s7Link is the subset of a gos7 session the adapter needs.
type s7Link interface {
	AGReadDB(dbNumber int, start int, size int, buffer []byte) error
	AGReadMB(start int, size int, buffer []byte) error
	Close() error
}

type s7DialFunc func(address string, rack, slot int, timeout time.Duration) (s7Link, error)

type tcpS7Link struct {
	gos7.Client
	handler *gos7.TCPClientHandler
}

func (l *tcpS7Link) Close() error {
	return l.handler.Close()
}

func dialS7(address string, rack, slot int, timeout time.Duration) (s7Link, error) {
	handler := gos7.NewTCPClientHandler(address, rack, slot)
	handler.Timeout = timeout
	handler.IdleTimeout = 0

	if err := handler.Connect(); err != nil {
		return nil, err
	}

	return &tcpS7Link{Client: gos7.NewClient(handler), handler: handler}, nil
}

// S7Adapter reads data block and merker areas of Siemens S7 PLCs over ISO-on-TCP.
type S7Adapter struct {
	base

	dial s7DialFunc

	mu   sync.Mutex
	link s7Link
}

func newS7Adapter(device *models.Device, o *options) Adapter {
	return &S7Adapter{
		base: newBase(device, o),
		dial: dialS7,
	}
}

func (*S7Adapter) Protocol() string { return "s7" }

func (a *S7Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.link != nil {
		return nil
	}

	rack, slot := parseRackSlot(a.device.RackSlot)
	address := a.hostPort(defaultS7Port)

	var link s7Link

	err := runBlocking(ctx, func() error {
		var dialErr error

		link, dialErr = a.dial(address, rack, slot, a.timeout(defaultS7Timeout, minModbusTimeout))
		if dialErr != nil {
			return dialErr
		}

		return closeIfCancelled(ctx, link)
	})
	if err != nil {
		return fmt.Errorf("s7 connect %s (rack=%d slot=%d): %w", address, rack, slot, err)
	}

	a.link = link
	a.connected.Store(true)

	a.log.Info().
		Str("device_id", a.device.ID).
		Str("address", address).
		Int("rack", rack).
		Int("slot", slot).
		Msg("S7 connected")

	return nil
}

func (a *S7Adapter) Disconnect(_ context.Context) error {
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

func (a *S7Adapter) ReadRegister(ctx context.Context, reg models.Register) (*models.Measurement, error) {
	addr, err := parseS7Address(reg.Address)
	if err != nil {
		return a.badMeasurement(&reg, reg.Address, err), nil
	}

	dataType, ok := s7DataType(reg.DataType, addr)
	if !ok {
		return a.badMeasurement(&reg, "", fmt.Errorf("%w: %s", ErrUnsupportedDataType, reg.DataType)), nil
	}

	buf := make([]byte, byteSize(dataType))

	err = runBlocking(ctx, func() error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.link == nil {
			return ErrNotConnected
		}

		if addr.Area == s7AreaDB {
			return a.link.AGReadDB(addr.DB, addr.Start, len(buf), buf)
		}

		return a.link.AGReadMB(addr.Start, len(buf), buf)
	})
	if err != nil {
		return nil, fmt.Errorf("s7 read %s: %w", reg.Address, err)
	}

	r, err := decodeS7(dataType, addr, buf)
	if err != nil {
		return a.badMeasurement(&reg, hex.EncodeToString(buf), err), nil
	}

	return a.measurement(&reg, r), nil
}
