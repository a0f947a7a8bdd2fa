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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	defaultSNMPPort      = 161
	defaultSNMPCommunity = "public"
	defaultSNMPTimeout   = 2 * time.Second
	defaultSNMPRetries   = 1
)

var (
	errSNMPNoSuchObject = errors.New("no such object")
	errSNMPError        = errors.New("snmp error status")
)

// snmpSession is the subset of a gosnmp client the adapter needs.
type snmpSession interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

type snmpDialFunc func(target string, port uint16, community string, timeout time.Duration, retries int) (snmpSession, error)

type udpSNMPSession struct {
	*gosnmp.GoSNMP
}

func (s *udpSNMPSession) Close() error {
	if s.Conn == nil {
		return nil
	}

	return s.Conn.Close()
}

func dialSNMP(target string, port uint16, community string, timeout time.Duration, retries int) (snmpSession, error) {
	client := &gosnmp.GoSNMP{
		Target:    target,
		Port:      port,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   retries,
	}

	if err := client.Connect(); err != nil {
		return nil, err
	}

	return &udpSNMPSession{GoSNMP: client}, nil
}

// SNMPAdapter polls scalar OIDs from SNMP-capable field devices such as gateways
// and UPS controllers. Register addresses are numeric OIDs.
type SNMPAdapter struct {
	base

	dial snmpDialFunc

	// gosnmp sessions are not safe for concurrent use.
	mu      sync.Mutex
	session snmpSession
}

func newSNMPAdapter(device *models.Device, o *options) Adapter {
	return &SNMPAdapter{
		base: newBase(device, o),
		dial: dialSNMP,
	}
}

func (*SNMPAdapter) Protocol() string { return "snmp" }

func (a *SNMPAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return nil
	}

	port := a.device.Port
	if port <= 0 || port > 65535 {
		port = defaultSNMPPort
	}

	community := a.device.Community
	if community == "" {
		community = defaultSNMPCommunity
	}

	retries := a.device.RetryCount
	if retries <= 0 {
		retries = defaultSNMPRetries
	}

	var session snmpSession

	err := runBlocking(ctx, func() error {
		var dialErr error

		session, dialErr = a.dial(a.device.Address, uint16(port), community,
			a.timeout(defaultSNMPTimeout, minModbusTimeout), retries)
		if dialErr != nil {
			return dialErr
		}

		return closeIfCancelled(ctx, session)
	})
	if err != nil {
		return fmt.Errorf("snmp connect %s:%d: %w", a.device.Address, port, err)
	}

	a.session = session
	a.connected.Store(true)

	a.log.Info().Str("device_id", a.device.ID).Str("target", a.device.Address).Int("port", port).Msg("SNMP session opened")

	return nil
}

func (a *SNMPAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected.Store(false)

	if a.session == nil {
		return nil
	}

	err := a.session.Close()
	a.session = nil

	return err
}

func (a *SNMPAdapter) ReadRegister(ctx context.Context, reg models.Register) (*models.Measurement, error) {
	oid := strings.TrimSpace(reg.Address)
	if oid == "" || strings.Trim(oid, ".0123456789") != "" {
		return a.badMeasurement(&reg, reg.Address, fmt.Errorf("%w: %q is not an OID", ErrInvalidAddress, reg.Address)), nil
	}

	if !strings.HasPrefix(oid, ".") {
		oid = "." + oid
	}

	var result *gosnmp.SnmpPacket

	err := runBlocking(ctx, func() error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.session == nil {
			return ErrNotConnected
		}

		var getErr error

		result, getErr = a.session.Get([]string{oid})

		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("snmp get %s: %w", oid, err)
	}

	if result.Error != gosnmp.NoError {
		return nil, fmt.Errorf("snmp get %s: %w: %v", oid, errSNMPError, result.Error)
	}

	if len(result.Variables) == 0 {
		return nil, fmt.Errorf("snmp get %s: %w", oid, errSNMPNoSuchObject)
	}

	pdu := result.Variables[0]

	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return a.badMeasurement(&reg, "", fmt.Errorf("%w: %s", ErrInvalidAddress, oid)), nil
	case gosnmp.OctetString:
		b, _ := pdu.Value.([]byte)

		v, err := numericValue(string(b))
		if err != nil {
			return a.badMeasurement(&reg, string(b), err), nil
		}

		return a.coerced(&reg, v), nil
	case gosnmp.OpaqueFloat, gosnmp.OpaqueDouble:
		v, err := numericValue(pdu.Value)
		if err != nil {
			return a.badMeasurement(&reg, fmt.Sprint(pdu.Value), err), nil
		}

		return a.coerced(&reg, v), nil
	default:
		return a.coerced(&reg, float64(gosnmp.ToBigInt(pdu.Value).Int64())), nil
	}
}

func (a *SNMPAdapter) coerced(reg *models.Register, v float64) *models.Measurement {
	r, err := coerce(reg.DataType, v)
	if err != nil {
		return a.badMeasurement(reg, r.raw, err)
	}

	return a.measurement(reg, r)
}
