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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/carverauto/plcgateway/pkg/models"
)

const (
	defaultOPCUAPort    = 4840
	defaultOPCUATimeout = 5 * time.Second
)

var (
	errOPCUABadStatus = errors.New("opc ua read returned bad status")
	errOPCUANoResult  = errors.New("opc ua read returned no result")
)

// opcuaSession is the subset of a gopcua client the adapter needs.
type opcuaSession interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Close(ctx context.Context) error
}

type opcuaDialFunc func(ctx context.Context, endpoint string, timeout time.Duration) (opcuaSession, error)

func dialOPCUA(ctx context.Context, endpoint string, timeout time.Duration) (opcuaSession, error) {
	c, err := opcua.NewClient(endpoint,
		opcua.SecurityMode(ua.MessageSecurityModeNone),
		opcua.RequestTimeout(timeout),
		opcua.AutoReconnect(false),
	)
	if err != nil {
		return nil, err
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// OPCUAAdapter reads node values from an OPC UA server. Register addresses are node ids
// such as ns=2;s=Line1.Temperature.
type OPCUAAdapter struct {
	base

	dial opcuaDialFunc

	mu      sync.Mutex
	session opcuaSession
}

func newOPCUAAdapter(device *models.Device, o *options) Adapter {
	return &OPCUAAdapter{
		base: newBase(device, o),
		dial: dialOPCUA,
	}
}

func (*OPCUAAdapter) Protocol() string { return "opcua" }

// endpoint prefers the configured endpoint URL and falls back to opc.tcp://address:port.
func (a *OPCUAAdapter) endpoint() string {
	if ep := strings.TrimSpace(a.device.Endpoint); ep != "" {
		return ep
	}

	return "opc.tcp://" + a.hostPort(defaultOPCUAPort)
}

func (a *OPCUAAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return nil
	}

	endpoint := a.endpoint()
	timeout := a.timeout(defaultOPCUATimeout, minModbusTimeout)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := a.dial(dialCtx, endpoint, timeout)
	if err != nil {
		return fmt.Errorf("opcua connect %s: %w", endpoint, err)
	}

	a.session = session
	a.connected.Store(true)

	a.log.Info().Str("device_id", a.device.ID).Str("endpoint", endpoint).Msg("OPC UA connected")

	return nil
}

func (a *OPCUAAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected.Store(false)

	if a.session == nil {
		return nil
	}

	err := a.session.Close(ctx)
	a.session = nil

	return err
}

func (a *OPCUAAdapter) ReadRegister(ctx context.Context, reg models.Register) (*models.Measurement, error) {
	id, err := ua.ParseNodeID(strings.TrimSpace(reg.Address))
	if err != nil {
		return a.badMeasurement(&reg, reg.Address, fmt.Errorf("%w: %w", ErrInvalidAddress, err)), nil
	}

	a.mu.Lock()
	session := a.session
	a.mu.Unlock()

	if session == nil {
		return nil, fmt.Errorf("opcua read %s: %w", reg.Address, ErrNotConnected)
	}

	resp, err := session.Read(ctx, &ua.ReadRequest{
		MaxAge:             0,
		NodesToRead:        []*ua.ReadValueID{{NodeID: id}},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, fmt.Errorf("opcua read %s: %w", reg.Address, err)
	}

	if resp == nil || len(resp.Results) == 0 || resp.Results[0] == nil {
		return nil, fmt.Errorf("opcua read %s: %w", reg.Address, errOPCUANoResult)
	}

	result := resp.Results[0]
	if result.Status != ua.StatusOK {
		return nil, fmt.Errorf("opcua read %s: %w: %v", reg.Address, errOPCUABadStatus, result.Status)
	}

	var value any
	if result.Value != nil {
		value = result.Value.Value()
	}

	v, err := numericValue(value)
	if err != nil {
		return a.badMeasurement(&reg, fmt.Sprint(value), err), nil
	}

	r, err := coerce(reg.DataType, v)
	if err != nil {
		return a.badMeasurement(&reg, r.raw, err), nil
	}

	return a.measurement(&reg, r), nil
}

// numericValue flattens the scalar variant types a PLC node reports into a float64.
func numericValue(value any) (float64, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}

		return 0, nil
	case int8:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrUnsupportedDataType, v)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedDataType, value)
	}
}
