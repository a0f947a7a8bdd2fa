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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/models"
)

type fakeS7Link struct {
	db  map[int][]byte
	mb  []byte
	err error
}

func (l *fakeS7Link) AGReadDB(dbNumber, start, size int, buffer []byte) error {
	if l.err != nil {
		return l.err
	}

	copy(buffer, l.db[dbNumber][start:start+size])

	return nil
}

func (l *fakeS7Link) AGReadMB(start, size int, buffer []byte) error {
	if l.err != nil {
		return l.err
	}

	copy(buffer, l.mb[start:start+size])

	return nil
}

func (*fakeS7Link) Close() error { return nil }

func TestParseS7Address(t *testing.T) {
	t.Parallel()

	addr, err := parseS7Address("DB1.DBX0.3")
	require.NoError(t, err)
	assert.Equal(t, s7Address{Area: s7AreaDB, DB: 1, Width: 'X', Start: 0, Bit: 3}, addr)

	addr, err = parseS7Address("db12.dbw20")
	require.NoError(t, err)
	assert.Equal(t, s7Address{Area: s7AreaDB, DB: 12, Width: 'W', Start: 20, Bit: -1}, addr)

	addr, err = parseS7Address("M10.7")
	require.NoError(t, err)
	assert.Equal(t, s7Address{Area: s7AreaMerker, Start: 10, Bit: 7}, addr)

	for _, bad := range []string{"", "DB1", "DB1.DBQ0", "Q0.0", "M10.x", "DB1.DBX0.9", "M10.8"} {
		_, err = parseS7Address(bad)
		require.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestParseRackSlot(t *testing.T) {
	t.Parallel()

	tests := map[string][2]int{
		"":      {0, 2},
		"0,1":   {0, 1},
		"1.3":   {1, 3},
		"2 / 4": {2, 4},
		"x,y":   {0, 2},
		"5":     {0, 2},
	}

	for in, want := range tests {
		rack, slot := parseRackSlot(in)
		assert.Equal(t, want, [2]int{rack, slot}, in)
	}
}

func TestS7ReadRegister(t *testing.T) {
	t.Parallel()

	dev := &models.Device{ID: "s7-1", Address: "10.0.0.7", Protocol: "siemens", RackSlot: "0;1"}
	a := newS7Adapter(dev, newOptions(nil)).(*S7Adapter)

	link := &fakeS7Link{
		db: map[int][]byte{
			1: {0x08, 0x00, 0x80, 0x00, 0x41, 0x20, 0x00, 0x00},
		},
		mb: []byte{0x00, 0x00, 0xFF, 0xFF},
	}
	a.dial = func(address string, rack, slot int, _ time.Duration) (s7Link, error) {
		assert.Equal(t, "10.0.0.7:102", address)
		assert.Equal(t, 0, rack)
		assert.Equal(t, 1, slot)

		return link, nil
	}

	ctx := context.Background()
	require.NoError(t, a.Connect(ctx))

	tests := []struct {
		reg  models.Register
		want float64
	}{
		{models.Register{ID: "bit", Address: "DB1.DBX0.3"}, 1},
		{models.Register{ID: "bit-off", Address: "DB1.DBX0.2"}, 0},
		{models.Register{ID: "word", Address: "DB1.DBW2", DataType: "int"}, -32768},
		{models.Register{ID: "real", Address: "DB1.DBD4", DataType: "real"}, 10},
		{models.Register{ID: "merker", Address: "M2", DataType: "word"}, 65535},
	}

	for _, tt := range tests {
		m, err := a.ReadRegister(ctx, tt.reg)
		require.NoError(t, err, tt.reg.ID)

		v, ok := m.Value()
		require.True(t, ok, tt.reg.ID)
		assert.InDelta(t, tt.want, v, 1e-6, tt.reg.ID)
	}

	for _, addr := range []string{"Q0.1", "DB1.DBX0.9"} {
		m, err := a.ReadRegister(ctx, models.Register{ID: "bad", Address: addr})
		require.NoError(t, err, addr)
		assert.Equal(t, models.QualityBad, m.Quality, addr)
	}

	link.err = errLinkDown
	_, err := a.ReadRegister(ctx, models.Register{ID: "word", Address: "DB1.DBW2"})
	require.ErrorIs(t, err, errLinkDown)
}
