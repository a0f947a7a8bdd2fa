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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(context.Background(), &Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewDebugOverridesLevel(t *testing.T) {
	l, err := New(context.Background(), &Config{Level: "error", Debug: true, Output: "stderr"})
	require.NoError(t, err)

	zl := l.WithComponent("poller")
	assert.Equal(t, zerolog.DebugLevel, zl.GetLevel())
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer

	l := FromZerolog(zerolog.New(&buf))
	zl := l.WithComponent("sink")
	zl.Info().Msg("flushed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sink", entry["component"])
	assert.Equal(t, "flushed", entry["message"])
}

func TestNewTestLoggerDiscards(t *testing.T) {
	l := NewTestLogger()
	l.Info().Str("k", "v").Msg("ignored")
	l.SetDebug(true)
}

func TestMapZerologLevelToOTEL(t *testing.T) {
	tests := map[string]log.Severity{
		"trace":   log.SeverityTrace,
		"debug":   log.SeverityDebug,
		"info":    log.SeverityInfo,
		"WARN":    log.SeverityWarn,
		"error":   log.SeverityError,
		"panic":   log.SeverityFatal,
		"unknown": log.SeverityInfo,
	}

	for level, want := range tests {
		assert.Equal(t, want, mapZerologLevelToOTEL(level), level)
	}
}

func TestInitializeMetricsDisabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), &OTelConfig{}, 0)
	require.True(t, errors.Is(err, ErrOTelMetricsDisabled))
}

func TestNewOTELWriterRequiresEndpoint(t *testing.T) {
	_, err := NewOTELWriter(context.Background(), OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)

	_, err = NewOTELWriter(context.Background(), OTelConfig{})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)
}

func TestMultiWriterFansOut(t *testing.T) {
	var a, b bytes.Buffer

	mw := NewMultiWriter(&a, &b)
	n, err := mw.Write([]byte("line"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "line", a.String())
	assert.Equal(t, "line", b.String())
}

func TestFormatAttributeValue(t *testing.T) {
	assert.Equal(t, "plain", formatAttributeValue("plain"))
	assert.Equal(t, "3", formatAttributeValue(float64(3)))
	assert.Equal(t, `{"a":1}`, formatAttributeValue(map[string]interface{}{"a": 1}))
	assert.Len(t, formatAttributeValue(string(make([]byte, maxAttributeValueLength+10))), maxAttributeValueLength)
}
