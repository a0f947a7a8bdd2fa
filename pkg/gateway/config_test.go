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

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/plcgateway/pkg/models"
)

func validConfig() *Config {
	return &Config{
		Database: &models.DatabaseConfig{Host: "db.local", Database: "plc"},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "minimal", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Database = nil }, wantErr: true},
		{name: "database without host", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: true},
		{name: "nats block without url is ignored", mutate: func(c *Config) { c.NATS = &models.NATSConfig{} }},
		{
			name: "nats mtls without certs",
			mutate: func(c *Config) {
				c.NATS = &models.NATSConfig{URL: "nats://localhost:4222", Security: &models.SecurityConfig{Mode: models.SecurityModeMTLS}}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "plc-gateway", cfg.ServiceName)
		})
	}
}

func TestApplyEnvOverridesPollingSwitch(t *testing.T) {
	t.Parallel()

	env := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}

	cfg := validConfig()
	require.NoError(t, cfg.applyEnv(env(nil)))
	assert.Nil(t, cfg.Polling.Enabled)
	assert.True(t, cfg.Polling.IsEnabled())

	require.NoError(t, cfg.applyEnv(env(map[string]string{EnablePollingEnv: "false"})))
	assert.False(t, cfg.Polling.IsEnabled())

	require.NoError(t, cfg.applyEnv(env(map[string]string{EnablePollingEnv: " 1 "})))
	assert.True(t, cfg.Polling.IsEnabled())

	require.ErrorIs(t, cfg.applyEnv(env(map[string]string{EnablePollingEnv: "maybe"})), errInvalidEnable)
}

func TestLogConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	assert.NotNil(t, cfg.LogConfig())
}
