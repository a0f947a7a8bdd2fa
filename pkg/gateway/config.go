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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
)

// EnablePollingEnv overrides polling.enabled when set.
const EnablePollingEnv = "ENABLE_POLLING"

const defaultServiceName = "plc-gateway"

var (
	errDatabaseRequired = errors.New("database configuration is required")
	errInvalidEnable    = errors.New("invalid " + EnablePollingEnv + " value")
)

// MetricsConfig controls OTLP metric export. Endpoint and credentials come from the
// logging OTel block.
type MetricsConfig struct {
	Enabled        bool            `json:"enabled" yaml:"enabled"`
	ExportInterval models.Duration `json:"export_interval,omitempty" yaml:"export_interval,omitempty"`
}

// Config is the plc-gateway service configuration.
type Config struct {
	ServiceName string                 `json:"service_name" yaml:"service_name"`
	HealthAddr  string                 `json:"health_addr,omitempty" yaml:"health_addr,omitempty"`
	Logging     *logger.Config         `json:"logging,omitempty" yaml:"logging,omitempty"`
	Database    *models.DatabaseConfig `json:"database" yaml:"database"`
	NATS        *models.NATSConfig     `json:"nats,omitempty" yaml:"nats,omitempty"`
	Polling     models.PollingConfig   `json:"polling" yaml:"polling"`
	Sink        models.SinkConfig      `json:"sink" yaml:"sink"`
	Metrics     MetricsConfig          `json:"metrics" yaml:"metrics"`
}

// Validate checks the configuration after loading.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}

	if c.Database == nil {
		return errDatabaseRequired
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.NATSEnabled() {
		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}

	return nil
}

// NATSEnabled reports whether an event bus is configured.
func (c *Config) NATSEnabled() bool {
	return c.NATS != nil && c.NATS.URL != ""
}

// ApplyEnv applies process environment overrides.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	raw, ok := lookup(EnablePollingEnv)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}

	enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w %q: %w", errInvalidEnable, raw, err)
	}

	c.Polling.Enabled = &enabled

	return nil
}

// LogConfig returns the logging block or the environment defaults.
func (c *Config) LogConfig() *logger.Config {
	if c.Logging != nil {
		return c.Logging
	}

	return logger.DefaultConfig()
}
