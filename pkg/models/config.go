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

package models

import "errors"

var (
	errNATSURLRequired       = errors.New("nats url is required")
	errDatabaseHostRequired  = errors.New("database host is required")
	errDatabaseNameRequired  = errors.New("database name is required")
	errSecurityModeInvalid   = errors.New("security mode must be none or mtls")
	errSecurityCertsRequired = errors.New("mtls requires cert_file, key_file and ca_file")
)

// SecurityMode defines the type of security to use.
type SecurityMode string

const (
	SecurityModeNone SecurityMode = "none"
	SecurityModeMTLS SecurityMode = "mtls"
)

// TLSConfig holds file paths for TLS material.
type TLSConfig struct {
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file"`
}

// SecurityConfig holds common security configuration.
type SecurityConfig struct {
	Mode       SecurityMode `json:"mode" yaml:"mode"`
	CertDir    string       `json:"cert_dir" yaml:"cert_dir"`
	ServerName string       `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	TLS        TLSConfig    `json:"tls" yaml:"tls"`
}

// Validate ensures mtls mode is fully specified.
func (s *SecurityConfig) Validate() error {
	switch s.Mode {
	case "", SecurityModeNone:
		return nil
	case SecurityModeMTLS:
		if s.TLS.CertFile == "" || s.TLS.KeyFile == "" || s.TLS.CAFile == "" {
			return errSecurityCertsRequired
		}

		return nil
	default:
		return errSecurityModeInvalid
	}
}

// NATSConfig configures the event bus connection.
type NATSConfig struct {
	URL           string `json:"url" yaml:"url"`
	Domain        string `json:"domain,omitempty" yaml:"domain,omitempty"`
	CredsFile     string `json:"creds_file,omitempty" yaml:"creds_file,omitempty"`
	StreamName    string `json:"stream_name" yaml:"stream_name"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`

	// SwitchBucket names the KV bucket holding the shared polling switch. Empty disables it.
	SwitchBucket string          `json:"switch_bucket,omitempty" yaml:"switch_bucket,omitempty"`
	Security     *SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
}

// Validate ensures the NATS configuration is usable.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return errNATSURLRequired
	}

	if c.Security != nil {
		return c.Security.Validate()
	}

	return nil
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	Database        string   `json:"database" yaml:"database"`
	Username        string   `json:"username" yaml:"username"`
	Password        string   `json:"password" yaml:"password"`
	SSLMode         string   `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
	MaxConnections  int32    `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	MinConnections  int32    `json:"min_connections,omitempty" yaml:"min_connections,omitempty"`
	MaxConnLifetime Duration `json:"max_conn_lifetime,omitempty" yaml:"max_conn_lifetime,omitempty"`
	HealthCheck     Duration `json:"health_check_period,omitempty" yaml:"health_check_period,omitempty"`

	// StatementTimeout is sent to the server as the statement_timeout runtime parameter.
	StatementTimeout   Duration          `json:"statement_timeout,omitempty" yaml:"statement_timeout,omitempty"`
	ApplicationName    string            `json:"application_name,omitempty" yaml:"application_name,omitempty"`
	ExtraRuntimeParams map[string]string `json:"extra_runtime_params,omitempty" yaml:"extra_runtime_params,omitempty"`
	Security           *SecurityConfig   `json:"security,omitempty" yaml:"security,omitempty"`
	Migrate            bool              `json:"migrate" yaml:"migrate"`
}

// Validate ensures the database configuration is usable.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return errDatabaseHostRequired
	}

	if c.Database == "" {
		return errDatabaseNameRequired
	}

	if c.Security != nil {
		return c.Security.Validate()
	}

	return nil
}

// PollingConfig tunes the device pollers and the reconciler.
type PollingConfig struct {
	Enabled            *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ReconcileInterval  Duration `json:"reconcile_interval,omitempty" yaml:"reconcile_interval,omitempty"`
	MaxConcurrentReads int      `json:"max_concurrent_reads,omitempty" yaml:"max_concurrent_reads,omitempty"`
	Pacing             Duration `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	BackoffMax         Duration `json:"backoff_max,omitempty" yaml:"backoff_max,omitempty"`
	LastSeenDebounce   Duration `json:"last_seen_debounce,omitempty" yaml:"last_seen_debounce,omitempty"`
}

// IsEnabled reports the configured switch. Polling is on unless explicitly disabled.
func (c *PollingConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SinkConfig tunes measurement batching and event publication. Failed batches are
// re-queued indefinitely; MaxFlushRetries only sets when their logging escalates to error.
type SinkConfig struct {
	BatchSize         int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	FlushInterval     Duration `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"`
	MaxFlushRetries   int      `json:"max_flush_retries,omitempty" yaml:"max_flush_retries,omitempty"`
	MaxBuffered       int      `json:"max_buffered,omitempty" yaml:"max_buffered,omitempty"`
	QueueSize         int      `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	PublishMaxBackoff Duration `json:"publish_max_backoff,omitempty" yaml:"publish_max_backoff,omitempty"`
}
