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

package natsutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/plcgateway/pkg/logger"
)

// PollingEnabledKey is the KV key holding the shared polling switch.
const PollingEnabledKey = "polling_enabled"

const defaultKVTimeout = 5 * time.Second

// SwitchStore keeps the polling switch in a JetStream key-value bucket so every
// gateway instance and restart sees the same value.
type SwitchStore struct {
	kv     jetstream.KeyValue
	key    string
	logger logger.Logger
}

// NewSwitchStore opens (or creates) bucket.
func NewSwitchStore(ctx context.Context, js jetstream.JetStream, bucket string, log logger.Logger) (*SwitchStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "plc-gateway runtime switches",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", bucket, err)
	}

	return &SwitchStore{kv: kv, key: PollingEnabledKey, logger: log}, nil
}

// Load returns the stored value. found is false when the key was never written.
func (s *SwitchStore) Load(ctx context.Context) (enabled, found bool, err error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, false, nil
		}

		return false, false, err
	}

	enabled, err = parseSwitch(entry.Value())
	if err != nil {
		return false, false, err
	}

	return enabled, true, nil
}

// Store writes the switch.
func (s *SwitchStore) Store(ctx context.Context, enabled bool) error {
	if _, err := s.kv.Put(ctx, s.key, []byte(strconv.FormatBool(enabled))); err != nil {
		return fmt.Errorf("failed to store polling switch: %w", err)
	}

	return nil
}

// Watch calls apply for the current value and every later change until ctx ends.
// Deleting the key is ignored.
func (s *SwitchStore) Watch(ctx context.Context, apply func(enabled bool)) error {
	watcher, err := s.kv.Watch(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to watch polling switch: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-watcher.Updates():
				if !ok {
					return
				}

				// nil marks the end of the initial values.
				if update == nil {
					continue
				}

				if op := update.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
					continue
				}

				enabled, err := parseSwitch(update.Value())
				if err != nil {
					s.logger.Warn().Err(err).Str("key", s.key).Msg("Ignoring malformed polling switch")
					continue
				}

				apply(enabled)
			}
		}
	}()

	return nil
}

func parseSwitch(raw []byte) (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(string(raw)))
	if err != nil {
		return false, fmt.Errorf("invalid polling switch %q: %w", raw, err)
	}

	return v, nil
}

// PersistentControl forwards commands to a PollingControl after storing the switch.
// The in-memory switch follows the store through Watch.
type PersistentControl struct {
	PollingControl
	Store  *SwitchStore
	Logger logger.Logger
}

// SetEnabled persists the switch and applies it locally.
func (p *PersistentControl) SetEnabled(enabled bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultKVTimeout)
	defer cancel()

	if err := p.Store.Store(ctx, enabled); err != nil {
		p.Logger.Warn().Err(err).Msg("Polling switch not persisted, applying locally")
	}

	p.PollingControl.SetEnabled(enabled)
}
