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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/plcgateway/pkg/logger"
)

var (
	errUnknownControl  = errors.New("unknown control command")
	errMissingEnabled  = errors.New(`"enabled" is required`)
	errNilControlConn  = errors.New("nats connection is required")
	errNilControlPlane = errors.New("control handler is required")
)

// PollingControl is driven by control messages.
type PollingControl interface {
	SetEnabled(enabled bool)
	Enabled() bool
	Trigger()
}

type pollingCommand struct {
	Enabled *bool `json:"enabled"`
}

type controlReply struct {
	OK      bool   `json:"ok"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// ControlSubjects returns the subjects served by SubscribeControl.
func ControlSubjects(subjectPrefix string) (polling, reconcile string) {
	prefix := strings.TrimSuffix(subjectPrefix, ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	return prefix + ".control.polling", prefix + ".control.reconcile"
}

// SubscribeControl listens for runtime commands:
//
//	<prefix>.control.polling    {"enabled": false}
//	<prefix>.control.reconcile  (any payload)
//
// Requests with a reply subject receive a JSON acknowledgement.
func SubscribeControl(nc *nats.Conn, subjectPrefix string, ctl PollingControl, log logger.Logger) (*nats.Subscription, error) {
	if nc == nil {
		return nil, errNilControlConn
	}

	if ctl == nil {
		return nil, errNilControlPlane
	}

	pollingSubject, reconcileSubject := ControlSubjects(subjectPrefix)
	wildcard := strings.TrimSuffix(pollingSubject, "polling") + "*"

	sub, err := nc.Subscribe(wildcard, func(msg *nats.Msg) {
		var cmdErr error

		switch msg.Subject {
		case pollingSubject:
			cmdErr = applyPollingCommand(ctl, msg.Data)
		case reconcileSubject:
			ctl.Trigger()
		default:
			cmdErr = fmt.Errorf("%w: %s", errUnknownControl, msg.Subject)
		}

		if cmdErr != nil {
			log.Warn().Err(cmdErr).Str("subject", msg.Subject).Msg("Rejected control command")
		} else {
			log.Info().Str("subject", msg.Subject).Bool("enabled", ctl.Enabled()).Msg("Applied control command")
		}

		if msg.Reply == "" {
			return
		}

		reply := controlReply{OK: cmdErr == nil, Enabled: ctl.Enabled()}
		if cmdErr != nil {
			reply.Error = cmdErr.Error()
		}

		data, err := json.Marshal(reply)
		if err != nil {
			return
		}

		if err := msg.Respond(data); err != nil {
			log.Debug().Err(err).Msg("Failed to answer control command")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", wildcard, err)
	}

	return sub, nil
}

func applyPollingCommand(ctl PollingControl, data []byte) error {
	var cmd pollingCommand

	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("invalid polling command: %w", err)
	}

	if cmd.Enabled == nil {
		return errMissingEnabled
	}

	ctl.SetEnabled(*cmd.Enabled)

	return nil
}
