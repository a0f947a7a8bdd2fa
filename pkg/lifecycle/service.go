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

// Package lifecycle runs long-lived services until a shutdown signal arrives.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/plcgateway/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

var errShutdownTimeout = errors.New("timed out waiting for service to stop")

// Service is a component with a blocking-free Start and an awaited Stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServiceOptions configures RunService.
type ServiceOptions struct {
	ServiceName     string
	Service         Service
	Logger          logger.Logger
	ShutdownTimeout time.Duration
	// HealthAddr, when set, serves the gRPC health service for ServiceName.
	HealthAddr string
	// Signals overrides the default SIGINT/SIGTERM set; used by tests.
	Signals <-chan os.Signal
}

// RunService starts the service and blocks until a signal arrives or ctx ends,
// then stops it within the shutdown timeout.
func RunService(ctx context.Context, opts *ServiceOptions) error {
	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	sigCh := opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

		defer signal.Stop(ch)

		sigCh = ch
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var healthSrv *HealthServer

	if opts.HealthAddr != "" {
		healthSrv = NewHealthServer(opts.HealthAddr, opts.ServiceName, log)
		if err := healthSrv.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}

		defer func() {
			if err := healthSrv.Stop(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Health server stopped with error")
			}
		}()
	}

	if err := opts.Service.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	if healthSrv != nil {
		healthSrv.SetServing(true)
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service started")

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	cancel()

	if healthSrv != nil {
		healthSrv.SetServing(false)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
	defer stopCancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- opts.Service.Stop(stopCtx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err)
		}
	case <-stopCtx.Done():
		return errShutdownTimeout
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service stopped")

	return nil
}
