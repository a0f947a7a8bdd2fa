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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/plcgateway/pkg/config"
	"github.com/carverauto/plcgateway/pkg/gateway"
	"github.com/carverauto/plcgateway/pkg/lifecycle"
	"github.com/carverauto/plcgateway/pkg/logger"
)

var (
	errFailedToLoadConfig = errors.New("failed to load config")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/plc-gateway/gateway.yaml", "Path to gateway config file")
	flag.Parse()

	ctx := context.Background()

	var cfg gateway.Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	gwLogger, err := lifecycle.CreateComponentLogger(ctx, "plc-gateway", cfg.LogConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shut down logger: %v", err)
		}
	}()

	otelCfg := cfg.LogConfig().OTel

	if cfg.Metrics.Enabled {
		if _, err := logger.InitializeMetrics(ctx, &otelCfg, cfg.Metrics.ExportInterval.Or(0)); err != nil {
			if !errors.Is(err, logger.ErrOTelMetricsDisabled) {
				return fmt.Errorf("failed to initialize metrics: %w", err)
			}

			gwLogger.Info().Msg("Metrics export disabled, no OTLP endpoint configured")
		}
	}

	if _, err := logger.InitializeTracing(ctx, &otelCfg); err != nil {
		gwLogger.Warn().Err(err).Msg("Tracing unavailable")
	}

	gw, err := gateway.New(ctx, &cfg, gwLogger)
	if err != nil {
		return err
	}

	return lifecycle.RunService(ctx, &lifecycle.ServiceOptions{
		ServiceName: cfg.ServiceName,
		Service:     gw,
		Logger:      gwLogger,
		HealthAddr:  cfg.HealthAddr,
	})
}
