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

// Package gateway assembles the polling engine into a runnable service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/plcgateway/pkg/adapter"
	"github.com/carverauto/plcgateway/pkg/alarm"
	"github.com/carverauto/plcgateway/pkg/db"
	"github.com/carverauto/plcgateway/pkg/lifecycle"
	"github.com/carverauto/plcgateway/pkg/logger"
	"github.com/carverauto/plcgateway/pkg/models"
	"github.com/carverauto/plcgateway/pkg/natsutil"
	"github.com/carverauto/plcgateway/pkg/poller"
	"github.com/carverauto/plcgateway/pkg/reconcile"
	"github.com/carverauto/plcgateway/pkg/sink"
)

const startupTimeout = 30 * time.Second

var errNilConfig = errors.New("config is required")

// DeviceStore is what the gateway needs from the configuration database.
type DeviceStore interface {
	reconcile.DeviceSource
	reconcile.RegisterLister
	poller.StatusStore
	sink.MeasurementStore
	SetOnlineMany(ctx context.Context, deviceIDs []string, online bool, at time.Time) error
}

// Components are the external collaborators of the engine.
type Components struct {
	Store     DeviceStore
	Alarms    alarm.Repository
	Publisher sink.EventPublisher
	Factory   poller.AdapterFactory
	Clock     poller.Clock

	// Simulator backs simulated devices of the default factory. One is created when nil.
	Simulator *adapter.Simulator

	// Switches, when set, persists and shares the polling switch.
	Switches *natsutil.SwitchStore
}

// Gateway owns the sink, the poller registry and the reconciler.
type Gateway struct {
	cfg    *Config
	logger logger.Logger
	store  DeviceStore

	sink       *sink.Sink
	manager    *poller.Manager
	reconciler *reconcile.Reconciler
	simulator  *adapter.Simulator

	switches   *natsutil.SwitchStore
	pool       *pgxpool.Pool
	nc         *nats.Conn
	controlSub *nats.Subscription
}

// New connects to PostgreSQL and, when configured, NATS, then assembles the engine.
func New(ctx context.Context, cfg *Config, log logger.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database, lifecycle.ComponentLogger(log, "db"))
	if err != nil {
		return nil, err
	}

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, pool, lifecycle.ComponentLogger(log, "migrate")); err != nil {
			pool.Close()
			return nil, err
		}
	}

	comps := Components{
		Store:  db.NewStore(pool, lifecycle.ComponentLogger(log, "store")),
		Alarms: db.NewAlarmStore(pool),
	}

	var nc *nats.Conn

	if cfg.NATSEnabled() {
		natsLog := lifecycle.ComponentLogger(log, "nats")

		nc, err = natsutil.ConnectWithSecurity(cfg.NATS, natsLog)
		if err != nil {
			pool.Close()
			return nil, err
		}

		publisher, err := natsutil.CreateEventPublisher(ctx, nc, cfg.NATS, natsLog)
		if err != nil {
			nc.Close()
			pool.Close()

			return nil, err
		}

		comps.Publisher = publisher

		if cfg.NATS.SwitchBucket != "" {
			comps.Switches, err = openSwitchStore(ctx, nc, cfg.NATS, natsLog)
			if err != nil {
				nc.Close()
				pool.Close()

				return nil, err
			}
		}
	} else {
		log.Warn().Msg("NATS not configured, events will not be published")
	}

	g, err := Assemble(cfg, comps, log)
	if err != nil {
		if nc != nil {
			nc.Close()
		}

		pool.Close()

		return nil, err
	}

	g.pool = pool
	g.nc = nc

	return g, nil
}

// Assemble wires the engine over already-built collaborators.
func Assemble(cfg *Config, comps Components, log logger.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	var sinkOpts []sink.Option
	if comps.Publisher != nil {
		sinkOpts = append(sinkOpts, sink.WithPublisher(comps.Publisher))
	}

	snk := sink.New(comps.Store, &cfg.Sink, lifecycle.ComponentLogger(log, "sink"), sinkOpts...)

	alarmLog := lifecycle.ComponentLogger(log, "alarm")
	alarms := alarm.NewService(comps.Alarms, alarmLog, alarm.WithPublisher(snk))

	sim := comps.Simulator
	if sim == nil {
		sim = adapter.NewSimulator()
	}

	factory := comps.Factory
	if factory == nil {
		adapterLog := lifecycle.ComponentLogger(log, "adapter")

		factory = func(device *models.Device) (adapter.Adapter, error) {
			return adapter.New(device, adapter.WithLogger(adapterLog), adapter.WithSimulator(sim))
		}
	}

	mgr := poller.NewManager(factory, poller.Deps{
		Status:    comps.Store,
		Evaluator: alarms,
		Sink:      snk,
		Clock:     comps.Clock,
	}, poller.SettingsFrom(&cfg.Polling), lifecycle.ComponentLogger(log, "poller"))

	recOpts := []reconcile.Option{reconcile.WithInterval(cfg.Polling.ReconcileInterval.Or(0))}
	if comps.Clock != nil {
		recOpts = append(recOpts, reconcile.WithClock(comps.Clock))
	}

	rec, err := reconcile.New(comps.Store, mgr, reconcile.RegistersFrom(comps.Store), cfg.Polling.IsEnabled(),
		lifecycle.ComponentLogger(log, "reconcile"), recOpts...)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		cfg:        cfg,
		logger:     log,
		store:      comps.Store,
		sink:       snk,
		manager:    mgr,
		reconciler: rec,
		simulator:  sim,
		switches:   comps.Switches,
	}, nil
}

func openSwitchStore(ctx context.Context, nc *nats.Conn, cfg *models.NATSConfig, log logger.Logger) (*natsutil.SwitchStore, error) {
	js, err := natsutil.NewJetStream(nc, cfg)
	if err != nil {
		return nil, err
	}

	return natsutil.NewSwitchStore(ctx, js, cfg.SwitchBucket, log)
}

// Manager exposes the poller registry.
func (g *Gateway) Manager() *poller.Manager {
	return g.manager
}

// Simulator exposes the value generator shared by simulated devices.
func (g *Gateway) Simulator() *adapter.Simulator {
	return g.simulator
}

// Reconciler exposes the reconciliation driver and its polling switch.
func (g *Gateway) Reconciler() *reconcile.Reconciler {
	return g.reconciler
}

// Start clears stale online flags, then starts the sink and the reconciler.
func (g *Gateway) Start(ctx context.Context) error {
	g.clearStaleStatus(ctx)
	g.syncSwitch(ctx)

	g.sink.Start(ctx)

	if err := g.reconciler.Start(ctx); err != nil {
		return err
	}

	if g.nc != nil {
		controlLog := lifecycle.ComponentLogger(g.logger, "control")

		var ctl natsutil.PollingControl = g.reconciler
		if g.switches != nil {
			ctl = &natsutil.PersistentControl{PollingControl: g.reconciler, Store: g.switches, Logger: controlLog}
		}

		sub, err := natsutil.SubscribeControl(g.nc, g.cfg.NATS.SubjectPrefix, ctl, controlLog)
		if err != nil {
			g.logger.Warn().Err(err).Msg("Runtime control unavailable")
		} else {
			g.controlSub = sub
		}
	}

	g.logger.Info().
		Str("service", g.cfg.ServiceName).
		Bool("polling_enabled", g.reconciler.Enabled()).
		Bool("events", g.nc != nil).
		Msg("PLC gateway started")

	return nil
}

// Stop shuts down in dependency order: reconciler, pollers, sink, then connections.
func (g *Gateway) Stop(ctx context.Context) error {
	var errs []error

	if g.controlSub != nil {
		if err := g.controlSub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("control unsubscribe: %w", err))
		}
	}

	if err := g.reconciler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := g.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := g.sink.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if g.nc != nil {
		if err := g.nc.Drain(); err != nil {
			g.nc.Close()
		}
	}

	if g.pool != nil {
		g.pool.Close()
	}

	return errors.Join(errs...)
}

// syncSwitch adopts the shared polling switch, seeding it from the local
// configuration when unset, and follows later changes until ctx ends.
func (g *Gateway) syncSwitch(ctx context.Context) {
	if g.switches == nil {
		return
	}

	enabled, found, err := g.switches.Load(ctx)

	switch {
	case err != nil:
		g.logger.Warn().Err(err).Msg("Could not load shared polling switch")
	case found:
		g.reconciler.SetEnabled(enabled)
	default:
		if err := g.switches.Store(ctx, g.reconciler.Enabled()); err != nil {
			g.logger.Warn().Err(err).Msg("Could not seed shared polling switch")
		}
	}

	if err := g.switches.Watch(ctx, g.reconciler.SetEnabled); err != nil {
		g.logger.Warn().Err(err).Msg("Shared polling switch changes will not be followed")
	}
}

// clearStaleStatus marks devices offline that a previous run left online.
func (g *Gateway) clearStaleStatus(ctx context.Context) {
	devices, err := g.store.ListActiveDevices(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Could not load devices to reset status")
		return
	}

	ids := make([]string, 0, len(devices))

	for _, d := range devices {
		if d.IsOnline {
			ids = append(ids, d.ID)
		}
	}

	if len(ids) == 0 {
		return
	}

	if err := g.store.SetOnlineMany(ctx, ids, false, time.Now()); err != nil {
		g.logger.Warn().Err(err).Int("devices", len(ids)).Msg("Failed to reset stale device status")
		return
	}

	g.logger.Info().Int("devices", len(ids)).Msg("Reset stale online status")
}
