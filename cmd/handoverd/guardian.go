// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	agentengine "github.com/juju/handover/agent/engine"
	apiserver "github.com/juju/handover/apiserver/guardianstatus"
	"github.com/juju/handover/cmd"
	corelease "github.com/juju/handover/core/lease"
	"github.com/juju/handover/internal/backupstore"
	internallogger "github.com/juju/handover/internal/logger"
	"github.com/juju/handover/internal/statestore/sqlite"
	"github.com/juju/handover/internal/worker/guardian"
	"github.com/juju/handover/internal/worker/httpserver"
	"github.com/juju/handover/internal/worker/leaserenewer"
)

const statusServerName = "status-server"

type guardianCommand struct {
	agentCommand
}

func (c *guardianCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "guardian",
		Purpose: "guard the state stores of this cluster",
		Doc: `
Runs a state-store guardian for every configured subject, a lease renewer
per subject when a lease store is configured, and the guardian status
server.

A guardian that loses its confirmation of ownership writes a final snapshot
and never serves that subject again. This includes a record that cannot be
resolved while this cluster is the sole owner. If no migration followed,
recover as follows. Stop the guardian. In this cluster's backup store,
rename the final snapshot <subject>/snapshots/<revision>.final to
<subject>/snapshots/<revision>. Keep the markers under <subject>/restore/,
so the restarted guardian serves its local state without restoring it
again.
`,
	}
}

func (c *guardianCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
}

func (c *guardianCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *guardianCommand) Run(ctx *cmd.Context) error {
	if err := c.loadConfig(ctx); err != nil {
		return errors.Trace(err)
	}
	if len(c.config.Subjects) == 0 {
		return errors.NotValidf("agent config without subjects")
	}

	store, err := newBackupStore(ctx, c.config.BackupStore)
	if err != nil {
		return errors.Trace(err)
	}
	leaseStore, err := newLeaseStore(c.config.Lease)
	if errors.Is(err, errors.NotSupported) {
		logger.Infof("no lease store configured, not renewing leases")
		leaseStore = nil
	} else if err != nil {
		return errors.Trace(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := guardian.NewMetricsCollector()
	registry.MustRegister(metrics)

	manifolds, err := c.manifolds(store, leaseStore, metrics, registry)
	if err != nil {
		return errors.Trace(err)
	}

	engine, err := dependency.NewEngine(agentengine.DependencyEngineConfig(
		dependency.DefaultMetrics(),
		internallogger.GetLogger("handover.worker.dependency"),
	))
	if err != nil {
		return errors.Trace(err)
	}
	if err := dependency.Install(engine, manifolds); err != nil {
		if err := worker.Stop(engine); err != nil {
			logger.Errorf("while stopping engine with bad manifolds: %v", err)
		}
		return errors.Trace(err)
	}
	return runUntilCancelled(ctx, engine)
}

func (c *guardianCommand) manifolds(
	backupStore backupstore.Store,
	leaseStore corelease.Store,
	metrics *guardian.Collector,
	registry *prometheus.Registry,
) (dependency.Manifolds, error) {
	resolver := newRecordClient(c.config.Record)
	timings := c.config.Guardian

	manifolds := dependency.Manifolds{}
	var (
		subjects []string
		inputs   []string
	)
	for _, subject := range c.config.Subjects {
		sup, err := newSupervisor(subject)
		if err != nil {
			return nil, errors.Annotatef(err, "subject %q", subject.ID)
		}
		name := agentengine.GuardianName(subject.ID)
		manifolds[name] = guardian.Manifold(guardian.ManifoldConfig{
			Config: guardian.Config{
				SubjectID:        subject.ID,
				ClusterID:        c.config.ClusterID,
				Resolver:         resolver,
				BackupStore:      backupStore,
				Engine:           sqlite.NewEngine(subject.Database, internallogger.GetLogger("handover.statestore."+subject.ID)),
				Supervisor:       sup,
				PollInterval:     timings.PollInterval.D(),
				ResolveTimeout:   timings.ResolveTimeout.D(),
				SnapshotInterval: timings.SnapshotInterval.D(),
				BackupTimeout:    timings.BackupTimeout.D(),
				Clock:            clock.WallClock,
				Logger:           internallogger.GetLogger("handover.worker.guardian." + subject.ID),
				Metrics:          metrics,
			},
			NewWorker: guardian.NewWorker,
		})
		subjects = append(subjects, subject.ID)
		inputs = append(inputs, name)

		if leaseStore == nil {
			continue
		}
		manifolds[agentengine.LeaseRenewerName(subject.ID)] = leaserenewer.Manifold(leaserenewer.ManifoldConfig{
			Config: leaserenewer.Config{
				SubjectID:      subject.ID,
				HolderID:       c.config.ClusterID,
				Resolver:       resolver,
				Writer:         leaseStore,
				RenewInterval:  c.config.Lease.RenewInterval.D(),
				LeaseDuration:  c.config.Lease.Duration.D(),
				ResolveTimeout: timings.ResolveTimeout.D(),
				Clock:          clock.WallClock,
				Logger:         internallogger.GetLogger("handover.worker.leaserenewer." + subject.ID),
			},
			NewWorker: leaserenewer.NewWorkerShim,
		})
	}

	statusLogger := internallogger.GetLogger("handover.apiserver.guardianstatus")
	manifolds[statusServerName] = httpserver.Manifold(httpserver.ManifoldConfig{
		Inputs: inputs,
		NewHandler: func(getter dependency.Getter) (http.Handler, error) {
			sources, err := agentengine.StatusSources(getter, subjects)
			if err != nil {
				return nil, errors.Trace(err)
			}
			router := mux.NewRouter()
			apiserver.NewHandlers(sources, registry, statusLogger).AddHandlers(router)
			return router, nil
		},
		ListenAddress:   c.config.ListenAddress,
		ShutdownTimeout: timings.ShutdownTimeout.D(),
		Logger:          internallogger.GetLogger("handover.worker.httpserver"),
		NewListener:     httpserver.NewTCPListener,
	})
	return manifolds, nil
}
