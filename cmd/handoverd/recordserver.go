// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiserver "github.com/juju/handover/apiserver/ownershiprecord"
	"github.com/juju/handover/cmd"
	"github.com/juju/handover/domain/ownership/service"
	"github.com/juju/handover/domain/ownership/state"
	"github.com/juju/handover/internal/database"
	internallogger "github.com/juju/handover/internal/logger"
	"github.com/juju/handover/internal/worker/httpserver"
)

type recordServerCommand struct {
	agentCommand
}

func (c *recordServerCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "record-server",
		Purpose: "serve the authoritative ownership record",
		Doc: `
Serves the ownership record of every subject from a local SQLite database.
Exactly one record server is authoritative; guardians on every cluster
resolve ownership against it.
`,
	}
}

func (c *recordServerCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
}

func (c *recordServerCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *recordServerCommand) Run(ctx *cmd.Context) error {
	if err := c.loadConfig(ctx); err != nil {
		return errors.Trace(err)
	}
	config := c.config.RecordServer
	if config == nil {
		return errors.NotValidf("agent config without record-server section")
	}

	dbLogger := internallogger.GetLogger("handover.database")
	db, err := database.Open(ctx, ctx.AbsPath(config.Database), state.Schema, clock.WallClock, dbLogger)
	if err != nil {
		return errors.Trace(err)
	}
	defer db.Close()

	svcLogger := internallogger.GetLogger("handover.ownership")
	svc := service.NewService(state.NewState(db, svcLogger), clock.WallClock, config.Timeout.D(), svcLogger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	router := mux.NewRouter()
	apiserver.NewHandlers(svc, internallogger.GetLogger("handover.apiserver.ownershiprecord")).AddHandlers(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	listener, err := httpserver.NewTCPListener(config.ListenAddress)
	if err != nil {
		return errors.Annotatef(err, "listening on %q", config.ListenAddress)
	}
	w, err := httpserver.NewWorker(httpserver.Config{
		Listener:        listener,
		Handler:         router,
		ShutdownTimeout: c.config.Guardian.ShutdownTimeout.D(),
		Logger:          internallogger.GetLogger("handover.worker.httpserver"),
	})
	if err != nil {
		_ = listener.Close()
		return errors.Trace(err)
	}
	return runUntilCancelled(ctx, w)
}
