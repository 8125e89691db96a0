// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package systemd supervises the serving process as a systemd unit over
// D-Bus.
package systemd

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/juju/errors"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/internal/supervisor"
)

// DBusAPI describes the systemd D-Bus calls used by the supervisor.
type DBusAPI interface {
	Close()
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
}

// NewDBusAPIFunc connects to systemd.
type NewDBusAPIFunc func(ctx context.Context) (DBusAPI, error)

// NewDBusAPI connects to the system bus.
func NewDBusAPI(ctx context.Context) (DBusAPI, error) {
	return dbus.NewWithContext(ctx)
}

// Supervisor controls a single systemd unit.
type Supervisor struct {
	unit    string
	newDBus NewDBusAPIFunc
	logger  logger.Logger
}

var _ supervisor.Supervisor = (*Supervisor)(nil)

// New returns a supervisor for the named unit.
func New(unit string, newDBus NewDBusAPIFunc, logger logger.Logger) *Supervisor {
	return &Supervisor{
		unit:    unit,
		newDBus: newDBus,
		logger:  logger,
	}
}

// Running is part of supervisor.Supervisor.
func (s *Supervisor) Running(ctx context.Context) (bool, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer conn.Close()
	return s.running(ctx, conn)
}

func (s *Supervisor) running(ctx context.Context, conn DBusAPI) (bool, error) {
	units, err := conn.ListUnitsByNamesContext(ctx, []string{s.unit})
	if err != nil {
		return false, errors.Annotatef(err, "querying unit %q", s.unit)
	}
	for _, unit := range units {
		if unit.Name == s.unit {
			return unit.LoadState == "loaded" && unit.ActiveState == "active", nil
		}
	}
	return false, nil
}

// Start is part of supervisor.Supervisor.
func (s *Supervisor) Start(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	running, err := s.running(ctx, conn)
	if err != nil {
		return errors.Trace(err)
	}
	if running {
		s.logger.Debugf("unit %q already running", s.unit)
		return nil
	}

	statusCh := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, s.unit, "replace", statusCh); err != nil {
		return errors.Annotatef(err, "starting unit %q", s.unit)
	}
	if err := s.wait(ctx, "start", statusCh); err != nil {
		return errors.Trace(err)
	}
	s.logger.Infof("unit %q started", s.unit)
	return nil
}

// Stop is part of supervisor.Supervisor.
func (s *Supervisor) Stop(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	running, err := s.running(ctx, conn)
	if err != nil {
		return errors.Trace(err)
	}
	if !running {
		s.logger.Debugf("unit %q not running", s.unit)
		return nil
	}

	statusCh := make(chan string, 1)
	if _, err := conn.StopUnitContext(ctx, s.unit, "replace", statusCh); err != nil {
		return errors.Annotatef(err, "stopping unit %q", s.unit)
	}
	if err := s.wait(ctx, "stop", statusCh); err != nil {
		return errors.Trace(err)
	}
	s.logger.Infof("unit %q stopped", s.unit)
	return nil
}

func (s *Supervisor) connect(ctx context.Context) (DBusAPI, error) {
	conn, err := s.newDBus(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to dbus for unit %q", s.unit)
	}
	return conn, nil
}

func (s *Supervisor) wait(ctx context.Context, op string, statusCh <-chan string) error {
	select {
	case status := <-statusCh:
		if status != "done" {
			return errors.Errorf("failed to %s unit %q (job status %q)", op, s.unit, status)
		}
		return nil
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "waiting to %s unit %q", op, s.unit)
	}
}
