// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package systemd

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/juju/testing"
)

type StubDbusAPI struct {
	*testing.Stub

	Units     []dbus.UnitStatus
	JobStatus string
}

func (fda *StubDbusAPI) AddUnit(name, status string) {
	fda.Units = append(fda.Units, dbus.UnitStatus{
		Name:        name,
		ActiveState: status,
		LoadState:   "loaded",
	})
}

func (fda *StubDbusAPI) ListUnitsByNamesContext(_ context.Context, units []string) ([]dbus.UnitStatus, error) {
	fda.Stub.AddCall("ListUnitsByNames", units)

	return fda.Units, fda.NextErr()
}

func (fda *StubDbusAPI) StartUnitContext(_ context.Context, name string, mode string, ch chan<- string) (int, error) {
	fda.Stub.AddCall("StartUnit", name, mode)

	if err := fda.NextErr(); err != nil {
		return 0, err
	}
	ch <- fda.JobStatus
	return 1, nil
}

func (fda *StubDbusAPI) StopUnitContext(_ context.Context, name string, mode string, ch chan<- string) (int, error) {
	fda.Stub.AddCall("StopUnit", name, mode)

	if err := fda.NextErr(); err != nil {
		return 0, err
	}
	ch <- fda.JobStatus
	return 1, nil
}

func (fda *StubDbusAPI) Close() {
	fda.Stub.AddCall("Close")

	fda.Stub.NextErr() // We don't return the error (just pop it off).
}
