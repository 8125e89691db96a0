// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package leaserenewer provides the cluster-local agent that keeps the
// lease signal of a subject in step with the ownership record. The lease
// is only extended right after the record confirmed this cluster as the
// owner; it is revoked as soon as the record names somebody else, and left
// to run out while the record cannot be resolved.
package leaserenewer

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	corelease "github.com/juju/handover/core/lease"
	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
)

// Config holds the dependencies and parameters of a lease renewer.
type Config struct {
	SubjectID string
	HolderID  string

	Resolver ownership.Resolver
	Writer   corelease.Writer

	// RenewInterval is the time between two resolutions.
	RenewInterval time.Duration

	// LeaseDuration is how long a renewal stays valid. It must exceed
	// RenewInterval so that a healthy renewer never lets the lease lapse.
	LeaseDuration time.Duration

	// ResolveTimeout bounds a single resolution.
	ResolveTimeout time.Duration

	Clock  clock.Clock
	Logger logger.Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if err := ownership.ValidateID(config.SubjectID); err != nil {
		return errors.Annotatef(err, "invalid SubjectID")
	}
	if err := ownership.ValidateID(config.HolderID); err != nil {
		return errors.Annotatef(err, "invalid HolderID")
	}
	if config.Resolver == nil {
		return errors.NotValidf("nil Resolver")
	}
	if config.Writer == nil {
		return errors.NotValidf("nil Writer")
	}
	if config.RenewInterval <= 0 {
		return errors.NotValidf("non-positive RenewInterval")
	}
	if config.LeaseDuration <= config.RenewInterval {
		return errors.NotValidf("LeaseDuration %v not longer than RenewInterval %v", config.LeaseDuration, config.RenewInterval)
	}
	if config.ResolveTimeout <= 0 {
		return errors.NotValidf("non-positive ResolveTimeout")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker renews the lease of one subject.
type Worker struct {
	tomb   tomb.Tomb
	config Config
}

// NewWorker starts a renewer. The first resolution happens immediately.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

func (w *Worker) loop() error {
	ctx := w.tomb.Context(context.Background())
	for {
		w.renew(ctx)
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-w.config.Clock.After(w.config.RenewInterval):
		}
	}
}

func (w *Worker) renew(ctx context.Context) {
	// The lease runs from before the record was read, not after.
	now := w.config.Clock.Now()
	rctx, cancel := context.WithTimeout(ctx, w.config.ResolveTimeout)
	owner, err := w.config.Resolver.Resolve(rctx, w.config.SubjectID)
	cancel()

	signal := corelease.Signal{
		SubjectID: w.config.SubjectID,
		HolderID:  w.config.HolderID,
		Renewed:   now,
	}
	switch {
	case err != nil:
		// Never renewed on anything but a fresh confirmation.
		w.config.Logger.Warningf("not renewing lease of %q: %v", w.config.SubjectID, err)
		return
	case owner == w.config.HolderID:
		signal.Expiry = now.Add(w.config.LeaseDuration)
	default:
		w.config.Logger.Infof("revoking lease of %q: record names %q", w.config.SubjectID, owner)
		signal.Expiry = now
	}

	if err := w.config.Writer.WriteSignal(ctx, signal); err != nil {
		w.config.Logger.Errorf("cannot write lease of %q: %v", w.config.SubjectID, err)
		return
	}
	if w.config.Logger.IsTraceEnabled() {
		w.config.Logger.Tracef("lease of %q valid until %v", w.config.SubjectID, signal.Expiry)
	}
}
