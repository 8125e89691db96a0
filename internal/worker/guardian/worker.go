// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package guardian provides the worker that enforces, on one cluster, that
// the replica of a subject's state store only serves while the ownership
// record names that cluster.
//
// The guardian polls the record on a fixed interval. A poll that cannot
// confirm ownership, whether the record names somebody else or cannot be
// resolved at all, is treated as a loss of ownership: the serving process
// is stopped, which drops every established connection, and one final
// snapshot is attempted. A cluster that produced a final snapshot never
// serves the subject again. A cluster that gains ownership only starts
// serving once the copied snapshot has been restored into its engine.
package guardian

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
	"golang.org/x/sync/singleflight"

	coreguardian "github.com/juju/handover/core/guardian"
	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/internal/backupstore"
	"github.com/juju/handover/internal/statestore"
	"github.com/juju/handover/internal/supervisor"
)

// Config holds the dependencies and parameters of a guardian worker.
type Config struct {
	// SubjectID is the subject guarded.
	SubjectID string

	// ClusterID is the identity of the local cluster, as written in the
	// ownership record.
	ClusterID string

	// Resolver reads the ownership record.
	Resolver ownership.Resolver

	// BackupStore is the local cluster's backup store. It holds the
	// guardian's own snapshot series and any snapshot copied in for it.
	BackupStore backupstore.Store

	// Engine is the local replica of the state store.
	Engine statestore.Engine

	// Supervisor controls the serving process.
	Supervisor supervisor.Supervisor

	// PollInterval is the time between two resolutions of the record.
	PollInterval time.Duration

	// ResolveTimeout bounds a single resolution.
	ResolveTimeout time.Duration

	// SnapshotInterval is the time between two periodic snapshots while
	// Active.
	SnapshotInterval time.Duration

	// BackupTimeout bounds a single snapshot, restore or marker operation
	// against the backup store.
	BackupTimeout time.Duration

	Clock   clock.Clock
	Logger  logger.Logger
	Metrics *Collector
}

// Validate returns an error if the config cannot be used to start a
// guardian.
func (config Config) Validate() error {
	if err := ownership.ValidateID(config.SubjectID); err != nil {
		return errors.Annotatef(err, "invalid SubjectID")
	}
	if err := ownership.ValidateID(config.ClusterID); err != nil {
		return errors.Annotatef(err, "invalid ClusterID")
	}
	if config.Resolver == nil {
		return errors.NotValidf("nil Resolver")
	}
	if config.BackupStore == nil {
		return errors.NotValidf("nil BackupStore")
	}
	if config.Engine == nil {
		return errors.NotValidf("nil Engine")
	}
	if config.Supervisor == nil {
		return errors.NotValidf("nil Supervisor")
	}
	if config.PollInterval <= 0 {
		return errors.NotValidf("non-positive PollInterval")
	}
	if config.ResolveTimeout <= 0 {
		return errors.NotValidf("non-positive ResolveTimeout")
	}
	if config.ResolveTimeout > config.PollInterval {
		return errors.NotValidf("ResolveTimeout %v longer than PollInterval %v", config.ResolveTimeout, config.PollInterval)
	}
	if config.SnapshotInterval <= 0 {
		return errors.NotValidf("non-positive SnapshotInterval")
	}
	if config.BackupTimeout <= 0 {
		return errors.NotValidf("non-positive BackupTimeout")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker guards one subject on the local cluster.
type Worker struct {
	catacomb catacomb.Catacomb

	config  Config
	metrics *Collector
	polls   singleflight.Group

	// opMu serialises state transitions and snapshots.
	opMu sync.Mutex
	// lastRevision is the highest revision written or restored. It is
	// guarded by opMu.
	lastRevision int64

	mu     sync.Mutex
	status coreguardian.Status
}

// NewWorker starts a guardian in Standby. It does not serve until a poll
// confirms ownership.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	w := &Worker{
		config:  config,
		metrics: metrics,
		status: coreguardian.Status{
			SubjectID: config.SubjectID,
			ClusterID: config.ClusterID,
			State:     coreguardian.Standby,
			Since:     config.Clock.Now(),
		},
	}
	metrics.setState(config.SubjectID, coreguardian.Standby)

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

// Status returns the current status of the guardian.
func (w *Worker) Status() coreguardian.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Poll resolves the record and applies the outcome now. If a poll is
// already running, Poll waits for that one instead of starting another.
func (w *Worker) Poll(ctx context.Context) error {
	select {
	case result := <-w.startPoll():
		return errors.Trace(result.Err)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-w.catacomb.Dying():
		return w.catacomb.ErrDying()
	}
}

func (w *Worker) startPoll() <-chan singleflight.Result {
	ctx := w.catacomb.Context(context.Background())
	return w.polls.DoChan(w.config.SubjectID, func() (any, error) {
		return nil, w.poll(ctx)
	})
}

func (w *Worker) loop() error {
	ctx := w.catacomb.Context(context.Background())

	pollTimer := w.config.Clock.NewTimer(w.config.PollInterval)
	defer pollTimer.Stop()
	snapshotTimer := w.config.Clock.NewTimer(w.config.SnapshotInterval)
	defer snapshotTimer.Stop()

	polling := w.startPoll()
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()

		case <-pollTimer.Chan():
			pollTimer.Reset(w.config.PollInterval)
			if polling != nil {
				// Polls are coalesced, never queued.
				w.config.Logger.Debugf("poll of %q still running, skipping", w.config.SubjectID)
				w.metrics.skipped(w.config.SubjectID)
				continue
			}
			polling = w.startPoll()

		case result := <-polling:
			polling = nil
			if result.Err != nil {
				return errors.Trace(result.Err)
			}

		case <-snapshotTimer.Chan():
			snapshotTimer.Reset(w.config.SnapshotInterval)
			w.periodicSnapshot(ctx)
		}
	}
}

// poll resolves the record and drives the state machine with the result.
// Failures that have a safe fallback are absorbed into the state; only an
// impossible transition is returned.
func (w *Worker) poll(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, w.config.ResolveTimeout)
	owner, err := w.config.Resolver.Resolve(rctx, w.config.SubjectID)
	cancel()

	confirmed := ownership.Confirmed(owner, err, w.config.ClusterID)
	var reason string
	switch {
	case err != nil:
		reason = fmt.Sprintf("ownership not confirmed: %v", err)
	case !confirmed:
		reason = fmt.Sprintf("ownership record names %q", owner)
	default:
		reason = "ownership confirmed"
	}
	if w.config.Logger.IsTraceEnabled() {
		w.config.Logger.Tracef("poll of %q: %s", w.config.SubjectID, reason)
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	switch state := w.Status().State; state {
	case coreguardian.Standby:
		return errors.Trace(w.pollStandby(ctx, confirmed, reason))
	case coreguardian.Activating:
		return errors.Trace(w.pollActivating(ctx, confirmed, reason))
	case coreguardian.Active:
		return errors.Trace(w.pollActive(ctx, confirmed, reason))
	case coreguardian.OwnershipLost:
		return errors.Trace(w.deactivate(ctx))
	case coreguardian.Deactivated:
		return errors.Trace(w.pollDeactivated(ctx, confirmed, reason))
	default:
		return errors.NotValidf("guardian state %q", state)
	}
}

func (w *Worker) pollStandby(ctx context.Context, confirmed bool, reason string) error {
	if !confirmed {
		w.ensureStopped(ctx)
		w.setMessage(reason)
		return nil
	}
	if err := w.transition(coreguardian.Activating, reason); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.pollActivating(ctx, true, reason))
}

func (w *Worker) pollActivating(ctx context.Context, confirmed bool, reason string) error {
	if !confirmed {
		w.ensureStopped(ctx)
		return errors.Trace(w.transition(coreguardian.Standby, reason))
	}

	ready, final, err := w.prepareActivation(ctx)
	if final != nil {
		// This cluster handed the subject over before; it never serves
		// it again.
		w.ensureStopped(ctx)
		message := fmt.Sprintf("final snapshot %v exists", final)
		if err := w.transition(coreguardian.Deactivated, message); err != nil {
			return errors.Trace(err)
		}
		w.setTerminal(final.Revision, message)
		return nil
	} else if err != nil {
		w.config.Logger.Warningf("cannot activate %q yet: %v", w.config.SubjectID, err)
		w.setMessage(err.Error())
		return nil
	}
	if !ready {
		return nil
	}

	if err := w.config.Supervisor.Start(ctx); err != nil {
		w.config.Logger.Errorf("cannot start serving %q: %v", w.config.SubjectID, err)
		w.setMessage(fmt.Sprintf("starting serving process: %v", err))
		return nil
	}
	return errors.Trace(w.transition(coreguardian.Active, "serving"))
}

func (w *Worker) pollActive(ctx context.Context, confirmed bool, reason string) error {
	if confirmed {
		return nil
	}
	w.config.Logger.Warningf("guardian of %q lost ownership: %s", w.config.SubjectID, reason)
	if err := w.transition(coreguardian.OwnershipLost, reason); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.deactivate(ctx))
}

func (w *Worker) pollDeactivated(ctx context.Context, confirmed bool, reason string) error {
	// Something other than the guardian may have started the process
	// again, terminal or not.
	w.ensureStopped(ctx)
	if w.Status().Terminal || !confirmed {
		return nil
	}

	// Ownership came back before any final snapshot was written, so no
	// other cluster can have started from this cluster's last state.
	final, err := w.finalSnapshot(ctx)
	if err != nil {
		w.config.Logger.Warningf("cannot check for a final snapshot of %q: %v", w.config.SubjectID, err)
		w.setMessage(fmt.Sprintf("ownership confirmed, cannot check for final snapshot: %v", err))
		return nil
	}
	if final != nil {
		w.setTerminal(final.Revision, fmt.Sprintf("final snapshot %v exists", final))
		return nil
	}
	if err := w.config.Supervisor.Start(ctx); err != nil {
		w.config.Logger.Errorf("cannot start serving %q: %v", w.config.SubjectID, err)
		w.setMessage(fmt.Sprintf("starting serving process: %v", err))
		return nil
	}
	return errors.Trace(w.transition(coreguardian.Active, "ownership confirmed again without a final snapshot"))
}

// ensureStopped stops the serving process, logging failures. The next
// poll tries again.
func (w *Worker) ensureStopped(ctx context.Context) {
	switch running, err := w.config.Supervisor.Running(ctx); {
	case err != nil:
		w.config.Logger.Warningf("cannot check serving process of %q: %v", w.config.SubjectID, err)
	case !running:
		return
	default:
		w.config.Logger.Warningf("serving process of %q running while %s, stopping it", w.config.SubjectID, w.Status().State)
	}
	if err := w.config.Supervisor.Stop(ctx); err != nil {
		w.config.Logger.Errorf("cannot stop serving %q: %v", w.config.SubjectID, err)
	}
}

func (w *Worker) transition(to coreguardian.State, message string) error {
	w.mu.Lock()
	from := w.status.State
	if !from.CanTransitionTo(to) {
		w.mu.Unlock()
		return errors.NotValidf("guardian transition from %q to %q", from, to)
	}
	w.status.State = to
	w.status.Serving = to == coreguardian.Active
	w.status.Since = w.config.Clock.Now()
	w.status.Message = message
	if to == coreguardian.Active {
		w.status.FinalRevision = 0
	}
	w.mu.Unlock()

	w.metrics.transitioned(w.config.SubjectID, from, to)
	w.config.Logger.Infof("guardian of %q: %s -> %s (%s)", w.config.SubjectID, from, to, message)
	return nil
}

func (w *Worker) setMessage(message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Message = message
}

func (w *Worker) setServing(serving bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Serving = serving
}

func (w *Worker) setTerminal(finalRevision int64, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Terminal = true
	w.status.FinalRevision = finalRevision
	w.status.Message = message
}

// setRevision records a revision written or restored. It must be called
// with opMu held.
func (w *Worker) setRevision(revision int64) {
	w.lastRevision = max(w.lastRevision, revision)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastRevision = w.lastRevision
}
