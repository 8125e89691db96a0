// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardian

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	coreguardian "github.com/juju/handover/core/guardian"
	"github.com/juju/handover/core/snapshot"
	"github.com/juju/handover/internal/backupstore"
)

// deactivate stops serving and attempts the final snapshot. It must be
// called with opMu held, in OwnershipLost. If the serving process cannot
// be stopped the guardian stays in OwnershipLost, with the endpoint marked
// unavailable, and the next poll tries again. The final snapshot is best
// effort and never holds up deactivation.
func (w *Worker) deactivate(ctx context.Context) error {
	subjectID := w.config.SubjectID
	w.setServing(false)

	if err := w.config.Supervisor.Stop(ctx); err != nil {
		w.config.Logger.Errorf("cannot stop serving %q: %v", subjectID, err)
		w.setMessage(fmt.Sprintf("stopping serving process: %v", err))
		return nil
	}

	final, err := w.writeSnapshot(ctx, true)
	if err != nil {
		w.config.Logger.Warningf("deactivating %q without a final snapshot: %v", subjectID, err)
		return errors.Trace(w.transition(coreguardian.Deactivated, fmt.Sprintf("no final snapshot: %v", err)))
	}

	message := fmt.Sprintf("final snapshot %v written", final)
	if err := w.transition(coreguardian.Deactivated, message); err != nil {
		return errors.Trace(err)
	}
	w.setTerminal(final.Revision, message)
	return nil
}

// periodicSnapshot writes a snapshot if the guardian is Active. Failures
// are logged and retried on the next tick.
func (w *Worker) periodicSnapshot(ctx context.Context) {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	if w.Status().State != coreguardian.Active {
		return
	}
	if _, err := w.writeSnapshot(ctx, false); err != nil {
		w.config.Logger.Warningf("periodic snapshot of %q failed: %v", w.config.SubjectID, err)
	}
}

// writeSnapshot appends a snapshot to the guardian's series. It refuses to
// write anything once the series holds a final snapshot. It must be called
// with opMu held.
func (w *Worker) writeSnapshot(ctx context.Context, final bool) (_ snapshot.Snapshot, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.BackupTimeout)
	defer cancel()

	started := w.config.Clock.Now()
	defer func() {
		w.metrics.snapshotted(w.config.SubjectID, final, w.config.Clock.Now().Sub(started).Seconds(), err)
	}()

	subjectID := w.config.SubjectID
	series, err := backupstore.Series(ctx, w.config.BackupStore, subjectID)
	if err != nil {
		return snapshot.Snapshot{}, errors.Trace(err)
	}
	if existing, ok := series.Final(); ok {
		return snapshot.Snapshot{}, errors.AlreadyExistsf("final snapshot %v", existing)
	}

	data, err := w.config.Engine.Snapshot(ctx)
	if errors.Is(err, errors.NotFound) {
		// Nothing was ever written: the snapshot is the empty state.
		data = nil
	} else if err != nil {
		return snapshot.Snapshot{}, errors.Annotate(err, "snapshotting state engine")
	}

	snap := snapshot.Snapshot{
		SubjectID: subjectID,
		Revision:  max(series.NextRevision(), w.lastRevision+1),
		Final:     final,
	}
	if err := w.config.BackupStore.Put(ctx, snap.Key(), data); err != nil {
		return snapshot.Snapshot{}, errors.Annotatef(err, "writing snapshot %v", snap)
	}
	w.setRevision(snap.Revision)
	w.config.Logger.Debugf("wrote snapshot %v", snap)
	return snap, nil
}

// finalSnapshot returns the final snapshot of the guardian's series, or
// nil if there is none.
func (w *Worker) finalSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.BackupTimeout)
	defer cancel()

	series, err := backupstore.Series(ctx, w.config.BackupStore, w.config.SubjectID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if final, ok := series.Final(); ok {
		return &final, nil
	}
	return nil, nil
}
