// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardian

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/handover/core/snapshot"
	"github.com/juju/handover/internal/backupstore"
)

// prepareActivation makes the local engine hold the state the subject must
// be served from. It reports ready once serving may start. A non-nil final
// snapshot means the guardian's own series is closed and it must not
// serve.
//
// The subject's state always arrives through a copy completion marker in
// the local backup store: written by the copy orchestrator for a
// destination, or by provisioning (as an empty copy) for the initial owner.
// Without one the guardian keeps waiting.
func (w *Worker) prepareActivation(ctx context.Context) (bool, *snapshot.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.BackupTimeout)
	defer cancel()

	subjectID := w.config.SubjectID
	series, err := backupstore.Series(ctx, w.config.BackupStore, subjectID)
	if err != nil {
		return false, nil, errors.Annotate(err, "reading snapshot series")
	}
	if final, ok := series.Final(); ok {
		return false, &final, nil
	}
	if latest, ok := series.Latest(); ok {
		w.setRevision(latest.Revision)
	}

	result, err := backupstore.ReadCopyResult(ctx, w.config.BackupStore, subjectID)
	if errors.Is(err, errors.NotFound) {
		w.setMessage("waiting for snapshot copy to complete")
		return false, nil, nil
	} else if err != nil {
		return false, nil, errors.Annotate(err, "reading copy completion marker")
	}

	applied, err := backupstore.ReadApplied(ctx, w.config.BackupStore, subjectID)
	switch {
	case errors.Is(err, errors.NotFound):
	case err != nil:
		return false, nil, errors.Annotate(err, "reading restore marker")
	case applied.Revision == result.Revision && !applied.Applied.Before(result.Completed):
		w.config.Logger.Debugf("copy of %q at revision %d already restored", subjectID, result.Revision)
		w.setRevision(result.Revision)
		return true, nil, nil
	}

	if err := w.restore(ctx, result); err != nil {
		return false, nil, errors.Trace(err)
	}
	w.setRevision(result.Revision)
	return true, nil, nil
}

// restore loads the copied snapshot into the engine and records that it
// did. Restoring again after a failure before the marker is written is
// harmless, the process has not served from it yet.
func (w *Worker) restore(ctx context.Context, result snapshot.CopyResult) error {
	var data []byte
	if !result.Empty() {
		var err error
		data, err = w.config.BackupStore.Get(ctx, result.Snapshot().RestoreKey())
		if err != nil {
			return errors.Annotatef(err, "reading copied snapshot %v", result.Snapshot())
		}
	}

	// The engine may only be replaced while nothing serves from it.
	if err := w.config.Supervisor.Stop(ctx); err != nil {
		return errors.Annotate(err, "stopping serving process before restore")
	}
	if err := w.config.Engine.Restore(ctx, data); err != nil {
		return errors.Annotatef(err, "restoring revision %d", result.Revision)
	}

	err := backupstore.WriteApplied(ctx, w.config.BackupStore, snapshot.Applied{
		SubjectID: w.config.SubjectID,
		Revision:  result.Revision,
		Applied:   w.config.Clock.Now(),
	})
	if err != nil {
		return errors.Annotate(err, "writing restore marker")
	}

	what := fmt.Sprintf("revision %d", result.Revision)
	if result.Empty() {
		what = "empty state"
	}
	w.config.Logger.Infof("restored %q from %s", w.config.SubjectID, what)
	return nil
}
