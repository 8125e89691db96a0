// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package snapshotcopier copies a subject's final snapshot from the source
// cluster's backup store into the destination cluster's backup store, so
// the destination guardian can restore it before serving.
//
// Only the final snapshot is copied: every snapshot is a complete image of
// the state engine, so no earlier revision is needed to restore it. If no
// final snapshot appears in time the latest snapshot is copied instead,
// losing whatever the source wrote after it.
package snapshotcopier

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/core/snapshot"
	"github.com/juju/handover/internal/backupstore"
)

const (
	// ErrSourceUnreachable is returned when RequireSource is set and the
	// source store could not be read at all.
	ErrSourceUnreachable = errors.ConstError("source backup store unreachable")

	// ErrDestinationUnreachable is returned when the copy cannot be
	// written to the destination store. There is no fallback: the
	// destination cannot activate without it.
	ErrDestinationUnreachable = errors.ConstError("destination backup store unreachable")

	errNoFinal = errors.ConstError("no final snapshot yet")
)

// destinationAttempts bounds the writes to the destination store before
// the copy is reported as a hard failure.
const destinationAttempts = 5

// Config holds the parameters of a copy.
type Config struct {
	SubjectID   string
	Source      backupstore.Store
	Destination backupstore.Store

	// FinalSnapshotTimeout bounds the wait for the final snapshot.
	FinalSnapshotTimeout time.Duration

	// PollInterval is the time between two listings of the source.
	PollInterval time.Duration

	// OperationTimeout bounds a single store call.
	OperationTimeout time.Duration

	// RequireSource turns a source store that stays unreachable for the
	// whole wait into a hard failure, instead of completing with an empty
	// copy.
	RequireSource bool

	Clock   clock.Clock
	Logger  logger.Logger
	Metrics *Collector
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if err := ownership.ValidateID(config.SubjectID); err != nil {
		return errors.Annotatef(err, "invalid SubjectID")
	}
	if config.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if config.Destination == nil {
		return errors.NotValidf("nil Destination")
	}
	if config.FinalSnapshotTimeout <= 0 {
		return errors.NotValidf("non-positive FinalSnapshotTimeout")
	}
	if config.PollInterval <= 0 {
		return errors.NotValidf("non-positive PollInterval")
	}
	if config.OperationTimeout <= 0 {
		return errors.NotValidf("non-positive OperationTimeout")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Copy waits for the final snapshot of the subject in the source store and
// copies it, or the latest snapshot once FinalSnapshotTimeout elapses, to
// the destination store. It then writes the copy completion marker and
// returns what was copied. A copy that already completed is not repeated.
func Copy(ctx context.Context, config Config) (snapshot.CopyResult, error) {
	if err := config.Validate(); err != nil {
		return snapshot.CopyResult{}, errors.Trace(err)
	}
	c := &copier{config: config, metrics: config.Metrics}
	if c.metrics == nil {
		c.metrics = NewMetricsCollector()
	}
	result, err := c.run(ctx)
	c.metrics.completed(config.SubjectID, result, err)
	return result, errors.Trace(err)
}

type copier struct {
	config  Config
	metrics *Collector
}

func (c *copier) run(ctx context.Context) (snapshot.CopyResult, error) {
	subjectID := c.config.SubjectID

	// Check the destination first, there is no point waiting for a
	// snapshot that cannot be written anywhere.
	existing, err := c.existingResult(ctx)
	if err == nil {
		c.config.Logger.Infof("copy of %q already completed at revision %d", subjectID, existing.Revision)
		return existing, nil
	} else if !errors.Is(err, errors.NotFound) {
		return snapshot.CopyResult{}, errors.Trace(err)
	}

	snap, found, fallback, err := c.waitForFinal(ctx)
	if err != nil {
		return snapshot.CopyResult{}, errors.Trace(err)
	}

	result := snapshot.CopyResult{
		SubjectID: subjectID,
		Fallback:  fallback,
	}
	if found {
		if err := c.copySnapshot(ctx, snap); err != nil {
			return snapshot.CopyResult{}, errors.Trace(err)
		}
		result.Revision = snap.Revision
		result.Final = snap.Final
	}
	result.Completed = c.config.Clock.Now()

	err = c.toDestination(ctx, "writing copy completion marker", func(ctx context.Context) error {
		return backupstore.WriteCopyResult(ctx, c.config.Destination, result)
	})
	if err != nil {
		return snapshot.CopyResult{}, errors.Trace(err)
	}

	switch {
	case !fallback:
		c.config.Logger.Infof("copied final snapshot %v", snap)
	case found:
		c.config.Logger.Warningf("no final snapshot of %q after %v, copied latest snapshot %v", subjectID, c.config.FinalSnapshotTimeout, snap)
	default:
		c.config.Logger.Warningf("no snapshot of %q available after %v, destination starts from empty state", subjectID, c.config.FinalSnapshotTimeout)
	}
	return result, nil
}

func (c *copier) existingResult(ctx context.Context) (snapshot.CopyResult, error) {
	var result snapshot.CopyResult
	err := c.toDestination(ctx, "reading copy completion marker", func(ctx context.Context) error {
		var err error
		result, err = backupstore.ReadCopyResult(ctx, c.config.Destination, c.config.SubjectID)
		return err
	})
	return result, errors.Trace(err)
}

// waitForFinal polls the source until a final snapshot appears or the
// timeout elapses. On timeout it falls back to the latest snapshot
// present; found is false when there is none.
func (c *copier) waitForFinal(ctx context.Context) (_ snapshot.Snapshot, found, fallback bool, _ error) {
	subjectID := c.config.SubjectID
	var (
		final   snapshot.Snapshot
		reached bool
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			series, err := c.sourceSeries(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			reached = true
			snap, ok := series.Final()
			if !ok {
				return errNoFinal
			}
			final = snap
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			if !errors.Is(err, errNoFinal) {
				c.config.Logger.Warningf("listing source snapshots of %q (attempt %d): %v", subjectID, attempt, err)
			}
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       c.config.PollInterval,
		MaxDuration: c.config.FinalSnapshotTimeout,
		Clock:       c.config.Clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return final, true, false, nil
	case retry.IsRetryStopped(err):
		return snapshot.Snapshot{}, false, false, errors.Trace(ctx.Err())
	case !retry.IsDurationExceeded(err):
		return snapshot.Snapshot{}, false, false, errors.Trace(err)
	}

	// The timeout is the designed fallback, not an error.
	series, err := c.sourceSeries(ctx)
	if err == nil {
		if final, ok := series.Final(); ok {
			// Appeared right at the deadline.
			return final, true, false, nil
		}
		latest, ok := series.Latest()
		return latest, ok, true, nil
	}
	if !reached && c.config.RequireSource {
		return snapshot.Snapshot{}, false, false, errors.Annotatef(ErrSourceUnreachable, "subject %q: %v", subjectID, err)
	}
	c.config.Logger.Errorf("source backup store of %q unreachable at fallback: %v", subjectID, err)
	return snapshot.Snapshot{}, false, true, nil
}

func (c *copier) sourceSeries(ctx context.Context) (snapshot.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()
	return backupstore.Series(ctx, c.config.Source, c.config.SubjectID)
}

func (c *copier) copySnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	sctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	data, err := c.config.Source.Get(sctx, snap.Key())
	cancel()
	if err != nil {
		return errors.Annotatef(err, "reading snapshot %v from source", snap)
	}
	return errors.Trace(c.toDestination(ctx, "writing snapshot "+snap.String(), func(ctx context.Context) error {
		return c.config.Destination.Put(ctx, snap.RestoreKey(), data)
	}))
}

// toDestination runs fn against the destination store, retrying while the
// store is unavailable. Running out of attempts is a hard failure.
func (c *copier) toDestination(ctx context.Context, what string, fn func(context.Context) error) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			ctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
			defer cancel()
			return fn(ctx)
		},
		IsFatalError: func(err error) bool {
			return !backupstore.IsUnavailable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			c.config.Logger.Warningf("%s (attempt %d): %v", what, attempt, err)
		},
		Attempts:    destinationAttempts,
		Delay:       c.config.PollInterval,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.config.Clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		return errors.Annotatef(ErrDestinationUnreachable, "%s: %v", what, retry.LastError(err))
	case retry.IsRetryStopped(err):
		return errors.Trace(ctx.Err())
	default:
		return errors.Annotate(err, what)
	}
}
