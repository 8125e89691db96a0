// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration

import (
	"time"

	"github.com/juju/errors"
)

const (
	// ErrNotAbortable is returned when an abort is requested after the
	// ownership record mutation has been confirmed, or when it cannot be
	// determined whether the mutation happened.
	ErrNotAbortable = errors.ConstError("migration can no longer be aborted")

	// ErrInProgress is returned when a subject already has a running
	// migration to a different destination.
	ErrInProgress = errors.ConstError("another migration is in progress")
)

// Attempt holds the details of a single migration attempt for a subject,
// as tracked by the migration flow controller.
type Attempt struct {
	// UUID uniquely identifies the attempt.
	UUID string

	// SubjectID is the subject being migrated.
	SubjectID string

	// SourceOwnerID is the owner recorded when the attempt started.
	SourceOwnerID string

	// TargetOwnerID is the destination cluster.
	TargetOwnerID string

	// Phase is the current phase of the attempt.
	Phase Phase

	// CopiedRevision is the snapshot revision the destination restored
	// from, once the copy has completed.
	CopiedRevision int64

	// Message holds a human readable note about the last phase change;
	// for FAILED attempts it describes the required operator action.
	Message string

	// Started and Updated are the times the attempt was created and last
	// changed.
	Started time.Time
	Updated time.Time
}

// Timeouts bounds the blocking phases of a migration.
type Timeouts struct {
	SourceDeactivation time.Duration
	CopyCompletion     time.Duration
	DestinationActive  time.Duration
}

// Validate returns an error if any timeout is not positive.
func (t Timeouts) Validate() error {
	if t.SourceDeactivation <= 0 {
		return errors.NotValidf("non-positive SourceDeactivation timeout")
	}
	if t.CopyCompletion <= 0 {
		return errors.NotValidf("non-positive CopyCompletion timeout")
	}
	if t.DestinationActive <= 0 {
		return errors.NotValidf("non-positive DestinationActive timeout")
	}
	return nil
}
