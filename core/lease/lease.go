// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/juju/handover/core/ownership"
)

const (
	// ErrLeaseLost is returned to reconciling code when the lease for its
	// subject is expired or cannot be read. It is the normal trigger for
	// aborting a reconciliation, not a failure.
	ErrLeaseLost = errors.ConstError("ownership lease lost")

	// ErrNotFound is returned by a Reader when no lease signal has ever been
	// written for the subject.
	ErrNotFound = errors.ConstError("lease signal not found")
)

// Status is the outcome of checking a lease signal.
type Status int

const (
	// Unknown means the signal could not be read. It is treated exactly
	// like Expired.
	Unknown Status = iota
	// Valid means the signal confirms ownership until its expiry.
	Valid
	// Expired means the signal no longer confirms ownership.
	Expired
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Signal is a locally cached, time-boxed confirmation that HolderID owns
// SubjectID.
type Signal struct {
	SubjectID string
	HolderID  string
	Renewed   time.Time
	Expiry    time.Time
}

// Validate returns an error if the signal is not well formed.
func (s Signal) Validate() error {
	if err := ownership.ValidateID(s.SubjectID); err != nil {
		return errors.Annotatef(err, "invalid subject")
	}
	if s.HolderID != "" {
		if err := ownership.ValidateID(s.HolderID); err != nil {
			return errors.Annotatef(err, "invalid holder")
		}
	}
	if s.Expiry.Before(s.Renewed) {
		return errors.NotValidf("expiry before renewal")
	}
	return nil
}

// Check is the result of checking a lease signal at a point in time.
type Check struct {
	Status Status
	Expiry time.Time
}

// Valid reports whether the check confirms ownership.
func (c Check) Valid() bool {
	return c.Status == Valid
}

// Evaluate returns the status of the signal for holderID at now. A signal
// held by anybody else is Expired from holderID's point of view.
func Evaluate(s Signal, holderID string, now time.Time) Check {
	if s.HolderID == "" || s.HolderID != holderID {
		return Check{Status: Expired, Expiry: s.Expiry}
	}
	if !now.Before(s.Expiry) {
		return Check{Status: Expired, Expiry: s.Expiry}
	}
	return Check{Status: Valid, Expiry: s.Expiry}
}

// Reader reads lease signals.
type Reader interface {
	// Signal returns the current signal for the subject, or ErrNotFound.
	Signal(ctx context.Context, subjectID string) (Signal, error)
}

// Writer writes lease signals. Only the cluster-local agent that has just
// confirmed ownership through the ownership record may write.
type Writer interface {
	// WriteSignal replaces the signal for the subject.
	WriteSignal(ctx context.Context, s Signal) error
}

// Store reads and writes lease signals.
type Store interface {
	Reader
	Writer
}
