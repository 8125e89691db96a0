// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ownership

import (
	"context"
	"strings"

	"github.com/juju/errors"
)

const (
	// ErrResolutionFailure indicates that the ownership record could not be
	// read, either because the record service is unreachable or because no
	// record exists for the subject. It must never be read as "owned by
	// somebody else": callers treat it as "not confirmed owner".
	ErrResolutionFailure = errors.ConstError("ownership record could not be resolved")

	// ErrConflict indicates that the record holds a value that is neither
	// the expected current owner nor the requested new owner. It points at
	// concurrent or competing migrations and requires manual inspection.
	ErrConflict = errors.ConstError("ownership record holds an unexpected owner")
)

// Record is the current value of the ownership record for a subject.
type Record struct {
	// SubjectID identifies the migratable unit.
	SubjectID string

	// OwnerID identifies the cluster currently authorised to run the
	// control plane for the subject.
	OwnerID string
}

// Validate returns an error if the record is not well formed.
func (r Record) Validate() error {
	if err := ValidateID(r.SubjectID); err != nil {
		return errors.Annotatef(err, "invalid subject")
	}
	if err := ValidateID(r.OwnerID); err != nil {
		return errors.Annotatef(err, "invalid owner")
	}
	return nil
}

// Resolver reads the ownership record.
type Resolver interface {
	// Resolve returns the owner recorded for the subject. Implementations
	// must honour the context deadline and return an error satisfying
	// errors.Is(err, ErrResolutionFailure) when the record cannot be read.
	Resolve(ctx context.Context, subjectID string) (string, error)
}

// Writer mutates the ownership record.
type Writer interface {
	// SetOwner moves the subject from expectedOwnerID to newOwnerID.
	// Setting the value that is already current succeeds without side
	// effects. If the record holds any other value ErrConflict is returned;
	// if the record cannot be reached ErrResolutionFailure is returned.
	SetOwner(ctx context.Context, subjectID, expectedOwnerID, newOwnerID string) error
}

// Client reads and writes the ownership record.
type Client interface {
	Resolver
	Writer
}

// Provisioner creates the ownership record for a new subject.
type Provisioner interface {
	// Provision creates the record with its initial owner. Repeating the
	// call with the same owner is a no-op; any other owner results in an
	// AlreadyExists error.
	Provision(ctx context.Context, subjectID, initialOwnerID string) error
}

// ValidateID returns an error if the string cannot be used as a subject or
// owner identity: it must be non-empty and contain no whitespace or path
// separators, so it can be embedded in record names and storage keys.
func ValidateID(s string) error {
	if s == "" {
		return errors.NotValidf("empty identity")
	}
	if strings.ContainsAny(s, "/\\ \t\r\n") {
		return errors.NotValidf("identity %q containing forbidden characters", s)
	}
	return nil
}

// IsResolutionFailure reports whether err means the record could not be
// resolved.
func IsResolutionFailure(err error) bool {
	return errors.Is(err, ErrResolutionFailure)
}

// ResolutionFailuref returns an error satisfying IsResolutionFailure with the
// given context.
func ResolutionFailuref(format string, args ...any) error {
	return errors.Annotatef(ErrResolutionFailure, format, args...)
}

// Confirmed reports whether the result of a resolution positively confirms
// that clusterID owns the subject. Any error, including a resolution
// failure, means ownership is not confirmed.
func Confirmed(ownerID string, err error, clusterID string) bool {
	return err == nil && ownerID != "" && ownerID == clusterID
}
