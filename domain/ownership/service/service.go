// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
)

// State describes retrieval and persistence methods for ownership records.
type State interface {
	// Provision creates the record for the subject.
	Provision(ctx context.Context, subjectID, ownerID string, now time.Time) error

	// Owner returns the owner recorded for the subject, or a NotFound
	// error.
	Owner(ctx context.Context, subjectID string) (string, error)

	// SetOwner moves the subject from expectedOwnerID to newOwnerID.
	SetOwner(ctx context.Context, subjectID, expectedOwnerID, newOwnerID string, now time.Time) error
}

// Service is the authoritative ownership record. It implements
// ownership.Client and ownership.Provisioner.
type Service struct {
	st      State
	clock   clock.Clock
	timeout time.Duration
	logger  logger.Logger
}

// NewService returns a new Service. Every call is bounded by timeout in
// addition to the caller's context.
func NewService(st State, clock clock.Clock, timeout time.Duration, logger logger.Logger) *Service {
	return &Service{
		st:      st,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
	}
}

var (
	_ ownership.Client      = (*Service)(nil)
	_ ownership.Provisioner = (*Service)(nil)
)

// Provision creates the ownership record for a new subject.
func (s *Service) Provision(ctx context.Context, subjectID, initialOwnerID string) error {
	if err := (ownership.Record{SubjectID: subjectID, OwnerID: initialOwnerID}).Validate(); err != nil {
		return errors.Trace(err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.st.Provision(ctx, subjectID, initialOwnerID, s.clock.Now()); err != nil {
		return errors.Annotatef(err, "provisioning %q", subjectID)
	}
	return nil
}

// Resolve returns the current owner of the subject. A missing record or
// any failure to read it is reported as ownership.ErrResolutionFailure.
func (s *Service) Resolve(ctx context.Context, subjectID string) (string, error) {
	if err := ownership.ValidateID(subjectID); err != nil {
		return "", errors.Trace(err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	owner, err := s.st.Owner(ctx, subjectID)
	if errors.Is(err, errors.NotFound) {
		return "", ownership.ResolutionFailuref("no ownership record for %q", subjectID)
	} else if err != nil {
		s.logger.Debugf("resolving %q: %v", subjectID, err)
		return "", ownership.ResolutionFailuref("resolving %q: %v", subjectID, err)
	}
	return owner, nil
}

// SetOwner moves the subject from expectedOwnerID to newOwnerID.
func (s *Service) SetOwner(ctx context.Context, subjectID, expectedOwnerID, newOwnerID string) error {
	if err := ownership.ValidateID(subjectID); err != nil {
		return errors.Annotatef(err, "invalid subject")
	}
	if err := ownership.ValidateID(expectedOwnerID); err != nil {
		return errors.Annotatef(err, "invalid expected owner")
	}
	if err := ownership.ValidateID(newOwnerID); err != nil {
		return errors.Annotatef(err, "invalid new owner")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.st.SetOwner(ctx, subjectID, expectedOwnerID, newOwnerID, s.clock.Now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ownership.ErrConflict):
		return err
	case errors.Is(err, errors.NotFound):
		return ownership.ResolutionFailuref("no ownership record for %q", subjectID)
	default:
		return ownership.ResolutionFailuref("setting owner of %q: %v", subjectID, err)
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
