// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/juju/handover/core/guardian"
	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/migration"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/core/snapshot"
)

const errNotYet = errors.ConstError("condition not met yet")

// State describes retrieval and persistence methods for migration
// attempts.
type State interface {
	CreateAttempt(ctx context.Context, a migration.Attempt) error
	Attempt(ctx context.Context, uuid string) (migration.Attempt, error)
	RunningAttempt(ctx context.Context, subjectID string) (migration.Attempt, error)
	LatestAttempt(ctx context.Context, subjectID string) (migration.Attempt, error)
	Attempts(ctx context.Context, subjectID string) ([]migration.Attempt, error)
	SetPhase(ctx context.Context, uuid string, from, to migration.Phase, copiedRevision int64, message string, now time.Time) error
	SetMessage(ctx context.Context, uuid, message string, now time.Time) error
}

// GuardianStatus reports the status of a state-store guardian.
type GuardianStatus interface {
	Status(ctx context.Context, subjectID string) (guardian.Status, error)
}

// CopyStatus reports the snapshot copy completion for a subject. It
// returns a NotFound error until the copy has completed.
type CopyStatus interface {
	CopyResult(ctx context.Context, subjectID string) (snapshot.CopyResult, error)
}

// Config holds the collaborators of the migration flow controller.
type Config struct {
	State  State
	Record ownership.Client

	// Source and Destination report the guardians of the two clusters.
	// Copies reports the copy completion in the destination backup store.
	// They are only needed by the Await operations.
	Source      GuardianStatus
	Destination GuardianStatus
	Copies      CopyStatus

	PollInterval time.Duration
	Clock        clock.Clock
	Logger       logger.Logger
}

// Validate returns an error if the config cannot drive a migration.
func (c Config) Validate() error {
	if c.State == nil {
		return errors.NotValidf("nil State")
	}
	if c.Record == nil {
		return errors.NotValidf("nil Record")
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("non-positive PollInterval")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Service sequences ownership migrations: it mutates the ownership record
// once per attempt, then follows the source deactivation, the snapshot
// copy and the destination activation.
type Service struct {
	config Config
}

// NewService returns a new migration flow controller.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Service{config: config}, nil
}

// InitiateMigration moves the ownership record of the subject to the
// destination. Repeating the call with the same destination is a no-op
// once the record has moved; a running attempt towards a different
// destination results in migration.ErrInProgress.
func (s *Service) InitiateMigration(ctx context.Context, subjectID, destinationOwnerID string) (migration.Attempt, error) {
	if err := (ownership.Record{SubjectID: subjectID, OwnerID: destinationOwnerID}).Validate(); err != nil {
		return migration.Attempt{}, errors.Trace(err)
	}

	attempt, err := s.config.State.RunningAttempt(ctx, subjectID)
	switch {
	case err == nil:
		if attempt.TargetOwnerID != destinationOwnerID {
			return attempt, errors.Annotatef(migration.ErrInProgress,
				"subject %q is migrating to %q", subjectID, attempt.TargetOwnerID)
		}
		if attempt.Phase != migration.PENDING {
			return attempt, nil
		}
		s.config.Logger.Infof("resuming unconfirmed migration %q of %q", attempt.UUID, subjectID)

	case errors.Is(err, errors.NotFound):
		source, err := s.config.Record.Resolve(ctx, subjectID)
		if err != nil {
			return migration.Attempt{}, errors.Annotatef(err, "resolving current owner of %q", subjectID)
		}
		if source == destinationOwnerID {
			latest, err := s.config.State.LatestAttempt(ctx, subjectID)
			if err == nil && latest.TargetOwnerID == destinationOwnerID && latest.Phase == migration.DONE {
				return latest, nil
			}
			return migration.Attempt{}, errors.AlreadyExistsf("ownership of %q by %q", subjectID, destinationOwnerID)
		}

		now := s.config.Clock.Now()
		attempt = migration.Attempt{
			UUID:          uuid.NewString(),
			SubjectID:     subjectID,
			SourceOwnerID: source,
			TargetOwnerID: destinationOwnerID,
			Phase:         migration.PENDING,
			Started:       now,
			Updated:       now,
		}
		if err := s.config.State.CreateAttempt(ctx, attempt); err != nil {
			return migration.Attempt{}, errors.Trace(err)
		}
		s.config.Logger.Infof("migration %q of %q from %q to %q created", attempt.UUID, subjectID, source, destinationOwnerID)

	default:
		return migration.Attempt{}, errors.Trace(err)
	}

	return s.mutate(ctx, attempt)
}

func (s *Service) mutate(ctx context.Context, attempt migration.Attempt) (migration.Attempt, error) {
	err := s.config.Record.SetOwner(ctx, attempt.SubjectID, attempt.SourceOwnerID, attempt.TargetOwnerID)
	switch {
	case err == nil:
		msg := fmt.Sprintf("ownership record moved to %q", attempt.TargetOwnerID)
		if err := s.setPhase(ctx, &attempt, migration.INITIATED, 0, msg); err != nil {
			return attempt, errors.Trace(err)
		}
		return attempt, nil

	case errors.Is(err, ownership.ErrConflict):
		msg := fmt.Sprintf("%v: manual inspection of the ownership record required", err)
		if phaseErr := s.setPhase(ctx, &attempt, migration.FAILED, 0, msg); phaseErr != nil {
			s.config.Logger.Errorf("recording failure of migration %q: %v", attempt.UUID, phaseErr)
		}
		return attempt, errors.Trace(err)

	default:
		// The write may or may not have landed. The attempt stays PENDING
		// so that a retry or an abort settles it against the record.
		msg := fmt.Sprintf("ownership record change unconfirmed: %v", err)
		if msgErr := s.config.State.SetMessage(ctx, attempt.UUID, msg, s.config.Clock.Now()); msgErr != nil {
			s.config.Logger.Warningf("recording message for migration %q: %v", attempt.UUID, msgErr)
		}
		attempt.Message = msg
		return attempt, errors.Annotatef(err, "setting owner of %q", attempt.SubjectID)
	}
}

// Abort aborts the running migration of the subject. It is only possible
// while the ownership record mutation is unconfirmed, and only once the
// record is confirmed to still name the source; otherwise
// migration.ErrNotAbortable is returned.
func (s *Service) Abort(ctx context.Context, subjectID string) (migration.Attempt, error) {
	attempt, err := s.config.State.RunningAttempt(ctx, subjectID)
	if err != nil {
		return migration.Attempt{}, errors.Trace(err)
	}
	if attempt.Phase != migration.PENDING {
		return attempt, errors.Annotatef(migration.ErrNotAbortable,
			"migration %q is %s", attempt.UUID, attempt.Phase)
	}

	owner, err := s.config.Record.Resolve(ctx, subjectID)
	if err != nil {
		return attempt, errors.Annotatef(migration.ErrNotAbortable,
			"cannot confirm ownership record of %q (%v)", subjectID, err)
	}

	switch owner {
	case attempt.SourceOwnerID:
		if err := s.setPhase(ctx, &attempt, migration.ABORTED, 0, "aborted before the ownership record changed"); err != nil {
			return attempt, errors.Trace(err)
		}
		return attempt, nil

	case attempt.TargetOwnerID:
		msg := fmt.Sprintf("ownership record moved to %q", attempt.TargetOwnerID)
		if err := s.setPhase(ctx, &attempt, migration.INITIATED, 0, msg); err != nil {
			return attempt, errors.Trace(err)
		}
		return attempt, errors.Annotatef(migration.ErrNotAbortable,
			"ownership record of %q already moved to %q", subjectID, owner)

	default:
		msg := fmt.Sprintf("ownership record names unexpected owner %q: manual inspection required", owner)
		if err := s.setPhase(ctx, &attempt, migration.FAILED, 0, msg); err != nil {
			return attempt, errors.Trace(err)
		}
		return attempt, errors.Annotatef(ownership.ErrConflict, "subject %q owned by %q", subjectID, owner)
	}
}

// AwaitSourceDeactivation waits until the source guardian reports that it
// is Deactivated. It returns a Timeout error if that does not happen
// within timeout.
func (s *Service) AwaitSourceDeactivation(ctx context.Context, subjectID string, timeout time.Duration) (guardian.Status, error) {
	if s.config.Source == nil {
		return guardian.Status{}, errors.NotSupportedf("waiting without a source guardian")
	}
	status, err := s.awaitGuardian(ctx, s.config.Source, subjectID, guardian.Deactivated, timeout)
	if err != nil {
		return status, errors.Annotate(err, "source deactivation")
	}
	msg := fmt.Sprintf("source deactivated with final revision %d", status.FinalRevision)
	if err := s.advance(ctx, subjectID, migration.SOURCEDEACTIVATED, 0, msg, migration.INITIATED); err != nil {
		return status, errors.Trace(err)
	}
	return status, nil
}

// AwaitCopyCompletion waits until the snapshot copy for the subject has
// completed in the destination backup store.
func (s *Service) AwaitCopyCompletion(ctx context.Context, subjectID string, timeout time.Duration) (snapshot.CopyResult, error) {
	if s.config.Copies == nil {
		return snapshot.CopyResult{}, errors.NotSupportedf("waiting without a destination backup store")
	}
	var result snapshot.CopyResult
	err := s.poll(ctx, timeout, func(ctx context.Context) error {
		r, err := s.config.Copies.CopyResult(ctx, subjectID)
		if errors.Is(err, errors.NotFound) {
			return errNotYet
		} else if err != nil {
			return errors.Trace(err)
		}
		result = r
		return nil
	})
	if err != nil {
		return result, errors.Annotate(err, "snapshot copy")
	}

	msg := fmt.Sprintf("snapshot revision %d copied", result.Revision)
	if result.Fallback {
		msg += " (final snapshot not found, latest used)"
	}
	if err := s.advance(ctx, subjectID, migration.COPYCOMPLETED, result.Revision, msg,
		migration.INITIATED, migration.SOURCEDEACTIVATED); err != nil {
		return result, errors.Trace(err)
	}
	return result, nil
}

// AwaitDestinationActive waits until the destination guardian reports that
// it is Active.
func (s *Service) AwaitDestinationActive(ctx context.Context, subjectID string, timeout time.Duration) (guardian.Status, error) {
	if s.config.Destination == nil {
		return guardian.Status{}, errors.NotSupportedf("waiting without a destination guardian")
	}
	status, err := s.awaitGuardian(ctx, s.config.Destination, subjectID, guardian.Active, timeout)
	if err != nil {
		return status, errors.Annotate(err, "destination activation")
	}
	if err := s.advance(ctx, subjectID, migration.DONE, 0, "destination active", migration.COPYCOMPLETED); err != nil {
		return status, errors.Trace(err)
	}
	return status, nil
}

// Migrate runs the whole migration of the subject to the destination,
// resuming a running attempt from its current phase. A source that never
// reports its deactivation does not stop the migration; a copy or an
// activation that does not complete in time leaves the attempt where it
// is, with a message naming the required operator action.
func (s *Service) Migrate(ctx context.Context, subjectID, destinationOwnerID string, timeouts migration.Timeouts) (migration.Attempt, error) {
	if err := timeouts.Validate(); err != nil {
		return migration.Attempt{}, errors.Trace(err)
	}

	attempt, err := s.InitiateMigration(ctx, subjectID, destinationOwnerID)
	if err != nil {
		return attempt, errors.Trace(err)
	}

	if attempt.Phase == migration.INITIATED {
		_, err := s.AwaitSourceDeactivation(ctx, subjectID, timeouts.SourceDeactivation)
		if errors.Is(err, errors.Timeout) {
			s.config.Logger.Warningf("source of %q did not confirm deactivation within %v, continuing", subjectID, timeouts.SourceDeactivation)
		} else if err != nil {
			return attempt, errors.Trace(err)
		}
		if attempt, err = s.config.State.Attempt(ctx, attempt.UUID); err != nil {
			return attempt, errors.Trace(err)
		}
	}

	if attempt.Phase == migration.INITIATED || attempt.Phase == migration.SOURCEDEACTIVATED {
		if _, err := s.AwaitCopyCompletion(ctx, subjectID, timeouts.CopyCompletion); err != nil {
			s.blocked(ctx, &attempt, "snapshot copy incomplete: restore access to both backup stores and rerun the copy", err)
			return attempt, errors.Trace(err)
		}
		if attempt, err = s.config.State.Attempt(ctx, attempt.UUID); err != nil {
			return attempt, errors.Trace(err)
		}
	}

	if attempt.Phase == migration.COPYCOMPLETED {
		if _, err := s.AwaitDestinationActive(ctx, subjectID, timeouts.DestinationActive); err != nil {
			s.blocked(ctx, &attempt, "destination guardian not active: check the destination cluster", err)
			return attempt, errors.Trace(err)
		}
		if attempt, err = s.config.State.Attempt(ctx, attempt.UUID); err != nil {
			return attempt, errors.Trace(err)
		}
	}
	return attempt, nil
}

// Status returns the latest migration attempt of the subject.
func (s *Service) Status(ctx context.Context, subjectID string) (migration.Attempt, error) {
	attempt, err := s.config.State.LatestAttempt(ctx, subjectID)
	return attempt, errors.Trace(err)
}

// Attempts returns every migration attempt of the subject.
func (s *Service) Attempts(ctx context.Context, subjectID string) ([]migration.Attempt, error) {
	attempts, err := s.config.State.Attempts(ctx, subjectID)
	return attempts, errors.Trace(err)
}

func (s *Service) awaitGuardian(
	ctx context.Context, reader GuardianStatus, subjectID string, want guardian.State, timeout time.Duration,
) (guardian.Status, error) {
	var status guardian.Status
	err := s.poll(ctx, timeout, func(ctx context.Context) error {
		st, err := reader.Status(ctx, subjectID)
		if err != nil {
			return errors.Trace(err)
		}
		status = st
		if st.State != want {
			return errNotYet
		}
		return nil
	})
	return status, err
}

// poll calls check every poll interval until it succeeds, the timeout
// elapses or the context is done. Errors from check are logged and
// retried.
func (s *Service) poll(ctx context.Context, timeout time.Duration, check func(context.Context) error) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return check(ctx)
		},
		NotifyFunc: func(err error, attempt int) {
			if !errors.Is(err, errNotYet) {
				s.config.Logger.Debugf("poll attempt %d: %v", attempt, err)
			}
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       s.config.PollInterval,
		MaxDuration: timeout,
		Clock:       s.config.Clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsDurationExceeded(err):
		return errors.Timeoutf("after %v", timeout)
	case retry.IsRetryStopped(err):
		return errors.Trace(ctx.Err())
	default:
		return errors.Trace(err)
	}
}

// advance moves the running attempt of the subject to phase to, if it is
// in one of the given from phases. Attempts already past those phases are
// left alone.
func (s *Service) advance(ctx context.Context, subjectID string, to migration.Phase, copiedRevision int64, msg string, from ...migration.Phase) error {
	attempt, err := s.config.State.RunningAttempt(ctx, subjectID)
	if errors.Is(err, errors.NotFound) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	for _, phase := range from {
		if attempt.Phase == phase {
			return errors.Trace(s.setPhase(ctx, &attempt, to, copiedRevision, msg))
		}
	}
	return nil
}

func (s *Service) setPhase(ctx context.Context, attempt *migration.Attempt, to migration.Phase, copiedRevision int64, msg string) error {
	now := s.config.Clock.Now()
	if err := s.config.State.SetPhase(ctx, attempt.UUID, attempt.Phase, to, copiedRevision, msg, now); err != nil {
		return errors.Annotatef(err, "moving migration %q to %s", attempt.UUID, to)
	}
	s.config.Logger.Infof("migration %q of %q: %s -> %s: %s", attempt.UUID, attempt.SubjectID, attempt.Phase, to, msg)
	attempt.Phase = to
	attempt.Message = msg
	attempt.Updated = now
	if copiedRevision > attempt.CopiedRevision {
		attempt.CopiedRevision = copiedRevision
	}
	return nil
}

func (s *Service) blocked(ctx context.Context, attempt *migration.Attempt, action string, cause error) {
	msg := fmt.Sprintf("%s (%v)", action, cause)
	if err := s.config.State.SetMessage(ctx, attempt.UUID, msg, s.config.Clock.Now()); err != nil {
		s.config.Logger.Warningf("recording message for migration %q: %v", attempt.UUID, err)
		return
	}
	attempt.Message = msg
}
