// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/migration"
	"github.com/juju/handover/domain"
	"github.com/juju/handover/internal/database"
)

// State persists migration attempts.
type State struct {
	*domain.StateBase
	logger logger.Logger
}

// NewState returns a new state reference.
func NewState(runner database.TxnRunner, logger logger.Logger) *State {
	return &State{
		StateBase: domain.NewStateBase(runner),
		logger:    logger,
	}
}

// CreateAttempt records a new attempt. If the subject already has a
// running attempt migration.ErrInProgress is returned.
func (st *State) CreateAttempt(ctx context.Context, a migration.Attempt) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}
	stmt, err := st.Prepare(`
INSERT INTO migration_attempt (*) VALUES ($attempt.*)`, attempt{})
	if err != nil {
		return errors.Annotate(err, "preparing insert attempt statement")
	}

	return db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, attempt{
			UUID:           a.UUID,
			SubjectID:      a.SubjectID,
			SourceOwnerID:  a.SourceOwnerID,
			TargetOwnerID:  a.TargetOwnerID,
			Phase:          int(a.Phase),
			CopiedRevision: a.CopiedRevision,
			Message:        a.Message,
			StartedAt:      a.Started.UTC(),
			UpdatedAt:      a.Updated.UTC(),
		}).Run()
		if database.IsErrConstraintUnique(err) {
			return errors.Annotatef(migration.ErrInProgress, "subject %q", a.SubjectID)
		}
		return errors.Annotatef(err, "inserting attempt %q", a.UUID)
	})
}

// Attempt returns the attempt with the given UUID.
func (st *State) Attempt(ctx context.Context, uuid string) (migration.Attempt, error) {
	db, err := st.DB()
	if err != nil {
		return migration.Attempt{}, errors.Trace(err)
	}
	stmt, err := st.Prepare(`
SELECT &attempt.*
FROM   migration_attempt
WHERE  uuid = $attemptUUID.uuid`, attempt{}, attemptUUID{})
	if err != nil {
		return migration.Attempt{}, errors.Annotate(err, "preparing select attempt statement")
	}

	var result attempt
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, attemptUUID{UUID: uuid}).Get(&result)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("migration attempt %q", uuid)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return migration.Attempt{}, err
	}
	return result.toCore(), nil
}

// RunningAttempt returns the running attempt for the subject, or a
// NotFound error if there is none.
func (st *State) RunningAttempt(ctx context.Context, subjectID string) (migration.Attempt, error) {
	return st.latest(ctx, phaseRange{
		SubjectID: subjectID,
		Min:       int(migration.PENDING),
		Max:       int(migration.COPYCOMPLETED),
	})
}

// LatestAttempt returns the most recently started attempt for the
// subject, whatever its phase.
func (st *State) LatestAttempt(ctx context.Context, subjectID string) (migration.Attempt, error) {
	return st.latest(ctx, phaseRange{
		SubjectID: subjectID,
		Min:       int(migration.UNKNOWN),
		Max:       int(migration.FAILED),
	})
}

func (st *State) latest(ctx context.Context, arg phaseRange) (migration.Attempt, error) {
	db, err := st.DB()
	if err != nil {
		return migration.Attempt{}, errors.Trace(err)
	}
	stmt, err := st.Prepare(`
SELECT &attempt.*
FROM   migration_attempt
WHERE  subject_id = $phaseRange.subject_id
AND    phase BETWEEN $phaseRange.min_phase AND $phaseRange.max_phase
ORDER BY started_at DESC, rowid DESC
LIMIT 1`, attempt{}, phaseRange{})
	if err != nil {
		return migration.Attempt{}, errors.Annotate(err, "preparing select latest attempt statement")
	}

	var result attempt
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, arg).Get(&result)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("migration attempt for %q", arg.SubjectID)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return migration.Attempt{}, err
	}
	return result.toCore(), nil
}

// Attempts returns every attempt for the subject, oldest first.
func (st *State) Attempts(ctx context.Context, subjectID string) ([]migration.Attempt, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}
	stmt, err := st.Prepare(`
SELECT &attempt.*
FROM   migration_attempt
WHERE  subject_id = $subject.subject_id
ORDER BY started_at, rowid`, attempt{}, subject{})
	if err != nil {
		return nil, errors.Annotate(err, "preparing select attempts statement")
	}

	var rows []attempt
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, subject{SubjectID: subjectID}).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := make([]migration.Attempt, len(rows))
	for i, row := range rows {
		result[i] = row.toCore()
	}
	return result, nil
}

// SetPhase moves the attempt from one phase to the next. The change only
// applies if the attempt is still in phase from; otherwise a NotValid error
// is returned. A non-zero copiedRevision is recorded alongside.
func (st *State) SetPhase(
	ctx context.Context, uuid string, from, to migration.Phase, copiedRevision int64, message string, now time.Time,
) error {
	if !from.CanTransitionTo(to) {
		return errors.NotValidf("migration phase change %s -> %s", from, to)
	}

	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}
	stmt, err := st.Prepare(`
UPDATE migration_attempt
SET    phase = $phaseChange.phase,
       copied_revision = MAX(copied_revision, $phaseChange.copied_revision),
       message = $phaseChange.message,
       updated_at = $phaseChange.updated_at
WHERE  uuid = $phaseChange.uuid
AND    phase = $phaseChange.from_phase`, phaseChange{})
	if err != nil {
		return errors.Annotate(err, "preparing update phase statement")
	}

	return db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		err := tx.Query(ctx, stmt, phaseChange{
			UUID:           uuid,
			From:           int(from),
			To:             int(to),
			CopiedRevision: copiedRevision,
			Message:        message,
			UpdatedAt:      now.UTC(),
		}).Get(&outcome)
		if err != nil {
			return errors.Annotatef(err, "updating phase of %q", uuid)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected != 1 {
			return errors.NotValidf("attempt %q not in phase %s", uuid, from)
		}
		st.logger.Debugf("migration attempt %q: %s -> %s", uuid, from, to)
		return nil
	})
}

// SetMessage updates the message of the attempt without changing its
// phase. It is used to surface the operator action a blocked phase needs.
func (st *State) SetMessage(ctx context.Context, uuid, message string, now time.Time) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}
	stmt, err := st.Prepare(`
UPDATE migration_attempt
SET    message = $phaseChange.message,
       updated_at = $phaseChange.updated_at
WHERE  uuid = $phaseChange.uuid`, phaseChange{})
	if err != nil {
		return errors.Annotate(err, "preparing update message statement")
	}
	return db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, phaseChange{
			UUID:      uuid,
			Message:   message,
			UpdatedAt: now.UTC(),
		}).Run()
		return errors.Annotatef(err, "updating message of %q", uuid)
	})
}
