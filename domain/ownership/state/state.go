// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/domain"
	"github.com/juju/handover/internal/database"
)

// State persists ownership records.
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

// Provision creates the record for the subject with its initial owner. If
// the record already exists with the same owner nothing happens; if it
// exists with a different owner an AlreadyExists error is returned.
func (st *State) Provision(ctx context.Context, subjectID, ownerID string, now time.Time) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	getStmt, err := st.Prepare(`
SELECT &ownershipRecord.*
FROM   ownership
WHERE  subject_id = $subject.subject_id`, ownershipRecord{}, subject{})
	if err != nil {
		return errors.Annotate(err, "preparing select ownership statement")
	}
	insertStmt, err := st.Prepare(`
INSERT INTO ownership (*) VALUES ($ownershipRecord.*)`, ownershipRecord{})
	if err != nil {
		return errors.Annotate(err, "preparing insert ownership statement")
	}

	return db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var existing ownershipRecord
		err := tx.Query(ctx, getStmt, subject{SubjectID: subjectID}).Get(&existing)
		if err == nil {
			if existing.OwnerID == ownerID {
				return nil
			}
			return errors.AlreadyExistsf("ownership record for %q owned by %q", subjectID, existing.OwnerID)
		} else if !errors.Is(err, sqlair.ErrNoRows) {
			return errors.Annotatef(err, "reading ownership record for %q", subjectID)
		}

		err = tx.Query(ctx, insertStmt, ownershipRecord{
			SubjectID: subjectID,
			OwnerID:   ownerID,
			Revision:  1,
			UpdatedAt: now.UTC(),
		}).Run()
		if database.IsErrConstraintUnique(err) {
			return errors.AlreadyExistsf("ownership record for %q", subjectID)
		}
		return errors.Annotatef(err, "inserting ownership record for %q", subjectID)
	})
}

// Owner returns the owner recorded for the subject, or a NotFound error if
// no record exists.
func (st *State) Owner(ctx context.Context, subjectID string) (string, error) {
	db, err := st.DB()
	if err != nil {
		return "", errors.Trace(err)
	}

	stmt, err := st.Prepare(`
SELECT &ownershipRecord.*
FROM   ownership
WHERE  subject_id = $subject.subject_id`, ownershipRecord{}, subject{})
	if err != nil {
		return "", errors.Annotate(err, "preparing select ownership statement")
	}

	var record ownershipRecord
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, subject{SubjectID: subjectID}).Get(&record)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("ownership record for %q", subjectID)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return "", err
	}
	return record.OwnerID, nil
}

// SetOwner moves the subject from expectedOwnerID to newOwnerID. The
// update is a compare-and-swap on the current owner: if the record already
// holds newOwnerID nothing happens, and if it holds any other value
// ownership.ErrConflict is returned.
func (st *State) SetOwner(ctx context.Context, subjectID, expectedOwnerID, newOwnerID string, now time.Time) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	getStmt, err := st.Prepare(`
SELECT &ownershipRecord.*
FROM   ownership
WHERE  subject_id = $subject.subject_id`, ownershipRecord{}, subject{})
	if err != nil {
		return errors.Annotate(err, "preparing select ownership statement")
	}
	updateStmt, err := st.Prepare(`
UPDATE ownership
SET    owner_id = $ownerChange.owner_id,
       revision = revision + 1,
       updated_at = $ownerChange.updated_at
WHERE  subject_id = $ownerChange.subject_id
AND    owner_id = $ownerChange.expected_owner_id`, ownerChange{})
	if err != nil {
		return errors.Annotate(err, "preparing update ownership statement")
	}

	return db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var current ownershipRecord
		err := tx.Query(ctx, getStmt, subject{SubjectID: subjectID}).Get(&current)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("ownership record for %q", subjectID)
		} else if err != nil {
			return errors.Annotatef(err, "reading ownership record for %q", subjectID)
		}

		switch current.OwnerID {
		case newOwnerID:
			return nil
		case expectedOwnerID:
		default:
			return errors.Annotatef(ownership.ErrConflict,
				"subject %q owned by %q, expected %q", subjectID, current.OwnerID, expectedOwnerID)
		}

		var outcome sqlair.Outcome
		err = tx.Query(ctx, updateStmt, ownerChange{
			SubjectID: subjectID,
			Expected:  expectedOwnerID,
			OwnerID:   newOwnerID,
			UpdatedAt: now.UTC(),
		}).Get(&outcome)
		if err != nil {
			return errors.Annotatef(err, "updating ownership record for %q", subjectID)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected != 1 {
			return errors.Annotatef(ownership.ErrConflict, "subject %q changed concurrently", subjectID)
		}
		st.logger.Infof("ownership of %q moved from %q to %q", subjectID, expectedOwnerID, newOwnerID)
		return nil
	})
}
