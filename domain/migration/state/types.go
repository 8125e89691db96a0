// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"time"

	"github.com/juju/handover/core/migration"
)

type attempt struct {
	UUID           string    `db:"uuid"`
	SubjectID      string    `db:"subject_id"`
	SourceOwnerID  string    `db:"source_owner_id"`
	TargetOwnerID  string    `db:"target_owner_id"`
	Phase          int       `db:"phase"`
	CopiedRevision int64     `db:"copied_revision"`
	Message        string    `db:"message"`
	StartedAt      time.Time `db:"started_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (a attempt) toCore() migration.Attempt {
	return migration.Attempt{
		UUID:           a.UUID,
		SubjectID:      a.SubjectID,
		SourceOwnerID:  a.SourceOwnerID,
		TargetOwnerID:  a.TargetOwnerID,
		Phase:          migration.Phase(a.Phase),
		CopiedRevision: a.CopiedRevision,
		Message:        a.Message,
		Started:        a.StartedAt,
		Updated:        a.UpdatedAt,
	}
}

type attemptUUID struct {
	UUID string `db:"uuid"`
}

type subject struct {
	SubjectID string `db:"subject_id"`
}

type phaseRange struct {
	SubjectID string `db:"subject_id"`
	Min       int    `db:"min_phase"`
	Max       int    `db:"max_phase"`
}

type phaseChange struct {
	UUID           string    `db:"uuid"`
	From           int       `db:"from_phase"`
	To             int       `db:"phase"`
	CopiedRevision int64     `db:"copied_revision"`
	Message        string    `db:"message"`
	UpdatedAt      time.Time `db:"updated_at"`
}
