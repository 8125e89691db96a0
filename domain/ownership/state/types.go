// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import "time"

type ownershipRecord struct {
	SubjectID string    `db:"subject_id"`
	OwnerID   string    `db:"owner_id"`
	Revision  int64     `db:"revision"`
	UpdatedAt time.Time `db:"updated_at"`
}

type subject struct {
	SubjectID string `db:"subject_id"`
}

type ownerChange struct {
	SubjectID string    `db:"subject_id"`
	Expected  string    `db:"expected_owner_id"`
	OwnerID   string    `db:"owner_id"`
	UpdatedAt time.Time `db:"updated_at"`
}
