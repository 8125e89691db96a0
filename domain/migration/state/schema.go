// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import "github.com/juju/handover/internal/database"

// Schema creates the migration attempt table. The partial unique index
// allows a single running attempt per subject; phases 1 to 4 are PENDING
// through COPYCOMPLETED.
var Schema = database.Schema{`
CREATE TABLE IF NOT EXISTS migration_attempt (
    uuid             TEXT NOT NULL PRIMARY KEY,
    subject_id       TEXT NOT NULL,
    source_owner_id  TEXT NOT NULL,
    target_owner_id  TEXT NOT NULL,
    phase            INT NOT NULL,
    copied_revision  INT NOT NULL DEFAULT 0,
    message          TEXT NOT NULL DEFAULT '',
    started_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_migration_attempt_running
ON migration_attempt (subject_id)
WHERE phase BETWEEN 1 AND 4;`, `
CREATE INDEX IF NOT EXISTS idx_migration_attempt_subject
ON migration_attempt (subject_id, started_at);`,
}
