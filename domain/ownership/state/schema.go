// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import "github.com/juju/handover/internal/database"

// Schema creates the ownership record table.
var Schema = database.Schema{`
CREATE TABLE IF NOT EXISTS ownership (
    subject_id  TEXT NOT NULL PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    revision    INT NOT NULL DEFAULT 1,
    updated_at  DATETIME NOT NULL
);`,
}
