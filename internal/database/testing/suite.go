// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/internal/database"
	loggertesting "github.com/juju/handover/internal/logger/testing"
)

// SQLiteSuite opens a fresh in-memory database for every test.
type SQLiteSuite struct {
	testing.IsolationSuite

	// Schema is applied to the database in SetUpTest.
	Schema database.Schema

	DB *database.DB
}

// SetUpTest opens the database and applies the suite schema.
func (s *SQLiteSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	db, err := database.Open(context.Background(), database.InMemory, s.Schema, clock.WallClock, loggertesting.WrapCheckLog(c))
	c.Assert(err, jc.ErrorIsNil)
	s.DB = db
}

// TearDownTest closes the database.
func (s *SQLiteSuite) TearDownTest(c *gc.C) {
	if s.DB != nil {
		err := s.DB.Close()
		c.Check(err, jc.ErrorIsNil)
		s.DB = nil
	}
	s.IsolationSuite.TearDownTest(c)
}

// DumpTable logs the contents of the given tables. It is intended for
// debugging tests.
func DumpTable(c *gc.C, db *sql.DB, table string, extraTables ...string) {
	for _, t := range append([]string{table}, extraTables...) {
		rows, err := db.Query(fmt.Sprintf("SELECT * FROM %q", t))
		c.Assert(err, jc.ErrorIsNil)

		cols, err := rows.Columns()
		c.Assert(err, jc.ErrorIsNil)

		lines := []string{strings.Join(cols, "\t")}
		vals := make([]any, len(cols))
		for i := range vals {
			vals[i] = new(any)
		}
		for rows.Next() {
			err = rows.Scan(vals...)
			c.Assert(err, jc.ErrorIsNil)

			fields := make([]string, len(vals))
			for i, val := range vals {
				fields[i] = fmt.Sprintf("%v", *val.(*any))
			}
			lines = append(lines, strings.Join(fields, "\t"))
		}
		c.Assert(rows.Err(), jc.ErrorIsNil)
		_ = rows.Close()

		c.Logf("Table - %s:\n%s", t, strings.Join(lines, "\n"))
	}
}
