// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database_test

import (
	"database/sql"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/mattn/go-sqlite3"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/internal/database"
)

type errorsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&errorsSuite{})

func (s *errorsSuite) TestIsErrRetryable(c *gc.C) {
	tests := []struct {
		name string
		err  error
		want bool
	}{{
		name: "nil",
		err:  nil,
		want: false,
	}, {
		name: "no rows",
		err:  sql.ErrNoRows,
		want: false,
	}, {
		name: "busy",
		err:  sqlite3.Error{Code: sqlite3.ErrBusy},
		want: true,
	}, {
		name: "locked",
		err:  errors.Annotate(sqlite3.Error{Code: sqlite3.ErrLocked}, "wrapped"),
		want: true,
	}, {
		name: "database is locked",
		err:  errors.New("database is locked"),
		want: true,
	}, {
		name: "bad connection",
		err:  errors.New("driver: bad connection"),
		want: true,
	}, {
		name: "constraint",
		err:  sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique},
		want: false,
	}}
	for i, test := range tests {
		c.Logf("test %d: %s", i, test.name)
		c.Check(database.IsErrRetryable(test.err), gc.Equals, test.want)
	}
}

func (s *errorsSuite) TestIsErrConstraintUnique(c *gc.C) {
	c.Check(database.IsErrConstraintUnique(nil), jc.IsFalse)
	c.Check(database.IsErrConstraintUnique(errors.New("boom")), jc.IsFalse)
	c.Check(database.IsErrConstraintUnique(sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintUnique,
	}), jc.IsTrue)
	c.Check(database.IsErrConstraintUnique(errors.Trace(sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintPrimaryKey,
	})), jc.IsTrue)
}
