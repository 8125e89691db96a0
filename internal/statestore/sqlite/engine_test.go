// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlite_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	loggertesting "github.com/juju/handover/internal/logger/testing"
	"github.com/juju/handover/internal/statestore/sqlite"
)

type engineSuite struct {
	testing.IsolationSuite

	path string
}

var _ = gc.Suite(&engineSuite{})

func (s *engineSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.path = filepath.Join(c.MkDir(), "state.db")
}

func (s *engineSuite) exec(c *gc.C, path string, stmts ...string) {
	db, err := sql.Open("sqlite3", path)
	c.Assert(err, jc.ErrorIsNil)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		c.Assert(err, jc.ErrorIsNil)
	}
}

func (s *engineSuite) values(c *gc.C, path string) []string {
	db, err := sql.Open("sqlite3", path)
	c.Assert(err, jc.ErrorIsNil)
	defer db.Close()

	rows, err := db.Query("SELECT v FROM kv ORDER BY v")
	c.Assert(err, jc.ErrorIsNil)
	defer rows.Close()
	var values []string
	for rows.Next() {
		var v string
		c.Assert(rows.Scan(&v), jc.ErrorIsNil)
		values = append(values, v)
	}
	c.Assert(rows.Err(), jc.ErrorIsNil)
	return values
}

func (s *engineSuite) TestSnapshotRestore(c *gc.C) {
	s.exec(c, s.path,
		"CREATE TABLE kv (v TEXT)",
		"INSERT INTO kv VALUES ('one')",
	)
	engine := sqlite.NewEngine(s.path, loggertesting.WrapCheckLog(c))

	data, err := engine.Snapshot(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(len(data) > 0, jc.IsTrue)

	s.exec(c, s.path, "INSERT INTO kv VALUES ('two')")
	c.Check(s.values(c, s.path), jc.DeepEquals, []string{"one", "two"})

	err = engine.Restore(context.Background(), data)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.values(c, s.path), jc.DeepEquals, []string{"one"})
}

func (s *engineSuite) TestRestoreIntoOtherEngine(c *gc.C) {
	s.exec(c, s.path,
		"CREATE TABLE kv (v TEXT)",
		"INSERT INTO kv VALUES ('one')",
	)
	data, err := sqlite.NewEngine(s.path, loggertesting.WrapCheckLog(c)).Snapshot(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	other := filepath.Join(c.MkDir(), "other.db")
	err = sqlite.NewEngine(other, loggertesting.WrapCheckLog(c)).Restore(context.Background(), data)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.values(c, other), jc.DeepEquals, []string{"one"})
}

func (s *engineSuite) TestRestoreEmptyResets(c *gc.C) {
	s.exec(c, s.path, "CREATE TABLE kv (v TEXT)")
	engine := sqlite.NewEngine(s.path, loggertesting.WrapCheckLog(c))

	err := engine.Restore(context.Background(), nil)
	c.Assert(err, jc.ErrorIsNil)

	_, err = os.Stat(s.path)
	c.Check(errors.Is(err, os.ErrNotExist), jc.IsTrue)
}

func (s *engineSuite) TestRestoreCorrupt(c *gc.C) {
	s.exec(c, s.path,
		"CREATE TABLE kv (v TEXT)",
		"INSERT INTO kv VALUES ('one')",
	)
	engine := sqlite.NewEngine(s.path, loggertesting.WrapCheckLog(c))

	err := engine.Restore(context.Background(), []byte("definitely not a database"))
	c.Assert(err, gc.NotNil)
	c.Check(s.values(c, s.path), jc.DeepEquals, []string{"one"})
}

func (s *engineSuite) TestSnapshotMissingDatabase(c *gc.C) {
	_, err := sqlite.NewEngine(s.path, loggertesting.WrapCheckLog(c)).Snapshot(context.Background())
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}
