// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database_test

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/internal/database"
	databasetesting "github.com/juju/handover/internal/database/testing"
)

type databaseSuite struct {
	databasetesting.SQLiteSuite
}

var _ = gc.Suite(&databaseSuite{
	SQLiteSuite: databasetesting.SQLiteSuite{
		Schema: database.Schema{
			`CREATE TABLE IF NOT EXISTS item (name TEXT PRIMARY KEY, value INT NOT NULL)`,
		},
	},
})

type item struct {
	Name  string `db:"name"`
	Value int    `db:"value"`
}

func (s *databaseSuite) TestTxnCommits(c *gc.C) {
	insert := sqlair.MustPrepare(`INSERT INTO item (*) VALUES ($item.*)`, item{})
	get := sqlair.MustPrepare(`SELECT &item.* FROM item WHERE name = $item.name`, item{})

	err := s.DB.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, insert, item{Name: "a", Value: 1}).Run()
	})
	c.Assert(err, jc.ErrorIsNil)

	var got item
	err = s.DB.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, get, item{Name: "a"}).Get(&got)
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, item{Name: "a", Value: 1})
}

func (s *databaseSuite) TestTxnRollsBackOnError(c *gc.C) {
	insert := sqlair.MustPrepare(`INSERT INTO item (*) VALUES ($item.*)`, item{})
	boom := errors.New("boom")

	err := s.DB.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, insert, item{Name: "a", Value: 1}).Run(); err != nil {
			return err
		}
		return boom
	})
	c.Assert(err, gc.Equals, boom)

	var count int
	row := s.DB.PlainDB().QueryRow(`SELECT COUNT(*) FROM item`)
	c.Assert(row.Scan(&count), jc.ErrorIsNil)
	c.Check(count, gc.Equals, 0)
}

func (s *databaseSuite) TestTxnUniqueConstraint(c *gc.C) {
	insert := sqlair.MustPrepare(`INSERT INTO item (*) VALUES ($item.*)`, item{})
	run := func() error {
		return s.DB.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
			return tx.Query(ctx, insert, item{Name: "a", Value: 1}).Run()
		})
	}
	c.Assert(run(), jc.ErrorIsNil)

	err := run()
	c.Check(database.IsErrConstraintUnique(err), jc.IsTrue)
}
