// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/core/ownership"
	databasetesting "github.com/juju/handover/internal/database/testing"
	loggertesting "github.com/juju/handover/internal/logger/testing"
)

type stateSuite struct {
	databasetesting.SQLiteSuite

	state *State
	now   time.Time
}

var _ = gc.Suite(&stateSuite{
	SQLiteSuite: databasetesting.SQLiteSuite{Schema: Schema},
})

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.SQLiteSuite.SetUpTest(c)
	s.state = NewState(s.DB, loggertesting.WrapCheckLog(c))
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *stateSuite) TestProvisionAndOwner(c *gc.C) {
	err := s.state.Provision(context.Background(), "s1", "a", s.now)
	c.Assert(err, jc.ErrorIsNil)

	owner, err := s.state.Owner(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owner, gc.Equals, "a")
}

func (s *stateSuite) TestProvisionIdempotent(c *gc.C) {
	err := s.state.Provision(context.Background(), "s1", "a", s.now)
	c.Assert(err, jc.ErrorIsNil)
	err = s.state.Provision(context.Background(), "s1", "a", s.now.Add(time.Minute))
	c.Assert(err, jc.ErrorIsNil)
}

func (s *stateSuite) TestProvisionDifferentOwner(c *gc.C) {
	err := s.state.Provision(context.Background(), "s1", "a", s.now)
	c.Assert(err, jc.ErrorIsNil)
	err = s.state.Provision(context.Background(), "s1", "b", s.now)
	c.Assert(err, jc.ErrorIs, errors.AlreadyExists)
}

func (s *stateSuite) TestOwnerNotFound(c *gc.C) {
	_, err := s.state.Owner(context.Background(), "missing")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *stateSuite) TestSetOwner(c *gc.C) {
	err := s.state.Provision(context.Background(), "s1", "a", s.now)
	c.Assert(err, jc.ErrorIsNil)

	err = s.state.SetOwner(context.Background(), "s1", "a", "b", s.now)
	c.Assert(err, jc.ErrorIsNil)

	owner, err := s.state.Owner(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owner, gc.Equals, "b")

	var revision int
	row := s.DB.PlainDB().QueryRow(`SELECT revision FROM ownership WHERE subject_id = 's1'`)
	c.Assert(row.Scan(&revision), jc.ErrorIsNil)
	c.Check(revision, gc.Equals, 2)
}

func (s *stateSuite) TestSetOwnerAlreadyCurrent(c *gc.C) {
	err := s.state.Provision(context.Background(), "s1", "a", s.now)
	c.Assert(err, jc.ErrorIsNil)
	err = s.state.SetOwner(context.Background(), "s1", "a", "b", s.now)
	c.Assert(err, jc.ErrorIsNil)

	// Retrying the same call must not bump the revision.
	err = s.state.SetOwner(context.Background(), "s1", "a", "b", s.now)
	c.Assert(err, jc.ErrorIsNil)

	var revision int
	row := s.DB.PlainDB().QueryRow(`SELECT revision FROM ownership WHERE subject_id = 's1'`)
	c.Assert(row.Scan(&revision), jc.ErrorIsNil)
	c.Check(revision, gc.Equals, 2)
}

func (s *stateSuite) TestSetOwnerConflict(c *gc.C) {
	err := s.state.Provision(context.Background(), "s1", "c", s.now)
	c.Assert(err, jc.ErrorIsNil)

	err = s.state.SetOwner(context.Background(), "s1", "a", "b", s.now)
	c.Assert(err, jc.ErrorIs, ownership.ErrConflict)

	owner, err := s.state.Owner(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owner, gc.Equals, "c")
}

func (s *stateSuite) TestSetOwnerNotFound(c *gc.C) {
	err := s.state.SetOwner(context.Background(), "s1", "a", "b", s.now)
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}
