// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/core/migration"
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

func (s *stateSuite) newAttempt(uuid string) migration.Attempt {
	return migration.Attempt{
		UUID:          uuid,
		SubjectID:     "s1",
		SourceOwnerID: "a",
		TargetOwnerID: "b",
		Phase:         migration.PENDING,
		Started:       s.now,
		Updated:       s.now,
	}
}

func (s *stateSuite) TestCreateAndGet(c *gc.C) {
	a := s.newAttempt("u1")
	err := s.state.CreateAttempt(context.Background(), a)
	c.Assert(err, jc.ErrorIsNil)

	got, err := s.state.Attempt(context.Background(), "u1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.SubjectID, gc.Equals, "s1")
	c.Check(got.TargetOwnerID, gc.Equals, "b")
	c.Check(got.Phase, gc.Equals, migration.PENDING)
	c.Check(got.Started.Equal(s.now), jc.IsTrue)

	running, err := s.state.RunningAttempt(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(running.UUID, gc.Equals, "u1")
}

func (s *stateSuite) TestAttemptNotFound(c *gc.C) {
	_, err := s.state.Attempt(context.Background(), "missing")
	c.Assert(err, jc.ErrorIs, errors.NotFound)

	_, err = s.state.RunningAttempt(context.Background(), "s1")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *stateSuite) TestOneRunningAttemptPerSubject(c *gc.C) {
	err := s.state.CreateAttempt(context.Background(), s.newAttempt("u1"))
	c.Assert(err, jc.ErrorIsNil)

	err = s.state.CreateAttempt(context.Background(), s.newAttempt("u2"))
	c.Assert(err, jc.ErrorIs, migration.ErrInProgress)
}

func (s *stateSuite) TestNewAttemptAfterTerminal(c *gc.C) {
	err := s.state.CreateAttempt(context.Background(), s.newAttempt("u1"))
	c.Assert(err, jc.ErrorIsNil)
	err = s.state.SetPhase(context.Background(), "u1", migration.PENDING, migration.ABORTED, 0, "aborted", s.now)
	c.Assert(err, jc.ErrorIsNil)

	second := s.newAttempt("u2")
	second.Started = s.now.Add(time.Minute)
	err = s.state.CreateAttempt(context.Background(), second)
	c.Assert(err, jc.ErrorIsNil)

	latest, err := s.state.LatestAttempt(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(latest.UUID, gc.Equals, "u2")

	all, err := s.state.Attempts(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(all, gc.HasLen, 2)
	c.Check(all[0].Phase, gc.Equals, migration.ABORTED)
	c.Check(all[1].Phase, gc.Equals, migration.PENDING)
}

func (s *stateSuite) TestSetPhase(c *gc.C) {
	err := s.state.CreateAttempt(context.Background(), s.newAttempt("u1"))
	c.Assert(err, jc.ErrorIsNil)

	steps := []migration.Phase{
		migration.PENDING,
		migration.INITIATED,
		migration.SOURCEDEACTIVATED,
		migration.COPYCOMPLETED,
		migration.DONE,
	}
	for i := 1; i < len(steps); i++ {
		var rev int64
		if steps[i] == migration.COPYCOMPLETED {
			rev = 42
		}
		err := s.state.SetPhase(context.Background(), "u1", steps[i-1], steps[i], rev, steps[i].String(), s.now)
		c.Assert(err, jc.ErrorIsNil)
	}

	got, err := s.state.Attempt(context.Background(), "u1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.Phase, gc.Equals, migration.DONE)
	c.Check(got.CopiedRevision, gc.Equals, int64(42))
	c.Check(got.Message, gc.Equals, "DONE")

	_, err = s.state.RunningAttempt(context.Background(), "s1")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *stateSuite) TestSetPhaseInvalidTransition(c *gc.C) {
	err := s.state.CreateAttempt(context.Background(), s.newAttempt("u1"))
	c.Assert(err, jc.ErrorIsNil)

	err = s.state.SetPhase(context.Background(), "u1", migration.INITIATED, migration.ABORTED, 0, "", s.now)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *stateSuite) TestSetPhaseStale(c *gc.C) {
	err := s.state.CreateAttempt(context.Background(), s.newAttempt("u1"))
	c.Assert(err, jc.ErrorIsNil)

	err = s.state.SetPhase(context.Background(), "u1", migration.INITIATED, migration.SOURCEDEACTIVATED, 0, "", s.now)
	c.Assert(err, jc.ErrorIs, errors.NotValid)

	got, err := s.state.Attempt(context.Background(), "u1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.Phase, gc.Equals, migration.PENDING)
}

func (s *stateSuite) TestSetMessage(c *gc.C) {
	err := s.state.CreateAttempt(context.Background(), s.newAttempt("u1"))
	c.Assert(err, jc.ErrorIsNil)

	err = s.state.SetMessage(context.Background(), "u1", "waiting for copy", s.now.Add(time.Minute))
	c.Assert(err, jc.ErrorIsNil)

	got, err := s.state.Attempt(context.Background(), "u1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.Message, gc.Equals, "waiting for copy")
	c.Check(got.Phase, gc.Equals, migration.PENDING)
}
