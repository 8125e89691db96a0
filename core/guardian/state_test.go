// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardian_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/core/guardian"
)

type stateSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) TestValidate(c *gc.C) {
	for _, state := range []guardian.State{
		guardian.Standby, guardian.Activating, guardian.Active, guardian.OwnershipLost, guardian.Deactivated,
	} {
		c.Check(state.Validate(), jc.ErrorIsNil)
	}
	err := guardian.State("serving").Validate()
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, `guardian state "serving" not valid`)
}

func (s *stateSuite) TestServing(c *gc.C) {
	c.Check(guardian.Standby.Serving(), jc.IsFalse)
	c.Check(guardian.Activating.Serving(), jc.IsFalse)
	c.Check(guardian.Active.Serving(), jc.IsTrue)
	c.Check(guardian.OwnershipLost.Serving(), jc.IsTrue)
	c.Check(guardian.Deactivated.Serving(), jc.IsFalse)
}

func (s *stateSuite) TestTransitions(c *gc.C) {
	allowed := []struct {
		from, to guardian.State
	}{
		{guardian.Standby, guardian.Activating},
		{guardian.Activating, guardian.Active},
		{guardian.Activating, guardian.Standby},
		{guardian.Activating, guardian.Deactivated},
		{guardian.Active, guardian.OwnershipLost},
		{guardian.OwnershipLost, guardian.Deactivated},
		{guardian.Deactivated, guardian.Active},
	}
	for _, t := range allowed {
		c.Check(t.from.CanTransitionTo(t.to), jc.IsTrue, gc.Commentf("%s -> %s", t.from, t.to))
	}

	// Serving is only ever reached through activation, and only left
	// through a loss of ownership.
	c.Check(guardian.Standby.CanTransitionTo(guardian.Active), jc.IsFalse)
	c.Check(guardian.Active.CanTransitionTo(guardian.Deactivated), jc.IsFalse)
	c.Check(guardian.Active.CanTransitionTo(guardian.Standby), jc.IsFalse)
	c.Check(guardian.Deactivated.CanTransitionTo(guardian.Standby), jc.IsFalse)
	c.Check(guardian.State("bogus").CanTransitionTo(guardian.Active), jc.IsFalse)
}
