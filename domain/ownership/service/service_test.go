// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/core/ownership"
	loggertesting "github.com/juju/handover/internal/logger/testing"
)

type serviceSuite struct {
	testing.IsolationSuite

	state *MockState
	clock *testclock.Clock
}

var _ = gc.Suite(&serviceSuite{})

func (s *serviceSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.state = NewMockState(ctrl)
	s.clock = testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return ctrl
}

func (s *serviceSuite) newService(c *gc.C) *Service {
	return NewService(s.state, s.clock, time.Second, loggertesting.WrapCheckLog(c))
}

func (s *serviceSuite) TestResolve(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().Owner(gomock.Any(), "s1").Return("a", nil)

	owner, err := s.newService(c).Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(owner, gc.Equals, "a")
}

func (s *serviceSuite) TestResolveMissingRecord(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().Owner(gomock.Any(), "s1").Return("", errors.NotFoundf("record"))

	_, err := s.newService(c).Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIs, ownership.ErrResolutionFailure)
}

func (s *serviceSuite) TestResolveStateError(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().Owner(gomock.Any(), "s1").Return("", errors.New("disk on fire"))

	_, err := s.newService(c).Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIs, ownership.ErrResolutionFailure)
	c.Check(err, gc.ErrorMatches, `resolving "s1": disk on fire: .*`)
}

func (s *serviceSuite) TestResolveAppliesTimeout(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().Owner(gomock.Any(), "s1").DoAndReturn(func(ctx context.Context, _ string) (string, error) {
		_, ok := ctx.Deadline()
		c.Check(ok, jc.IsTrue)
		return "a", nil
	})

	_, err := s.newService(c).Resolve(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *serviceSuite) TestResolveInvalidSubject(c *gc.C) {
	defer s.setupMocks(c).Finish()

	_, err := s.newService(c).Resolve(context.Background(), "bad/subject")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *serviceSuite) TestSetOwner(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().SetOwner(gomock.Any(), "s1", "a", "b", s.clock.Now()).Return(nil)

	err := s.newService(c).SetOwner(context.Background(), "s1", "a", "b")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *serviceSuite) TestSetOwnerConflict(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().SetOwner(gomock.Any(), "s1", "a", "b", gomock.Any()).Return(
		errors.Annotatef(ownership.ErrConflict, "owned by c"))

	err := s.newService(c).SetOwner(context.Background(), "s1", "a", "b")
	c.Assert(err, jc.ErrorIs, ownership.ErrConflict)
	c.Check(ownership.IsResolutionFailure(err), jc.IsFalse)
}

func (s *serviceSuite) TestSetOwnerMissingRecord(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().SetOwner(gomock.Any(), "s1", "a", "b", gomock.Any()).Return(errors.NotFoundf("record"))

	err := s.newService(c).SetOwner(context.Background(), "s1", "a", "b")
	c.Assert(err, jc.ErrorIs, ownership.ErrResolutionFailure)
}

func (s *serviceSuite) TestSetOwnerUnreachable(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().SetOwner(gomock.Any(), "s1", "a", "b", gomock.Any()).Return(context.DeadlineExceeded)

	err := s.newService(c).SetOwner(context.Background(), "s1", "a", "b")
	c.Assert(err, jc.ErrorIs, ownership.ErrResolutionFailure)
}

func (s *serviceSuite) TestSetOwnerInvalid(c *gc.C) {
	defer s.setupMocks(c).Finish()

	err := s.newService(c).SetOwner(context.Background(), "s1", "", "b")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *serviceSuite) TestProvision(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().Provision(gomock.Any(), "s1", "a", s.clock.Now()).Return(nil)

	err := s.newService(c).Provision(context.Background(), "s1", "a")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *serviceSuite) TestProvisionAlreadyExists(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.state.EXPECT().Provision(gomock.Any(), "s1", "b", gomock.Any()).Return(errors.AlreadyExistsf("record"))

	err := s.newService(c).Provision(context.Background(), "s1", "b")
	c.Assert(err, jc.ErrorIs, errors.AlreadyExists)
}
