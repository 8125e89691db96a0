// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardianstatus_test

import (
	"context"
	"net/http/httptest"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/api/guardianstatus"
	apiserver "github.com/juju/handover/apiserver/guardianstatus"
	coreguardian "github.com/juju/handover/core/guardian"
	loggertesting "github.com/juju/handover/internal/logger/testing"
	"github.com/juju/handover/internal/worker/guardian"
)

type staticSource coreguardian.Status

func (s staticSource) Status() coreguardian.Status {
	return coreguardian.Status(s)
}

type clientSuite struct {
	testing.IsolationSuite

	client *guardianstatus.Client
}

var _ = gc.Suite(&clientSuite{})

func (s *clientSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	router := mux.NewRouter()
	apiserver.NewHandlers(map[string]guardian.StatusSource{
		"s1": staticSource{
			SubjectID:     "s1",
			ClusterID:     "a",
			State:         coreguardian.Deactivated,
			Terminal:      true,
			LastRevision:  42,
			FinalRevision: 42,
		},
	}, nil, loggertesting.WrapCheckLog(c)).AddHandlers(router)
	server := httptest.NewServer(router)
	s.AddCleanup(func(*gc.C) { server.Close() })

	s.client = guardianstatus.NewClient(server.URL, nil)
}

func (s *clientSuite) TestStatus(c *gc.C) {
	status, err := s.client.Status(context.Background(), "s1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status.State, gc.Equals, coreguardian.Deactivated)
	c.Check(status.Terminal, jc.IsTrue)
	c.Check(status.FinalRevision, gc.Equals, int64(42))
}

func (s *clientSuite) TestStatusUnknownSubject(c *gc.C) {
	_, err := s.client.Status(context.Background(), "s2")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}
