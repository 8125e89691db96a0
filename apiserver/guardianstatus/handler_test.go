// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardianstatus_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/apiserver/guardianstatus"
	coreguardian "github.com/juju/handover/core/guardian"
	loggertesting "github.com/juju/handover/internal/logger/testing"
	"github.com/juju/handover/internal/worker/guardian"
)

type staticSource coreguardian.Status

func (s staticSource) Status() coreguardian.Status {
	return coreguardian.Status(s)
}

type handlerSuite struct {
	testing.IsolationSuite

	server *httptest.Server
}

var _ = gc.Suite(&handlerSuite{})

func (s *handlerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handover_test_total",
		Help: "Test counter.",
	})
	registry.MustRegister(counter)
	counter.Inc()

	router := mux.NewRouter()
	guardianstatus.NewHandlers(map[string]guardian.StatusSource{
		"s1": staticSource{SubjectID: "s1", ClusterID: "a", State: coreguardian.Active, Serving: true, LastRevision: 7},
		"s2": staticSource{SubjectID: "s2", ClusterID: "a", State: coreguardian.Deactivated, Terminal: true, FinalRevision: 42},
	}, registry, loggertesting.WrapCheckLog(c)).AddHandlers(router)
	s.server = httptest.NewServer(router)
	s.AddCleanup(func(*gc.C) { s.server.Close() })
}

func (s *handlerSuite) get(c *gc.C, path string) (int, []byte) {
	resp, err := http.Get(s.server.URL + path)
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	c.Assert(err, jc.ErrorIsNil)
	return resp.StatusCode, data
}

func (s *handlerSuite) TestStatus(c *gc.C) {
	code, data := s.get(c, "/v1/subjects/s2/status")
	c.Assert(code, gc.Equals, http.StatusOK)

	var status coreguardian.Status
	err := json.Unmarshal(data, &status)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status.State, gc.Equals, coreguardian.Deactivated)
	c.Check(status.Terminal, jc.IsTrue)
	c.Check(status.FinalRevision, gc.Equals, int64(42))
}

func (s *handlerSuite) TestStatusUnknownSubject(c *gc.C) {
	code, _ := s.get(c, "/v1/subjects/nope/status")
	c.Check(code, gc.Equals, http.StatusNotFound)
}

func (s *handlerSuite) TestReady(c *gc.C) {
	code, _ := s.get(c, "/v1/subjects/s1/ready")
	c.Check(code, gc.Equals, http.StatusOK)

	code, _ = s.get(c, "/v1/subjects/s2/ready")
	c.Check(code, gc.Equals, http.StatusServiceUnavailable)
}

func (s *handlerSuite) TestMetrics(c *gc.C) {
	code, data := s.get(c, "/metrics")
	c.Assert(code, gc.Equals, http.StatusOK)
	c.Check(strings.Contains(string(data), "handover_test_total 1"), jc.IsTrue)
}
