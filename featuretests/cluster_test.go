// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package featuretests

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/api/guardianstatus"
	guardianstatusapi "github.com/juju/handover/apiserver/guardianstatus"
	coreguardian "github.com/juju/handover/core/guardian"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/core/snapshot"
	"github.com/juju/handover/internal/backupstore"
	backupstoretesting "github.com/juju/handover/internal/backupstore/testing"
	loggertesting "github.com/juju/handover/internal/logger/testing"
	"github.com/juju/handover/internal/statestore/sqlite"
	"github.com/juju/handover/internal/worker/guardian"
)

const subjectID = "s1"

// cluster is one side of a hand-off: a guardian with its own backup
// store, state engine and serving process, reachable through its status
// endpoint.
type cluster struct {
	id         string
	dbPath     string
	engine     *sqlite.Engine
	store      *backupstoretesting.Store
	supervisor *supervisor
	guardian   *guardian.Worker
	status     *guardianstatus.Client
}

// newCluster prepares a cluster without starting its guardian.
func newCluster(c *gc.C, id string) *cluster {
	dbPath := filepath.Join(c.MkDir(), "state.db")
	return &cluster{
		id:         id,
		dbPath:     dbPath,
		engine:     sqlite.NewEngine(dbPath, loggertesting.WrapCheckLog(c)),
		store:      backupstoretesting.NewStore(),
		supervisor: &supervisor{},
	}
}

// start runs the guardian and its status endpoint until the test ends. The
// guardian polls on its own only once, at start; tests drive every further
// poll explicitly.
func (cl *cluster) start(c *gc.C, suite *testing.CleanupSuite, resolver ownership.Resolver, clk clock.Clock) {
	logger := loggertesting.WrapCheckLog(c)
	w, err := guardian.NewWorker(guardian.Config{
		SubjectID:        subjectID,
		ClusterID:        cl.id,
		Resolver:         resolver,
		BackupStore:      cl.store,
		Engine:           cl.engine,
		Supervisor:       cl.supervisor,
		PollInterval:     time.Minute,
		ResolveTimeout:   5 * time.Second,
		SnapshotInterval: time.Hour,
		BackupTimeout:    5 * time.Second,
		Clock:            clk,
		Logger:           logger,
		Metrics:          guardian.NewMetricsCollector(),
	})
	c.Assert(err, jc.ErrorIsNil)
	cl.guardian = w

	router := mux.NewRouter()
	guardianstatusapi.NewHandlers(map[string]guardian.StatusSource{subjectID: w}, nil, logger).AddHandlers(router)
	server := httptest.NewServer(router)
	cl.status = guardianstatus.NewClient(server.URL, nil)

	suite.AddCleanup(func(c *gc.C) {
		server.Close()
		workertest.CleanKill(c, w)
	})
}

// provisionEmpty writes the empty copy written at provisioning.
func (cl *cluster) provisionEmpty(c *gc.C, at time.Time) {
	err := backupstore.WriteCopyResult(context.Background(), cl.store, snapshot.CopyResult{
		SubjectID: subjectID,
		Completed: at,
	})
	c.Assert(err, jc.ErrorIsNil)
}

// snapshot stores the current engine content as a periodic snapshot.
func (cl *cluster) snapshot(c *gc.C, revision int64) {
	ctx := context.Background()
	data, err := cl.engine.Snapshot(ctx)
	c.Assert(err, jc.ErrorIsNil)
	snap := snapshot.Snapshot{SubjectID: subjectID, Revision: revision}
	c.Assert(cl.store.Put(ctx, snap.Key(), data), jc.ErrorIsNil)
}

func (cl *cluster) poll(c *gc.C) coreguardian.Status {
	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()
	c.Assert(cl.guardian.Poll(ctx), jc.ErrorIsNil)
	return cl.guardian.Status()
}

func (cl *cluster) serving() bool {
	return cl.guardian.Status().Serving || cl.supervisor.isRunning()
}

// write inserts values into the state engine, as the control plane does
// while the cluster serves.
func (cl *cluster) write(c *gc.C, values ...string) {
	c.Assert(cl.supervisor.isRunning(), jc.IsTrue, gc.Commentf("cluster %s writing while not serving", cl.id))
	db, err := sql.Open("sqlite3", cl.dbPath)
	c.Assert(err, jc.ErrorIsNil)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE IF NOT EXISTS kv (v TEXT)")
	c.Assert(err, jc.ErrorIsNil)
	for _, v := range values {
		_, err := db.Exec("INSERT INTO kv (v) VALUES (?)", v)
		c.Assert(err, jc.ErrorIsNil)
	}
}

func (cl *cluster) values(c *gc.C) []string {
	db, err := sql.Open("sqlite3", cl.dbPath)
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

// supervisor stands in for the serving process.
type supervisor struct {
	mu      sync.Mutex
	running bool
}

func (s *supervisor) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *supervisor) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *supervisor) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *supervisor) Running(context.Context) (bool, error) {
	return s.isRunning(), nil
}
