// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package featuretests

import (
	"context"
	"net/http/httptest"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/handover/api/ownershiprecord"
	ownershiprecordapi "github.com/juju/handover/apiserver/ownershiprecord"
	coreguardian "github.com/juju/handover/core/guardian"
	corelease "github.com/juju/handover/core/lease"
	"github.com/juju/handover/core/migration"
	"github.com/juju/handover/core/ownership"
	migrationservice "github.com/juju/handover/domain/migration/service"
	migrationstate "github.com/juju/handover/domain/migration/state"
	ownershipservice "github.com/juju/handover/domain/ownership/service"
	ownershipstate "github.com/juju/handover/domain/ownership/state"
	"github.com/juju/handover/internal/backupstore"
	"github.com/juju/handover/internal/database"
	databasetesting "github.com/juju/handover/internal/database/testing"
	"github.com/juju/handover/internal/lease"
	"github.com/juju/handover/internal/lease/watchdog"
	loggertesting "github.com/juju/handover/internal/logger/testing"
	"github.com/juju/handover/internal/worker/leaserenewer"
	"github.com/juju/handover/internal/worker/snapshotcopier"
)

type handoverSuite struct {
	databasetesting.SQLiteSuite

	clock  *testclock.Clock
	record *ownershipservice.Service
	a, b   *cluster
}

var _ = gc.Suite(&handoverSuite{
	SQLiteSuite: databasetesting.SQLiteSuite{
		Schema: database.Join(ownershipstate.Schema, migrationstate.Schema),
	},
})

func (s *handoverSuite) SetUpTest(c *gc.C) {
	s.SQLiteSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	logger := loggertesting.WrapCheckLog(c)
	s.record = ownershipservice.NewService(ownershipstate.NewState(s.DB, logger), clock.WallClock, time.Second, logger)
	s.a = newCluster(c, "a")
	s.b = newCluster(c, "b")
}

// provision creates the record naming a, and the empty copy that lets a
// activate.
func (s *handoverSuite) provision(c *gc.C) {
	err := s.record.Provision(context.Background(), subjectID, "a")
	c.Assert(err, jc.ErrorIsNil)
	s.a.provisionEmpty(c, s.clock.Now())
}

func (s *handoverSuite) startClusters(c *gc.C, resolver ownership.Resolver) {
	s.a.start(c, &s.CleanupSuite, resolver, s.clock)
	s.b.start(c, &s.CleanupSuite, resolver, s.clock)
}

// pollBoth polls both guardians and checks that at most one of them
// serves.
func (s *handoverSuite) pollBoth(c *gc.C) (coreguardian.Status, coreguardian.Status) {
	a := s.a.poll(c)
	b := s.b.poll(c)
	c.Assert(s.a.serving() && s.b.serving(), jc.IsFalse, gc.Commentf("both clusters serving"))
	return a, b
}

func (s *handoverSuite) migrationService(c *gc.C) *migrationservice.Service {
	logger := loggertesting.WrapCheckLog(c)
	svc, err := migrationservice.NewService(migrationservice.Config{
		State:        migrationstate.NewState(s.DB, logger),
		Record:       s.record,
		Source:       s.a.status,
		Destination:  s.b.status,
		Copies:       backupstore.NewCopyStatus(s.b.store),
		PollInterval: 10 * time.Millisecond,
		Clock:        clock.WallClock,
		Logger:       logger,
	})
	c.Assert(err, jc.ErrorIsNil)
	return svc
}

func (s *handoverSuite) copyConfig(c *gc.C) snapshotcopier.Config {
	return snapshotcopier.Config{
		SubjectID:            subjectID,
		Source:               s.a.store,
		Destination:          s.b.store,
		FinalSnapshotTimeout: testing.LongWait,
		PollInterval:         10 * time.Millisecond,
		OperationTimeout:     time.Second,
		Clock:                clock.WallClock,
		Logger:               loggertesting.WrapCheckLog(c),
	}
}

func (s *handoverSuite) TestHandOffCarriesFinalState(c *gc.C) {
	ctx := context.Background()
	s.provision(c)
	s.startClusters(c, s.record)

	a, b := s.pollBoth(c)
	c.Assert(a.State, gc.Equals, coreguardian.Active)
	c.Assert(b.State, gc.Equals, coreguardian.Standby)

	s.a.write(c, "x", "y")
	s.a.snapshot(c, 41)
	s.a.write(c, "z")

	svc := s.migrationService(c)
	attempt, err := svc.InitiateMigration(ctx, subjectID, "b")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(attempt.SourceOwnerID, gc.Equals, "a")
	c.Check(attempt.Phase, gc.Equals, migration.INITIATED)

	// b owns the record but has nothing to restore yet.
	a, b = s.pollBoth(c)
	c.Assert(a.State, gc.Equals, coreguardian.Deactivated)
	c.Check(a.Terminal, jc.IsTrue)
	c.Check(a.FinalRevision, gc.Equals, int64(42))
	c.Check(b.State, gc.Equals, coreguardian.Activating)
	c.Check(b.Serving, jc.IsFalse)

	status, err := svc.AwaitSourceDeactivation(ctx, subjectID, testing.LongWait)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status.FinalRevision, gc.Equals, int64(42))

	result, err := snapshotcopier.Copy(ctx, s.copyConfig(c))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Revision, gc.Equals, int64(42))
	c.Check(result.Final, jc.IsTrue)
	c.Check(result.Fallback, jc.IsFalse)

	_, err = svc.AwaitCopyCompletion(ctx, subjectID, testing.LongWait)
	c.Assert(err, jc.ErrorIsNil)

	a, b = s.pollBoth(c)
	c.Check(a.State, gc.Equals, coreguardian.Deactivated)
	c.Assert(b.State, gc.Equals, coreguardian.Active)
	c.Check(b.LastRevision, gc.Equals, int64(42))
	c.Check(s.b.values(c), jc.DeepEquals, []string{"x", "y", "z"})

	_, err = svc.AwaitDestinationActive(ctx, subjectID, testing.LongWait)
	c.Assert(err, jc.ErrorIsNil)
	attempt, err = svc.Status(ctx, subjectID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(attempt.Phase, gc.Equals, migration.DONE)
	c.Check(attempt.CopiedRevision, gc.Equals, int64(42))

	// b keeps writing on top of what a handed over.
	s.b.write(c, "w")
	c.Check(s.b.values(c), jc.DeepEquals, []string{"w", "x", "y", "z"})
}

func (s *handoverSuite) TestHandOffWithSourceStoreUnreachable(c *gc.C) {
	ctx := context.Background()
	s.provision(c)
	s.startClusters(c, s.record)

	a, _ := s.pollBoth(c)
	c.Assert(a.State, gc.Equals, coreguardian.Active)
	s.a.write(c, "x")
	s.a.snapshot(c, 41)
	s.a.write(c, "lost")

	svc := s.migrationService(c)
	_, err := svc.InitiateMigration(ctx, subjectID, "b")
	c.Assert(err, jc.ErrorIsNil)

	// The final snapshot cannot be written; a still stops serving.
	s.a.store.SetUnavailable(true)
	a, _ = s.pollBoth(c)
	c.Assert(a.State, gc.Equals, coreguardian.Deactivated)
	c.Check(a.Terminal, jc.IsFalse)
	c.Check(a.FinalRevision, gc.Equals, int64(0))
	c.Check(s.a.supervisor.isRunning(), jc.IsFalse)

	_, err = svc.AwaitSourceDeactivation(ctx, subjectID, testing.LongWait)
	c.Assert(err, jc.ErrorIsNil)

	s.a.store.SetUnavailable(false)
	config := s.copyConfig(c)
	config.FinalSnapshotTimeout = 50 * time.Millisecond
	result, err := snapshotcopier.Copy(ctx, config)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Revision, gc.Equals, int64(41))
	c.Check(result.Final, jc.IsFalse)
	c.Check(result.Fallback, jc.IsTrue)

	_, err = svc.AwaitCopyCompletion(ctx, subjectID, testing.LongWait)
	c.Assert(err, jc.ErrorIsNil)

	a, b := s.pollBoth(c)
	c.Check(a.State, gc.Equals, coreguardian.Deactivated)
	c.Assert(b.State, gc.Equals, coreguardian.Active)
	c.Check(s.b.values(c), jc.DeepEquals, []string{"x"})

	_, err = svc.AwaitDestinationActive(ctx, subjectID, testing.LongWait)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *handoverSuite) TestRecordOutageStopsServing(c *gc.C) {
	logger := loggertesting.WrapCheckLog(c)
	router := mux.NewRouter()
	ownershiprecordapi.NewHandlers(s.record, logger).AddHandlers(router)
	server := httptest.NewServer(router)
	defer server.Close()
	client := ownershiprecord.NewClient(server.URL, nil)

	s.provision(c)
	s.startClusters(c, client)

	a, b := s.pollBoth(c)
	c.Assert(a.State, gc.Equals, coreguardian.Active)
	c.Assert(b.State, gc.Equals, coreguardian.Standby)
	s.a.write(c, "x")

	server.Close()

	a, b = s.pollBoth(c)
	c.Check(a.State, gc.Equals, coreguardian.Deactivated)
	c.Check(a.Serving, jc.IsFalse)
	c.Check(s.a.supervisor.isRunning(), jc.IsFalse)
	c.Check(b.State, gc.Equals, coreguardian.Standby)
	c.Check(s.b.supervisor.isRunning(), jc.IsFalse)
}

func (s *handoverSuite) TestWatchdogAbortsAfterOwnershipMoves(c *gc.C) {
	ctx := context.Background()
	s.provision(c)

	const renewInterval = 10 * time.Second
	store := lease.NewMemoryStore()
	renewer, err := leaserenewer.NewWorker(leaserenewer.Config{
		SubjectID:      subjectID,
		HolderID:       "a",
		Resolver:       s.record,
		Writer:         store,
		RenewInterval:  renewInterval,
		LeaseDuration:  3 * renewInterval,
		ResolveTimeout: time.Second,
		Clock:          s.clock,
		Logger:         loggertesting.WrapCheckLog(c),
	})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, renewer)

	s.waitForSignal(c, store, func(signal corelease.Signal) bool {
		return signal.Expiry.After(s.clock.Now())
	})

	wd, err := watchdog.New(watchdog.Config{
		Reader:        store,
		HolderID:      "a",
		CheckInterval: time.Hour,
		ReadTimeout:   time.Second,
		Clock:         s.clock,
		Logger:        loggertesting.WrapCheckLog(c),
	})
	c.Assert(err, jc.ErrorIsNil)
	rec, err := wd.Guard(ctx, subjectID)
	c.Assert(err, jc.ErrorIsNil)
	defer rec.End()

	ran := 0
	c.Assert(rec.Step(func(context.Context) error { ran++; return nil }), jc.ErrorIsNil)

	err = s.record.SetOwner(ctx, subjectID, "a", "b")
	c.Assert(err, jc.ErrorIsNil)

	// The renewer and the reconciliation monitor both wait on the clock.
	err = s.clock.WaitAdvance(renewInterval, testing.ShortWait, 2)
	c.Assert(err, jc.ErrorIsNil)
	s.waitForSignal(c, store, func(signal corelease.Signal) bool {
		return !signal.Expiry.After(s.clock.Now())
	})

	err = rec.Step(func(context.Context) error { ran++; return nil })
	c.Check(err, jc.ErrorIs, corelease.ErrLeaseLost)
	c.Check(ran, gc.Equals, 1)
	c.Check(errors.Is(context.Cause(rec.Context()), corelease.ErrLeaseLost), jc.IsTrue)
}

func (s *handoverSuite) waitForSignal(c *gc.C, store corelease.Reader, ok func(corelease.Signal) bool) {
	timeout := time.After(testing.LongWait)
	for {
		signal, err := store.Signal(context.Background(), subjectID)
		if err == nil && ok(signal) {
			return
		}
		select {
		case <-timeout:
			c.Fatalf("lease signal not as expected, last %+v (%v)", signal, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
