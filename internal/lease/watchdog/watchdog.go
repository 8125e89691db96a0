// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package watchdog guards reconciliations with the ownership lease. A
// reconciliation may only start while the lease is valid, and is aborted
// as soon as the lease expires or can no longer be read.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	corelease "github.com/juju/handover/core/lease"
	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
)

// Config holds the dependencies and parameters of a Watchdog.
type Config struct {
	// Reader reads the lease signal.
	Reader corelease.Reader

	// HolderID is the identity of the local cluster. Only signals held by
	// it are valid.
	HolderID string

	// CheckInterval bounds the time between two checks of an in-flight
	// reconciliation. Checks also happen at the known expiry.
	CheckInterval time.Duration

	// ReadTimeout bounds a single read of the signal.
	ReadTimeout time.Duration

	Clock   clock.Clock
	Logger  logger.Logger
	Metrics *Collector
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Reader == nil {
		return errors.NotValidf("nil Reader")
	}
	if err := ownership.ValidateID(config.HolderID); err != nil {
		return errors.Annotatef(err, "invalid HolderID")
	}
	if config.CheckInterval <= 0 {
		return errors.NotValidf("non-positive CheckInterval")
	}
	if config.ReadTimeout <= 0 {
		return errors.NotValidf("non-positive ReadTimeout")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Watchdog checks leases on behalf of reconciling code.
type Watchdog struct {
	config  Config
	metrics *Collector
}

// New returns a Watchdog for the given config.
func New(config Config) (*Watchdog, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	return &Watchdog{
		config:  config,
		metrics: metrics,
	}, nil
}

// CheckLease reads the lease signal for the subject and evaluates it for
// the local cluster. Any failure to read the signal, including a missing
// signal, is reported as Unknown.
func (w *Watchdog) CheckLease(ctx context.Context, subjectID string) corelease.Check {
	ctx, cancel := context.WithTimeout(ctx, w.config.ReadTimeout)
	defer cancel()

	signal, err := w.config.Reader.Signal(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, corelease.ErrNotFound) {
			w.config.Logger.Warningf("cannot read lease for %q: %v", subjectID, err)
		}
		w.metrics.checked(corelease.Unknown)
		return corelease.Check{Status: corelease.Unknown}
	}
	check := corelease.Evaluate(signal, w.config.HolderID, w.config.Clock.Now())
	w.metrics.checked(check.Status)
	return check
}

// Guard starts a reconciliation of the subject. It fails with an error
// satisfying errors.Is(err, corelease.ErrLeaseLost) unless the lease is
// valid. The returned Reconciliation must be ended by the caller.
func (w *Watchdog) Guard(ctx context.Context, subjectID string) (*Reconciliation, error) {
	check := w.CheckLease(ctx, subjectID)
	if !check.Valid() {
		w.metrics.aborted(check.Status)
		return nil, leaseLost(subjectID, check.Status)
	}

	rctx, cancel := context.WithCancelCause(ctx)
	r := &Reconciliation{
		watchdog:  w,
		subjectID: subjectID,
		ctx:       rctx,
		cancel:    cancel,
		expiry:    check.Expiry,
		done:      make(chan struct{}),
	}
	r.wg.Add(1)
	go r.monitor(check.Expiry)
	return r, nil
}

// Run guards a reconciliation made of the given steps, each of which is
// only started while the lease is still valid.
func (w *Watchdog) Run(ctx context.Context, subjectID string, steps ...func(context.Context) error) error {
	r, err := w.Guard(ctx, subjectID)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.End()
	for _, step := range steps {
		if err := r.Step(step); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func leaseLost(subjectID string, status corelease.Status) error {
	return errors.Annotatef(corelease.ErrLeaseLost, "subject %q: lease %s", subjectID, status)
}

// Reconciliation is an in-flight reconciliation guarded by the lease.
type Reconciliation struct {
	watchdog  *Watchdog
	subjectID string

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	expiry time.Time
	err    error

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// Context returns a context cancelled when the lease is lost, with the
// loss available through context.Cause. Work done on behalf of the
// reconciliation must use it.
func (r *Reconciliation) Context() context.Context {
	return r.ctx
}

// Step runs fn if, and only if, the lease is still valid at the time of
// the call. Once the lease has been lost no further step is run.
func (r *Reconciliation) Step(fn func(context.Context) error) error {
	if err := r.Err(); err != nil {
		return errors.Trace(err)
	}
	if err := r.ctx.Err(); err != nil {
		return errors.Trace(context.Cause(r.ctx))
	}
	check := r.watchdog.CheckLease(r.ctx, r.subjectID)
	if err := r.ctx.Err(); err != nil {
		return errors.Trace(context.Cause(r.ctx))
	}
	if !check.Valid() {
		r.abort(check.Status)
		return errors.Trace(r.Err())
	}
	r.setExpiry(check.Expiry)
	return fn(r.ctx)
}

// Err returns the lease loss that aborted the reconciliation, or nil.
func (r *Reconciliation) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// End stops monitoring the lease and releases the reconciliation context.
// It is safe to call more than once.
func (r *Reconciliation) End() {
	r.doneOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	r.cancel(context.Canceled)
}

func (r *Reconciliation) setExpiry(expiry time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expiry = expiry
}

func (r *Reconciliation) currentExpiry() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expiry
}

func (r *Reconciliation) abort(status corelease.Status) {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return
	}
	r.err = leaseLost(r.subjectID, status)
	err := r.err
	r.mu.Unlock()

	r.watchdog.metrics.aborted(status)
	r.watchdog.config.Logger.Infof("aborting reconciliation of %q: lease %s", r.subjectID, status)
	r.cancel(err)
}

func (r *Reconciliation) monitor(expiry time.Time) {
	defer r.wg.Done()

	clk := r.watchdog.config.Clock
	for {
		wait := r.watchdog.config.CheckInterval
		if untilExpiry := expiry.Sub(clk.Now()); untilExpiry < wait {
			wait = max(untilExpiry, 0)
		}
		select {
		case <-r.done:
			return
		case <-r.ctx.Done():
			return
		case <-clk.After(wait):
		}

		check := r.watchdog.CheckLease(r.ctx, r.subjectID)
		if r.ctx.Err() != nil {
			return
		}
		if !check.Valid() {
			r.abort(check.Status)
			return
		}
		r.setExpiry(check.Expiry)
		expiry = r.currentExpiry()
	}
}
