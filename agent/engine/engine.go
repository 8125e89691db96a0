// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package engine holds the dependency engine settings shared by the agent
// commands.
package engine

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/dependency"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/internal/worker/guardian"
)

// ErrTerminateAgent stops the engine and the agent with it.
const ErrTerminateAgent = errors.ConstError("agent should be terminated")

// IsFatal reports whether err should stop the whole engine rather than
// restart the failing worker.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTerminateAgent)
}

// MoreImportantError returns the error that should be reported when both
// occurred.
func MoreImportantError(err0, err1 error) error {
	if IsFatal(err0) {
		return err0
	}
	if IsFatal(err1) {
		return err1
	}
	if err0 != nil {
		return err0
	}
	return err1
}

// DependencyEngineConfig returns the engine config used by handover agents.
func DependencyEngineConfig(metrics dependency.Metrics, logger logger.Logger) dependency.EngineConfig {
	return dependency.EngineConfig{
		IsFatal:          IsFatal,
		WorstError:       MoreImportantError,
		ErrorDelay:       3 * time.Second,
		BounceDelay:      10 * time.Millisecond,
		BackoffFactor:    1.2,
		BackoffResetTime: time.Minute,
		MaxDelay:         2 * time.Minute,
		Clock:            clock.WallClock,
		Metrics:          metrics,
		Logger:           logger,
	}
}

// GuardianName returns the manifold name of the guardian for subject.
func GuardianName(subjectID string) string {
	return "guardian-" + subjectID
}

// LeaseRenewerName returns the manifold name of the lease renewer for
// subject.
func LeaseRenewerName(subjectID string) string {
	return "lease-renewer-" + subjectID
}

// StatusSources collects the outputs of the named guardian manifolds,
// keyed by subject.
func StatusSources(getter dependency.Getter, subjects []string) (map[string]guardian.StatusSource, error) {
	sources := make(map[string]guardian.StatusSource, len(subjects))
	for _, subject := range subjects {
		var source guardian.StatusSource
		if err := getter.Get(GuardianName(subject), &source); err != nil {
			return nil, errors.Trace(err)
		}
		sources[subject] = source
	}
	return sources, nil
}
