// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardian

import (
	"time"

	"github.com/juju/errors"
)

// State is the serving state of a state-store guardian for one subject on
// one cluster.
type State string

const (
	// Standby is the initial state: ownership has not been confirmed yet
	// and the state store is not serving.
	Standby State = "standby"

	// Activating means ownership was confirmed and the guardian is waiting
	// for (or applying) the data it needs before it may serve.
	Activating State = "activating"

	// Active means the state store serves reads and writes and is
	// snapshotted on the regular schedule.
	Active State = "active"

	// OwnershipLost means the guardian could not confirm ownership while
	// Active; the final snapshot and deactivation are pending.
	OwnershipLost State = "ownership-lost"

	// Deactivated means reads and writes are blocked. It is terminal once a
	// final snapshot exists for the subject.
	Deactivated State = "deactivated"
)

var validTransitions = map[State][]State{
	Standby:       {Activating},
	Activating:    {Active, Standby, Deactivated},
	Active:        {OwnershipLost},
	OwnershipLost: {Deactivated},
	Deactivated:   {Active},
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Validate returns an error if s is not a known state.
func (s State) Validate() error {
	if _, ok := validTransitions[s]; !ok {
		return errors.NotValidf("guardian state %q", string(s))
	}
	return nil
}

// Serving reports whether the state store may serve traffic in this
// state. OwnershipLost still serves until deactivation completes.
func (s State) Serving() bool {
	return s == Active || s == OwnershipLost
}

// CanTransitionTo reports whether the guardian may move from s to next.
func (s State) CanTransitionTo(next State) bool {
	for _, candidate := range validTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Status describes a guardian as exposed to the migration flow controller.
type Status struct {
	SubjectID string `json:"subject-id"`
	ClusterID string `json:"cluster-id"`
	State     State  `json:"state"`

	// Terminal is set once the guardian is Deactivated and a final
	// snapshot exists, so it can never serve this subject again.
	Terminal bool `json:"terminal"`

	// Serving reports whether the serving endpoint is marked available.
	Serving bool `json:"serving"`

	// LastRevision is the revision of the last snapshot this guardian
	// wrote or restored.
	LastRevision int64 `json:"last-revision"`

	// FinalRevision is the revision of the final snapshot written during
	// deactivation, or zero if none could be written.
	FinalRevision int64 `json:"final-revision,omitempty"`

	// Since is when the guardian entered its current state.
	Since time.Time `json:"since"`

	// Message carries the reason for the last transition.
	Message string `json:"message,omitempty"`
}
