// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration

// Phase values specify the phases of an ownership migration.
type Phase int

// Enumerate all possible migration phases.
const (
	UNKNOWN Phase = iota
	PENDING
	INITIATED
	SOURCEDEACTIVATED
	COPYCOMPLETED
	DONE
	ABORTED
	FAILED
)

var phaseNames = []string{
	"UNKNOWN", // To catch uninitialised fields.
	"PENDING",
	"INITIATED",
	"SOURCEDEACTIVATED",
	"COPYCOMPLETED",
	"DONE",
	"ABORTED",
	"FAILED",
}

// String returns the name of a migration phase constant.
func (p Phase) String() string {
	i := int(p)
	if i >= 0 && i < len(phaseNames) {
		return phaseNames[i]
	}
	return "UNKNOWN"
}

// ParsePhase converts a string migration phase name
// to its constant value.
func ParsePhase(target string) (Phase, bool) {
	for p, name := range phaseNames {
		if target == name {
			return Phase(p), true
		}
	}
	return UNKNOWN, false
}

// IsTerminal returns true if the phase is one which signifies the end
// of a migration.
func (p Phase) IsTerminal() bool {
	for _, t := range terminalPhases {
		if p == t {
			return true
		}
	}
	return false
}

// IsRunning returns true if the phase indicates the migration is
// active and up to or at the DONE phase. It returns false if the
// phase is one of the terminal failure phases.
func (p Phase) IsRunning() bool {
	switch p {
	case PENDING, INITIATED, SOURCEDEACTIVATED, COPYCOMPLETED:
		return true
	}
	return false
}

// Mutated returns true once the ownership record mutation has been
// confirmed. From then on the migration only moves forward.
func (p Phase) Mutated() bool {
	switch p {
	case INITIATED, SOURCEDEACTIVATED, COPYCOMPLETED, DONE:
		return true
	}
	return false
}

// CanTransitionTo returns true if the given phase is a valid next
// migration phase.
func (p Phase) CanTransitionTo(targetPhase Phase) bool {
	nextPhases, exists := validTransitions[p]
	if !exists {
		return false
	}
	for _, nextPhase := range nextPhases {
		if nextPhase == targetPhase {
			return true
		}
	}
	return false
}

// Migrations start in PENDING and are only abortable there: the
// record mutation has not been confirmed. INITIATED may move straight
// to COPYCOMPLETED when the source cluster never reports its
// deactivation; safety rests on the source failing closed.
var validTransitions = map[Phase][]Phase{
	PENDING:           {INITIATED, ABORTED, FAILED},
	INITIATED:         {SOURCEDEACTIVATED, COPYCOMPLETED, FAILED},
	SOURCEDEACTIVATED: {COPYCOMPLETED, FAILED},
	COPYCOMPLETED:     {DONE, FAILED},
}

var terminalPhases []Phase

func init() {
	// Compute the terminal phases.
	for p := 0; p < len(phaseNames); p++ {
		phase := Phase(p)
		if phase == UNKNOWN {
			continue
		}
		if _, exists := validTransitions[phase]; !exists {
			terminalPhases = append(terminalPhases, phase)
		}
	}
}
