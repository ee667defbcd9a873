// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loop

import (
	"fmt"
)

// Phase is a state of the reflection loop state machine.
type Phase string

const (
	// PhaseStart is the phase before the first audit.
	PhaseStart Phase = "START"

	// PhaseAuditing runs the auditor step.
	PhaseAuditing Phase = "AUDITING"

	// PhaseRouting asks the loop controller what to do next.
	PhaseRouting Phase = "ROUTING"

	// PhaseFixing runs the fixer step.
	PhaseFixing Phase = "FIXING"

	// PhaseEnd is successful termination.
	PhaseEnd Phase = "END"

	// PhaseFailed is termination after a fatal step error.
	PhaseFailed Phase = "FAILED"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal returns true for END and FAILED.
func (p Phase) IsTerminal() bool {
	return p == PhaseEnd || p == PhaseFailed
}

// AllPhases returns every phase in declaration order.
func AllPhases() []Phase {
	return []Phase{PhaseStart, PhaseAuditing, PhaseRouting, PhaseFixing, PhaseEnd, PhaseFailed}
}

// StateMachine holds the loop's transition table.
//
// Description:
//
//	START    -> AUDITING
//	AUDITING -> ROUTING | FAILED
//	ROUTING  -> FIXING  | END
//	FIXING   -> AUDITING | FAILED
//
// Terminal phases have no outgoing transitions.
//
// Thread Safety:
//
//	Immutable after construction; safe for concurrent use.
type StateMachine struct {
	transitions map[Phase][]Phase
}

// NewStateMachine returns the reflection loop's state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[Phase][]Phase{
			PhaseStart:    {PhaseAuditing},
			PhaseAuditing: {PhaseRouting, PhaseFailed},
			PhaseRouting:  {PhaseFixing, PhaseEnd},
			PhaseFixing:   {PhaseAuditing, PhaseFailed},
		},
	}
}

// CanTransition reports whether from -> to is allowed.
func (m *StateMachine) CanTransition(from, to Phase) bool {
	for _, p := range m.transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// ValidTransitionsFrom returns the phases reachable from from in one step.
// The returned slice is a copy.
func (m *StateMachine) ValidTransitionsFrom(from Phase) []Phase {
	next := m.transitions[from]
	out := make([]Phase, len(next))
	copy(out, next)
	return out
}

// Transition validates from -> to and returns to.
//
// Outputs:
//
//	Phase - to, or from unchanged when the transition is rejected.
//	error - Wraps ErrInvalidTransition when from -> to is not allowed.
func (m *StateMachine) Transition(from, to Phase) (Phase, error) {
	if !m.CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// nextAfterRouting maps a controller decision onto the next phase.
func nextAfterRouting(d Decision) Phase {
	if d == DecisionFix {
		return PhaseFixing
	}
	return PhaseEnd
}
