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
	"errors"
	"testing"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	valid := []struct {
		from Phase
		to   Phase
	}{
		{PhaseStart, PhaseAuditing},
		{PhaseAuditing, PhaseRouting},
		{PhaseAuditing, PhaseFailed},
		{PhaseRouting, PhaseFixing},
		{PhaseRouting, PhaseEnd},
		{PhaseFixing, PhaseAuditing},
		{PhaseFixing, PhaseFailed},
	}

	for _, tt := range valid {
		if !sm.CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be valid", tt.from, tt.to)
		}
		got, err := sm.Transition(tt.from, tt.to)
		if err != nil {
			t.Errorf("Transition(%s, %s) returned error: %v", tt.from, tt.to, err)
		}
		if got != tt.to {
			t.Errorf("Transition(%s, %s) = %s", tt.from, tt.to, got)
		}
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalid := []struct {
		from Phase
		to   Phase
	}{
		{PhaseStart, PhaseFixing},
		{PhaseStart, PhaseEnd},
		{PhaseAuditing, PhaseFixing},
		{PhaseAuditing, PhaseEnd},
		{PhaseRouting, PhaseAuditing},
		{PhaseFixing, PhaseEnd},
		{PhaseFixing, PhaseRouting},
		{PhaseEnd, PhaseAuditing},
		{PhaseFailed, PhaseAuditing},
	}

	for _, tt := range invalid {
		if sm.CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be invalid", tt.from, tt.to)
		}
		got, err := sm.Transition(tt.from, tt.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Transition(%s, %s) error = %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
		if got != tt.from {
			t.Errorf("rejected transition changed phase to %s", got)
		}
	}
}

func TestStateMachine_TerminalPhasesHaveNoExits(t *testing.T) {
	sm := NewStateMachine()
	for _, p := range AllPhases() {
		exits := sm.ValidTransitionsFrom(p)
		if p.IsTerminal() && len(exits) != 0 {
			t.Errorf("terminal phase %s has exits %v", p, exits)
		}
		if !p.IsTerminal() && len(exits) == 0 {
			t.Errorf("non-terminal phase %s has no exits", p)
		}
	}
}

func TestStateMachine_ValidTransitionsFromReturnsCopy(t *testing.T) {
	sm := NewStateMachine()
	exits := sm.ValidTransitionsFrom(PhaseRouting)
	exits[0] = PhaseFailed

	if sm.CanTransition(PhaseRouting, PhaseFailed) {
		t.Error("mutating returned slice altered the transition table")
	}
}

func TestNextAfterRouting(t *testing.T) {
	if nextAfterRouting(DecisionFix) != PhaseFixing {
		t.Error("fix decision should lead to FIXING")
	}
	if nextAfterRouting(DecisionEnd) != PhaseEnd {
		t.Error("end decision should lead to END")
	}
}
