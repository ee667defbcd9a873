// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loop implements the audit → fix → re-audit reflection loop.
//
// The loop is a finite state machine with the phases START, AUDITING,
// ROUTING, FIXING, END and FAILED. A single GraphState flows through it:
// each step reads the state and returns a StateUpdate holding only the
// fields that step owns, which the Engine merges with GraphState.Apply.
//
// The analysis and remediation capabilities are injected as interfaces,
// so the loop itself never talks to a model directly.
//
// Thread Safety:
//
//	An Engine is immutable after construction and can run any number of
//	sessions concurrently. A GraphState belongs to exactly one session.
package loop

import (
	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

// GraphState is the session record threaded through the loop.
//
// Ownership:
//
//	CurrentCode  - fixer
//	OriginalCode - set once by NewGraphState
//	Report       - auditor
//	Iterations   - fixer
//	History      - auditor appends; fixer completes the last entry
type GraphState struct {
	CurrentCode  string
	OriginalCode string
	Report       *datatypes.AuditReport
	Iterations   int
	History      []datatypes.IterationHistory
}

// NewGraphState returns the initial state for submitted code.
func NewGraphState(code string) GraphState {
	return GraphState{
		CurrentCode:  code,
		OriginalCode: code,
		History:      []datatypes.IterationHistory{},
	}
}

// StateUpdate is a partial update returned by a step. Nil fields are left
// unchanged by Apply.
type StateUpdate struct {
	CurrentCode *string
	Report      *datatypes.AuditReport
	Iterations  *int
	History     []datatypes.IterationHistory
}

// Apply merges an update into the state and returns the result. The
// receiver is not modified.
func (s GraphState) Apply(u StateUpdate) GraphState {
	next := s
	if u.CurrentCode != nil {
		next.CurrentCode = *u.CurrentCode
	}
	if u.Report != nil {
		report := u.Report.Clone()
		next.Report = &report
	}
	if u.Iterations != nil {
		next.Iterations = *u.Iterations
	}
	if u.History != nil {
		next.History = u.History
	}
	return next
}

// appendHistory returns a deep copy of history with entry appended.
func appendHistory(history []datatypes.IterationHistory, entry datatypes.IterationHistory) []datatypes.IterationHistory {
	out := make([]datatypes.IterationHistory, 0, len(history)+1)
	out = append(out, datatypes.CloneHistory(history)...)
	return append(out, entry)
}

// completeLastEntry returns a deep copy of history with fix recorded on the
// last entry. An empty history is returned unchanged.
func completeLastEntry(history []datatypes.IterationHistory, fix string) []datatypes.IterationHistory {
	out := datatypes.CloneHistory(history)
	if len(out) == 0 {
		return out
	}
	out[len(out)-1].FixApplied = &fix
	return out
}
