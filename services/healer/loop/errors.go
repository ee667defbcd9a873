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
	"fmt"
)

var (
	// ErrInvalidTransition is returned when the engine attempts a phase
	// change the transition table does not allow.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrNoReport is returned when a step that needs an audit report runs
	// before the first audit.
	ErrNoReport = errors.New("no audit report in state")

	// ErrNilCapability is returned by constructors given a nil analyzer or
	// remediator.
	ErrNilCapability = errors.New("capability must not be nil")
)

// StepName identifies which loop step failed.
type StepName string

const (
	StepAuditor StepName = "auditor"
	StepFixer   StepName = "fixer"
)

// StepError is a fatal failure of one loop step.
//
// # Description
//
// Returned when an external capability call fails (transport error,
// service error, timeout or cancellation). The session aborts; no partial
// response is produced.
type StepError struct {
	Step      StepName
	Iteration int
	Err       error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed at iteration %d: %v", e.Step, e.Iteration, e.Err)
}

// Unwrap returns the underlying capability error.
func (e *StepError) Unwrap() error {
	return e.Err
}
