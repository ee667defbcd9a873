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

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

// DefaultMaxIterations is the fix-cycle budget when none is configured.
const DefaultMaxIterations = 3

// Decision is the loop controller's verdict after an audit.
type Decision string

const (
	// DecisionFix routes to the fixer.
	DecisionFix Decision = "fixer"

	// DecisionEnd terminates the session.
	DecisionEnd Decision = "end"
)

// Router is the loop controller.
//
// Description:
//
//	Route is pure: the verdict depends only on the latest report and the
//	number of completed fix cycles. Because the cap is checked against fix
//	cycles, a session performs at most MaxIterations fixes and at most
//	MaxIterations+1 audits.
type Router struct {
	MaxIterations int
}

// NewRouter returns a Router with the given cap. A negative cap is
// rejected; zero disables fixing entirely.
func NewRouter(maxIterations int) (Router, error) {
	if maxIterations < 0 {
		return Router{}, fmt.Errorf("max iterations must be >= 0, got %d", maxIterations)
	}
	return Router{MaxIterations: maxIterations}, nil
}

// Route returns DecisionFix iff the report is unsafe and budget remains.
// A state without a report routes to DecisionEnd.
func (r Router) Route(state GraphState) Decision {
	if state.Report == nil {
		return DecisionEnd
	}
	if !state.Report.IsSafe && state.Iterations < r.MaxIterations {
		return DecisionFix
	}
	return DecisionEnd
}

// DeriveFinalStatus maps a terminated state to its final status.
//
// Outputs:
//
//	datatypes.FinalStatus - safe, healed or max_iterations_reached.
//	error - ErrNoReport if no audit has completed.
func DeriveFinalStatus(state GraphState) (datatypes.FinalStatus, error) {
	if state.Report == nil {
		return "", ErrNoReport
	}
	switch {
	case !state.Report.IsSafe:
		return datatypes.StatusMaxIterationsReached, nil
	case state.Iterations == 0:
		return datatypes.StatusSafe, nil
	default:
		return datatypes.StatusHealed, nil
	}
}
