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
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Fixer runs the remediation step of the loop.
//
// Description:
//
//	Sends the current code and the latest report's vulnerabilities to the
//	Remediator, strips one outer fence from the answer, records it as the
//	fix of the most recent history entry and advances the iteration
//	counter. It never appends history entries.
//
// Thread Safety:
//
//	Immutable after construction; safe for concurrent use.
type Fixer struct {
	remediator  Remediator
	callTimeout time.Duration
	observer    Observer
	logger      *slog.Logger
}

// NewFixer creates a Fixer. Nil observer and logger get defaults.
func NewFixer(remediator Remediator, callTimeout time.Duration, observer Observer, logger *slog.Logger) (*Fixer, error) {
	if remediator == nil {
		return nil, ErrNilCapability
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fixer{
		remediator:  remediator,
		callTimeout: callTimeout,
		observer:    observer,
		logger:      logger,
	}, nil
}

// Run remediates state.CurrentCode.
//
// Outputs:
//
//	StateUpdate - CurrentCode, Iterations and History set.
//	error - *StepError if the remediator call failed, ErrNoReport if no
//	        audit has run. The state is left untouched on error.
func (f *Fixer) Run(ctx context.Context, state GraphState) (StateUpdate, error) {
	ctx, span := tracer.Start(ctx, "Fixer.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("loop.iteration", state.Iterations))

	if state.Report == nil {
		return StateUpdate{}, ErrNoReport
	}

	vulns := state.Report.Clone().Vulnerabilities

	f.logger.Info("fixer running", "iteration", state.Iterations, "vulnerabilities", len(vulns))

	start := time.Now()
	callCtx, cancel := withCallTimeout(ctx, f.callTimeout)
	raw, err := f.remediator.Remediate(callCtx, state.CurrentCode, vulns)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Error("fixer call failed", "iteration", state.Iterations, "error", err)
		return StateUpdate{}, &StepError{Step: StepFixer, Iteration: state.Iterations, Err: err}
	}

	fixed := StripCodeFence(raw)
	iterations := state.Iterations + 1

	elapsed := time.Since(start)
	f.observer.FixCompleted(state.Iterations, elapsed)
	f.logger.Info("fix generated", "iteration", state.Iterations, "duration_ms", elapsed.Milliseconds())

	return StateUpdate{
		CurrentCode: &fixed,
		Iterations:  &iterations,
		History:     completeLastEntry(state.History, fixed),
	}, nil
}
