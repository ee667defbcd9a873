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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

var tracer = otel.Tracer("codeheal.loop")

// Auditor runs the audit step of the loop.
//
// Description:
//
//	Submits the current code to the Analyzer, validates the response into
//	an AuditReport and appends a new history entry. It never touches
//	CurrentCode or Iterations and never modifies earlier history entries.
//
// Thread Safety:
//
//	Immutable after construction; safe for concurrent use.
type Auditor struct {
	analyzer    Analyzer
	policy      ParsePolicy
	callTimeout time.Duration
	observer    Observer
	logger      *slog.Logger
}

// NewAuditor creates an Auditor.
//
// Inputs:
//
//	analyzer - The analysis capability. Must not be nil.
//	policy - Fallback policy for unparseable output. Empty means fail-open.
//	callTimeout - Per-call timeout; zero disables it.
//	observer - Event sink. Nil means NopObserver.
//	logger - Logger. Nil means slog.Default().
//
// Outputs:
//
//	*Auditor - The step.
//	error - ErrNilCapability if analyzer is nil.
func NewAuditor(analyzer Analyzer, policy ParsePolicy, callTimeout time.Duration, observer Observer, logger *slog.Logger) (*Auditor, error) {
	if analyzer == nil {
		return nil, ErrNilCapability
	}
	if policy == "" {
		policy = ParseFailOpen
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		analyzer:    analyzer,
		policy:      policy,
		callTimeout: callTimeout,
		observer:    observer,
		logger:      logger,
	}, nil
}

// Run audits state.CurrentCode.
//
// Outputs:
//
//	StateUpdate - Report and History set; nothing else.
//	error - *StepError if the analyzer call failed.
func (a *Auditor) Run(ctx context.Context, state GraphState) (StateUpdate, error) {
	ctx, span := tracer.Start(ctx, "Auditor.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("loop.iteration", state.Iterations))

	a.logger.Info("auditor running", "iteration", state.Iterations)

	start := time.Now()
	callCtx, cancel := withCallTimeout(ctx, a.callTimeout)
	raw, err := a.analyzer.Analyze(callCtx, state.CurrentCode)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StateUpdate{}, &StepError{Step: StepAuditor, Iteration: state.Iterations, Err: err}
	}

	report, parseErr := ParseAuditReportWithPolicy(raw, a.policy)
	if parseErr != nil {
		a.logger.Warn("audit response could not be parsed, using fallback report",
			"iteration", state.Iterations,
			"policy", string(a.policy),
			"error", parseErr,
		)
		a.observer.ParseFallback(state.Iterations)
	}

	entry := datatypes.IterationHistory{
		Iteration:    state.Iterations,
		CodeSnapshot: state.CurrentCode,
		AuditReport:  report.Clone(),
	}

	elapsed := time.Since(start)
	a.observer.AuditCompleted(state.Iterations, report, elapsed)
	span.SetAttributes(
		attribute.Bool("audit.is_safe", report.IsSafe),
		attribute.Int("audit.vulnerabilities", len(report.Vulnerabilities)),
	)
	a.logger.Info("audit complete",
		"iteration", state.Iterations,
		"vulnerabilities", len(report.Vulnerabilities),
		"is_safe", report.IsSafe,
		"duration_ms", elapsed.Milliseconds(),
	)

	return StateUpdate{
		Report:  &report,
		History: appendHistory(state.History, entry),
	}, nil
}

// withCallTimeout scopes a context to one external call.
func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
