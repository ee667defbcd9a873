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
	"time"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

// =============================================================================
// External Capabilities
// =============================================================================

// Analyzer is the external vulnerability-analysis capability.
//
// # Description
//
// Analyze submits code and returns the capability's free-text answer,
// which is expected (not guaranteed) to contain a JSON audit report. An
// error means the call itself failed; malformed content is not an error.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one instance serves
// every session in the process.
type Analyzer interface {
	Analyze(ctx context.Context, code string) (string, error)
}

// Remediator is the external remediation capability.
//
// # Description
//
// Remediate submits code plus the vulnerabilities to fix, in report order,
// and returns the capability's free-text answer, expected to be the
// corrected code, possibly wrapped in one fenced block. vulns may be
// empty.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Remediator interface {
	Remediate(ctx context.Context, code string, vulns []datatypes.Vulnerability) (string, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, code string) (string, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, code string) (string, error) {
	return f(ctx, code)
}

// RemediatorFunc adapts a function to Remediator.
type RemediatorFunc func(ctx context.Context, code string, vulns []datatypes.Vulnerability) (string, error)

// Remediate implements Remediator.
func (f RemediatorFunc) Remediate(ctx context.Context, code string, vulns []datatypes.Vulnerability) (string, error) {
	return f(ctx, code, vulns)
}

// =============================================================================
// Observer
// =============================================================================

// Observer receives loop events for metrics. Calls happen synchronously on
// the session goroutine and must not block.
type Observer interface {
	AuditCompleted(iteration int, report datatypes.AuditReport, elapsed time.Duration)
	ParseFallback(iteration int)
	FixCompleted(iteration int, elapsed time.Duration)
	SessionCompleted(status datatypes.FinalStatus, iterations int, elapsed time.Duration)
	SessionFailed(step StepName, elapsed time.Duration)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) AuditCompleted(int, datatypes.AuditReport, time.Duration) {}
func (NopObserver) ParseFallback(int) {}
func (NopObserver) FixCompleted(int, time.Duration) {}
func (NopObserver) SessionCompleted(datatypes.FinalStatus, int, time.Duration) {}
func (NopObserver) SessionFailed(StepName, time.Duration) {}

var _ Observer = NopObserver{}
