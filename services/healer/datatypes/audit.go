// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the wire-level data structures of the
// self-healing auditor.
//
// These types are shared by the reflection loop, the HTTP handlers, the
// result store and the CLI. JSON tags follow the snake_case contract the
// browser frontend consumes.
package datatypes

// =============================================================================
// Final Status
// =============================================================================

// FinalStatus is the terminal outcome of a healing session.
type FinalStatus string

const (
	// StatusSafe means the first audit found the code safe; no fix ran.
	StatusSafe FinalStatus = "safe"

	// StatusHealed means at least one fix cycle ran and the last audit
	// judged the code safe.
	StatusHealed FinalStatus = "healed"

	// StatusMaxIterationsReached means the iteration cap was hit while the
	// last audit still judged the code unsafe.
	StatusMaxIterationsReached FinalStatus = "max_iterations_reached"
)

// String returns the status as sent on the wire.
func (s FinalStatus) String() string {
	return string(s)
}

// =============================================================================
// Audit Types
// =============================================================================

// Vulnerability is one issue reported by the analysis capability.
//
// # Description
//
// All string fields are untrusted model output. Severity is expected to be
// one of critical, high, medium or low but is never checked against that
// set; consumers must tolerate any value. CWEID is opaque.
//
// # Fields
//
//   - Severity: Free-form severity label.
//   - Description: Human-readable description of the issue.
//   - LineNumber: Optional, non-negative. Nil when not localizable.
//   - CWEID: Weakness identifier such as "CWE-89".
//   - SuggestedFixSnippet: Code fragment proposed by the analyzer.
type Vulnerability struct {
	Severity            string `json:"severity"`
	Description         string `json:"description"`
	LineNumber          *int   `json:"line_number,omitempty"`
	CWEID               string `json:"cwe_id"`
	SuggestedFixSnippet string `json:"suggested_fix_snippet"`
}

// AuditReport is the validated result of one audit.
//
// # Description
//
// IsSafe is the only field the loop routes on. The analyzer may claim
// IsSafe with a non-empty Vulnerabilities list; that claim is trusted.
// Vulnerabilities keeps detection order and is always encoded as a JSON
// array.
type AuditReport struct {
	IsSafe          bool            `json:"is_safe"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Summary         string          `json:"summary"`
}

// Clone returns a deep copy of the report.
func (r AuditReport) Clone() AuditReport {
	out := AuditReport{
		IsSafe:          r.IsSafe,
		Summary:         r.Summary,
		Vulnerabilities: make([]Vulnerability, len(r.Vulnerabilities)),
	}
	for i, v := range r.Vulnerabilities {
		if v.LineNumber != nil {
			line := *v.LineNumber
			v.LineNumber = &line
		}
		out.Vulnerabilities[i] = v
	}
	return out
}

// IterationHistory records one audit and, once the fixer has run after it,
// the fix that was applied.
//
// # Description
//
// An entry is created by the auditor with FixApplied nil. The fixer sets
// FixApplied exactly once on the most recent entry; after that the entry
// never changes.
type IterationHistory struct {
	Iteration    int         `json:"iteration"`
	CodeSnapshot string      `json:"code_snapshot"`
	AuditReport  AuditReport `json:"audit_report"`
	FixApplied   *string     `json:"fix_applied"`
}

// Clone returns a deep copy of the entry.
func (h IterationHistory) Clone() IterationHistory {
	out := IterationHistory{
		Iteration:    h.Iteration,
		CodeSnapshot: h.CodeSnapshot,
		AuditReport:  h.AuditReport.Clone(),
	}
	if h.FixApplied != nil {
		fix := *h.FixApplied
		out.FixApplied = &fix
	}
	return out
}

// CloneHistory deep-copies a history slice. A nil input yields an empty,
// non-nil slice.
func CloneHistory(history []IterationHistory) []IterationHistory {
	out := make([]IterationHistory, len(history))
	for i, h := range history {
		out[i] = h.Clone()
	}
	return out
}

// HealingResponse is the terminal summary of one healing session.
//
// # Fields
//
//   - SessionID: UUID of the run; used to fetch the timeline again.
//   - OriginalCode: The submitted code.
//   - FinalCode: Code after the last fix (or the original if none ran).
//   - FinalStatus: safe, healed or max_iterations_reached.
//   - TotalIterations: Number of completed fix cycles.
//   - MaxIterations: Iteration cap in force for the run.
//   - History: One entry per audit, in order.
type HealingResponse struct {
	SessionID       string             `json:"session_id,omitempty"`
	OriginalCode    string             `json:"original_code"`
	FinalCode       string             `json:"final_code"`
	FinalStatus     FinalStatus        `json:"final_status"`
	TotalIterations int                `json:"total_iterations"`
	MaxIterations   int                `json:"max_iterations,omitempty"`
	History         []IterationHistory `json:"history"`
}

// SessionSummary is the list view of a stored healing session.
type SessionSummary struct {
	SessionID       string      `json:"session_id"`
	FinalStatus     FinalStatus `json:"final_status"`
	TotalIterations int         `json:"total_iterations"`
	CreatedAt       int64       `json:"created_at"`
}
