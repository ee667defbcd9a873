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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

// =============================================================================
// Parse Policy
// =============================================================================

// ParsePolicy decides what an unparseable analyzer response means.
type ParsePolicy string

const (
	// ParseFailOpen treats unparseable output as "no vulnerabilities".
	// Formatting noise alone can never keep the loop fixing.
	ParseFailOpen ParsePolicy = "fail_open"

	// ParseFailClosed treats unparseable output as unsafe, forcing another
	// fix cycle while the iteration budget lasts.
	ParseFailClosed ParsePolicy = "fail_closed"
)

// Valid reports whether p is a known policy.
func (p ParsePolicy) Valid() bool {
	return p == ParseFailOpen || p == ParseFailClosed
}

// rawPreviewLimit bounds how much of the raw response the fallback summary
// embeds, in characters.
const rawPreviewLimit = 500

// =============================================================================
// Wire Shapes
// =============================================================================

// Pointer fields let validation tell "missing" apart from zero values.
type rawVulnerability struct {
	Severity            *string `json:"severity" validate:"required"`
	Description         *string `json:"description" validate:"required"`
	LineNumber          *int    `json:"line_number" validate:"omitempty,gte=0"`
	CWEID               *string `json:"cwe_id" validate:"required"`
	SuggestedFixSnippet *string `json:"suggested_fix_snippet" validate:"required"`
}

type rawAuditReport struct {
	IsSafe          *bool              `json:"is_safe" validate:"required"`
	Vulnerabilities []rawVulnerability `json:"vulnerabilities" validate:"omitempty,dive"`
	Summary         *string            `json:"summary" validate:"required"`
}

var reportValidate = validator.New()

// =============================================================================
// Parsing
// =============================================================================

// ParseAuditReport turns raw analyzer output into an AuditReport.
//
// # Description
//
// Total function: it never fails and never returns an empty value. On any
// extraction, decoding or validation failure it returns the fail-open
// fallback report (IsSafe true, no vulnerabilities, diagnostic summary).
//
// # Inputs
//
//   - raw: Free text returned by the analysis capability.
//
// # Outputs
//
//   - datatypes.AuditReport: The validated or fallback report.
//
// # Examples
//
//	report := ParseAuditReport("```json\n{\"is_safe\": true, \"summary\": \"ok\"}\n```")
//	// report.IsSafe == true, report.Vulnerabilities == []
func ParseAuditReport(raw string) datatypes.AuditReport {
	report, _ := ParseAuditReportWithPolicy(raw, ParseFailOpen)
	return report
}

// ParseAuditReportDetailed is ParseAuditReport that also reports why
// parsing failed. The returned report is always usable; the error is nil
// when the response parsed cleanly.
func ParseAuditReportDetailed(raw string) (datatypes.AuditReport, error) {
	return ParseAuditReportWithPolicy(raw, ParseFailOpen)
}

// ParseAuditReportWithPolicy parses raw and, on failure, synthesizes the
// fallback report dictated by policy.
//
// # Description
//
// Candidate extraction precedence:
//  1. The interior of the first untagged or json-tagged fenced block
//     whose fences sit on their own lines.
//  2. The span from the first '{' to the last '}'.
//  3. The whole trimmed text.
//
// The candidate is decoded and validated strictly. Unknown severity and CWE
// values are accepted as opaque strings. A missing or null vulnerability
// list becomes an empty list.
//
// # Outputs
//
//   - datatypes.AuditReport: Parsed report, or the fallback on failure.
//   - error: The parse failure, nil on success. Never fatal.
func ParseAuditReportWithPolicy(raw string, policy ParsePolicy) (datatypes.AuditReport, error) {
	report, err := decodeAuditReport(extractCandidate(raw))
	if err == nil {
		return report, nil
	}
	return fallbackReport(raw, err, policy), err
}

// extractCandidate picks the text most likely to hold the JSON object.
func extractCandidate(raw string) string {
	if body, ok := firstStructuredFence(raw); ok {
		return strings.TrimSpace(body)
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		return raw[start : end+1]
	}

	return strings.TrimSpace(raw)
}

// firstStructuredFence returns the body of the first fenced block tagged
// json or untagged. Fence lines are paired in order, so a block tagged
// with another language is skipped as a whole. A fence inside a JSON
// string never starts a line because its newlines are escaped.
func firstStructuredFence(raw string) (string, bool) {
	lines := strings.Split(raw, "\n")
	for i := 0; i < len(lines); i++ {
		opening := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(opening, "```") {
			continue
		}
		closing := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				closing = j
				break
			}
		}
		if closing == -1 {
			return "", false
		}
		if tag := strings.TrimSpace(opening[3:]); tag == "" || strings.EqualFold(tag, "json") {
			return strings.Join(lines[i+1:closing], "\n"), true
		}
		i = closing
	}
	return "", false
}

func decodeAuditReport(candidate string) (datatypes.AuditReport, error) {
	var raw rawAuditReport
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return datatypes.AuditReport{}, fmt.Errorf("decode audit report: %w", err)
	}
	if err := reportValidate.Struct(&raw); err != nil {
		return datatypes.AuditReport{}, fmt.Errorf("validate audit report: %w", err)
	}

	report := datatypes.AuditReport{
		IsSafe:          *raw.IsSafe,
		Summary:         *raw.Summary,
		Vulnerabilities: make([]datatypes.Vulnerability, 0, len(raw.Vulnerabilities)),
	}
	for _, v := range raw.Vulnerabilities {
		report.Vulnerabilities = append(report.Vulnerabilities, datatypes.Vulnerability{
			Severity:            *v.Severity,
			Description:         *v.Description,
			LineNumber:          v.LineNumber,
			CWEID:               *v.CWEID,
			SuggestedFixSnippet: *v.SuggestedFixSnippet,
		})
	}
	return report, nil
}

func fallbackReport(raw string, cause error, policy ParsePolicy) datatypes.AuditReport {
	return datatypes.AuditReport{
		IsSafe:          policy != ParseFailClosed,
		Vulnerabilities: []datatypes.Vulnerability{},
		Summary: fmt.Sprintf("Audit completed but structured parsing failed: %v. Raw response: %s",
			cause, truncateRunes(raw, rawPreviewLimit)),
	}
}

// truncateRunes cuts s to at most n characters without splitting a
// multi-byte character.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
