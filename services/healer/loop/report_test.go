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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

func intPtr(v int) *int { return &v }

func sampleReport() datatypes.AuditReport {
	return datatypes.AuditReport{
		IsSafe: false,
		Vulnerabilities: []datatypes.Vulnerability{
			{
				Severity:            "critical",
				Description:         "SQL built by string concatenation",
				LineNumber:          intPtr(3),
				CWEID:               "CWE-89",
				SuggestedFixSnippet: "cursor.execute(\"SELECT * FROM users WHERE id = ?\", (uid,))",
			},
			{
				Severity:            "low",
				Description:         "debug flag left on",
				CWEID:               "CWE-489",
				SuggestedFixSnippet: "DEBUG = False",
			},
		},
		Summary: "Two issues found.",
	}
}

// =============================================================================
// Round Trip
// =============================================================================

func TestParseAuditReport_RoundTripFenced(t *testing.T) {
	want := sampleReport()
	body, err := json.MarshalIndent(want, "", "  ")
	require.NoError(t, err)

	raw := "Here is my analysis:\n```json\n" + string(body) + "\n```\nThanks."
	got, parseErr := ParseAuditReportDetailed(raw)
	require.NoError(t, parseErr)
	assert.Equal(t, want, got)
}

func TestParseAuditReport_RoundTripBareJSON(t *testing.T) {
	want := sampleReport()
	body, err := json.Marshal(want)
	require.NoError(t, err)

	got, parseErr := ParseAuditReportDetailed("Result: " + string(body) + " -- end")
	require.NoError(t, parseErr)
	assert.Equal(t, want, got)
}

func TestParseAuditReport_RoundTripAwkwardStrings(t *testing.T) {
	reports := map[string]datatypes.AuditReport{
		"fenced snippet": {
			Vulnerabilities: []datatypes.Vulnerability{{
				Severity:            "high",
				Description:         "SQL injection",
				LineNumber:          intPtr(2),
				CWEID:               "CWE-89",
				SuggestedFixSnippet: "```python\ncur.execute(q, (id,))\n```",
			}},
			Summary: "Use parameters:\n```\nexecute(q, args)\n```",
		},
		"braces": {
			Vulnerabilities: []datatypes.Vulnerability{{
				Severity:            "medium",
				Description:         "template {{ user }} rendered raw }",
				CWEID:               "CWE-79",
				SuggestedFixSnippet: "func f() { if x { return } }",
			}},
			Summary: "{ unbalanced",
		},
		"unicode": {
			Vulnerabilities: []datatypes.Vulnerability{{
				Severity:            "low",
				Description:         "日本語のコメント ✗ → ✓",
				CWEID:               "CWE-20",
				SuggestedFixSnippet: "s = \"é\" # ```json",
			}},
			Summary: "naïve check 🚨",
		},
		"safe with fence in summary": {
			IsSafe:          true,
			Vulnerabilities: []datatypes.Vulnerability{},
			Summary:         "```json\n{\"is_safe\": true}\n```",
		},
	}

	for name, want := range reports {
		compact, err := json.Marshal(want)
		require.NoError(t, err)
		indented, err := json.MarshalIndent(want, "", "  ")
		require.NoError(t, err)

		paths := map[string]string{
			"bare":            string(compact),
			"bare in prose":   "Analysis:\n" + string(indented) + "\nDone.",
			"fenced":          "```json\n" + string(indented) + "\n```",
			"fenced untagged": "Report below.\n```\n" + string(compact) + "\n```\n",
			"fenced crlf":     "```json\r\n" + string(compact) + "\r\n```\r\n",
		}
		for pathName, raw := range paths {
			t.Run(name+"/"+pathName, func(t *testing.T) {
				got, parseErr := ParseAuditReportDetailed(raw)
				require.NoError(t, parseErr)
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestParseAuditReport_IgnoresNonJSONFenceBeforeReport(t *testing.T) {
	raw := "Suggested fix:\n```python\ncur.execute(q, (id,))\n```\n" +
		`{"is_safe": false, "summary": "s", "vulnerabilities": [` +
		`{"severity": "high", "description": "d", "cwe_id": "CWE-89", "suggested_fix_snippet": "x"}]}`

	got, err := ParseAuditReportDetailed(raw)
	require.NoError(t, err)
	assert.False(t, got.IsSafe)
	require.Len(t, got.Vulnerabilities, 1)
}

func TestFirstStructuredFence(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"json tag", "```json\n{}\n```", "{}", true},
		{"upper tag", "```JSON\n{}\n```", "{}", true},
		{"untagged", "intro\n```\n{}\n```", "{}", true},
		{"other language skipped", "```python\nx = 1\n```\n```json\n{\"a\": 1}\n```", "{\"a\": 1}", true},
		{"only other language", "```python\nx = 1\n```", "", false},
		{"unclosed", "```json\n{}", "", false},
		{"inline fence", "text ```json {} ``` text", "", false},
		{"none", "{}", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstStructuredFence(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAuditReport_UntaggedFence(t *testing.T) {
	raw := "```\n{\"is_safe\": true, \"vulnerabilities\": [], \"summary\": \"clean\"}\n```"
	got, err := ParseAuditReportDetailed(raw)
	require.NoError(t, err)
	assert.True(t, got.IsSafe)
	assert.Equal(t, "clean", got.Summary)
	assert.NotNil(t, got.Vulnerabilities)
	assert.Empty(t, got.Vulnerabilities)
}

func TestParseAuditReport_FenceTakesPrecedenceOverBraces(t *testing.T) {
	raw := "{\"ignored\": true}\n```json\n{\"is_safe\": false, \"summary\": \"from fence\"}\n```"
	got, err := ParseAuditReportDetailed(raw)
	require.NoError(t, err)
	assert.False(t, got.IsSafe)
	assert.Equal(t, "from fence", got.Summary)
}

func TestParseAuditReport_MissingVulnerabilitiesIsEmpty(t *testing.T) {
	for _, raw := range []string{
		`{"is_safe": true, "summary": "ok"}`,
		`{"is_safe": true, "vulnerabilities": null, "summary": "ok"}`,
	} {
		got, err := ParseAuditReportDetailed(raw)
		require.NoError(t, err, raw)
		assert.NotNil(t, got.Vulnerabilities)
		assert.Empty(t, got.Vulnerabilities)
	}
}

func TestParseAuditReport_OpaqueSeverityAndCWE(t *testing.T) {
	raw := `{"is_safe": false, "summary": "s", "vulnerabilities": [
		{"severity": "apocalyptic", "description": "d", "cwe_id": "not-a-cwe", "suggested_fix_snippet": ""}
	], "extra": 42}`
	got, err := ParseAuditReportDetailed(raw)
	require.NoError(t, err)
	require.Len(t, got.Vulnerabilities, 1)
	assert.Equal(t, "apocalyptic", got.Vulnerabilities[0].Severity)
	assert.Equal(t, "not-a-cwe", got.Vulnerabilities[0].CWEID)
	assert.Nil(t, got.Vulnerabilities[0].LineNumber)
}

func TestParseAuditReport_SafeFlagTrustedOverList(t *testing.T) {
	raw := `{"is_safe": true, "summary": "s", "vulnerabilities": [
		{"severity": "high", "description": "d", "cwe_id": "CWE-79", "suggested_fix_snippet": "x"}
	]}`
	got := ParseAuditReport(raw)
	assert.True(t, got.IsSafe)
	assert.Len(t, got.Vulnerabilities, 1)
}

// =============================================================================
// Fallback
// =============================================================================

func TestParseAuditReport_FallbackTotality(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"prose":             "The code looks fine to me, no JSON here.",
		"truncated":         `{"is_safe": false, "vulnerabilities": [{"severity": "high"`,
		"wrong type":        `{"is_safe": "yes", "summary": "s"}`,
		"missing is_safe":   `{"summary": "s", "vulnerabilities": []}`,
		"missing summary":   `{"is_safe": false}`,
		"negative line":     `{"is_safe": false, "summary": "s", "vulnerabilities": [{"severity": "h", "description": "d", "line_number": -1, "cwe_id": "c", "suggested_fix_snippet": "f"}]}`,
		"incomplete vuln":   `{"is_safe": false, "summary": "s", "vulnerabilities": [{"severity": "h"}]}`,
		"json array":        `[1, 2, 3]`,
		"json null":         `null`,
		"empty fenced json": "```json\n```",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseAuditReportDetailed(raw)
			assert.Error(t, err)
			assert.True(t, got.IsSafe)
			assert.NotNil(t, got.Vulnerabilities)
			assert.Empty(t, got.Vulnerabilities)
			assert.True(t, strings.HasPrefix(got.Summary, "Audit completed but structured parsing failed: "))

			assert.Equal(t, got, ParseAuditReport(raw))
		})
	}
}

func TestParseAuditReport_FallbackEmbedsBoundedPrefix(t *testing.T) {
	raw := strings.Repeat("é", 800)
	got := ParseAuditReport(raw)

	idx := strings.Index(got.Summary, "Raw response: ")
	require.NotEqual(t, -1, idx)
	preview := got.Summary[idx+len("Raw response: "):]
	assert.Equal(t, strings.Repeat("é", 500), preview)
}

func TestParseAuditReportWithPolicy_FailClosed(t *testing.T) {
	got, err := ParseAuditReportWithPolicy("no json", ParseFailClosed)
	assert.Error(t, err)
	assert.False(t, got.IsSafe)
	assert.Empty(t, got.Vulnerabilities)
	assert.Contains(t, got.Summary, "Raw response: no json")

	ok, err := ParseAuditReportWithPolicy(`{"is_safe": true, "summary": "fine"}`, ParseFailClosed)
	require.NoError(t, err)
	assert.True(t, ok.IsSafe)
}

func TestParsePolicy_Valid(t *testing.T) {
	assert.True(t, ParseFailOpen.Valid())
	assert.True(t, ParseFailClosed.Valid())
	assert.False(t, ParsePolicy("maybe").Valid())
	assert.False(t, ParsePolicy("").Valid())
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "", truncateRunes("abc", 0))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
}
