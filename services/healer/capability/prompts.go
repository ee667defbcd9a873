// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

const fence = "```"

// auditPromptTemplate takes the code as its single argument.
const auditPromptTemplate = `You are a senior security auditor specializing in code vulnerability detection.

Analyze the following code for security vulnerabilities:

` + fence + `
%s
` + fence + `

Identify ALL security issues including but not limited to:
- Injection vulnerabilities (SQL, XSS, Command Injection)
- Authentication/Authorization flaws
- Sensitive data exposure
- Security misconfigurations
- Insecure cryptography
- Input validation issues

For each vulnerability:
1. Assign appropriate CWE ID (e.g., CWE-89, CWE-79)
2. Provide severity: critical, high, medium, or low
3. Give a clear description
4. Include a suggested_fix_snippet showing corrected code

If the code is secure, set is_safe to true with an empty vulnerabilities list.

IMPORTANT: You MUST respond with ONLY a valid JSON object in this exact format:
{
    "is_safe": false,
    "vulnerabilities": [
        {
            "severity": "high",
            "description": "Description of the issue",
            "line_number": 10,
            "cwe_id": "CWE-89",
            "suggested_fix_snippet": "fixed code here"
        }
    ],
    "summary": "Overall audit summary"
}`

// fixPromptTemplate takes the code and the itemized vulnerability list.
const fixPromptTemplate = `You are an expert security engineer tasked with fixing code vulnerabilities.

**Original Code:**
` + fence + `
%s
` + fence + `

**Detected Vulnerabilities:**
%s

**Instructions:**
1. Apply ALL suggested fixes to remediate the vulnerabilities
2. Preserve the original code's functionality and logic
3. Use secure coding best practices
4. Add inline comments explaining security improvements
5. Return ONLY the fixed code, no explanations

**Fixed Code:**`

// BuildAuditPrompt renders the analysis instruction for code.
func BuildAuditPrompt(code string) string {
	return fmt.Sprintf(auditPromptTemplate, code)
}

// BuildFixPrompt renders the remediation instruction. Vulnerabilities are
// numbered from 1 in report order; an empty list yields an empty section.
func BuildFixPrompt(code string, vulns []datatypes.Vulnerability) string {
	return fmt.Sprintf(fixPromptTemplate, code, formatVulnerabilities(vulns))
}

func formatVulnerabilities(vulns []datatypes.Vulnerability) string {
	items := make([]string, 0, len(vulns))
	for i, v := range vulns {
		items = append(items, fmt.Sprintf(
			"**Vulnerability %d:**\n- CWE: %s\n- Severity: %s\n- Issue: %s\n- Suggested Fix:\n%s\n%s\n%s",
			i+1, v.CWEID, v.Severity, v.Description, fence, v.SuggestedFixSnippet, fence,
		))
	}
	return strings.Join(items, "\n\n")
}
