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

import "strings"

const codeFence = "```"

// StripCodeFence removes a single outer fenced-block wrapper from model
// output.
//
// Description:
//
//	The text is trimmed. If the trimmed text opens and closes with a fence
//	and spans at least two lines, exactly the first and last lines are
//	dropped and the interior is returned verbatim, blank lines included.
//	Anything else is returned trimmed but otherwise untouched. This is a
//	formatting cleanup, not validation.
//
// Inputs:
//
//	text - Raw remediation response.
//
// Outputs:
//
//	string - The unwrapped code.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, codeFence) || !strings.HasSuffix(trimmed, codeFence) {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}
