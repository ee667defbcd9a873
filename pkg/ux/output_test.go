// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Plain mode
// =============================================================================

func TestPrinter_PlainMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Title("Healing session")
	p.Success("code is safe")
	p.Warning("iteration cap reached")
	p.Error("audit failed")
	p.Info("2 vulnerabilities")
	p.Muted("secondary")
	p.Line("%d/%d", 1, 3)

	want := strings.Join([]string{
		"Healing session",
		"✓ code is safe",
		"⚠ iteration cap reached",
		"✗ audit failed",
		"│ 2 vulnerabilities",
		"secondary",
		"1/3",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
	assert.True(t, p.Plain())
}

func TestPrinter_PlainBox(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Box("Final code", "x = 1\n")
	p.WarningBox("Remaining", "CWE-89")

	assert.Equal(t, "Final code:\nx = 1\nRemaining:\nCWE-89\n", buf.String())
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Summary(
		Count{N: 2, Label: "fixed", Tone: ToneGood},
		Count{N: 1, Label: "remaining", Tone: ToneBad},
		Count{N: 3, Label: "audits"},
	)

	assert.Equal(t, "2 fixed  1 remaining  3 audits\n", buf.String())
}

// =============================================================================
// Styled mode
// =============================================================================

func TestPrinter_StyledBoxHasBorder(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Box("Final code", "x = 1")

	out := buf.String()
	assert.Contains(t, out, "Final code")
	assert.Contains(t, out, "x = 1")
	assert.Contains(t, out, "╭")
	assert.Contains(t, out, "╯")
}

func TestPrinter_Icon(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{}, false)

	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow, IconBullet} {
		assert.Contains(t, p.Icon(icon), string(icon))
	}
}

func TestNewStyles_PlainRendersUnchanged(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{}, true)
	s := p.Styles()

	assert.Equal(t, "text", s.Title.Render("text"))
	assert.Equal(t, "text", s.Box.Render("text"))
	assert.Equal(t, "text", s.Error.Render("text"))
}
