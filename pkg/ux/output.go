// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the codeheal CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette, deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = ColorTealBright
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the pre-configured lipgloss styles of one renderer.
type Styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Code      lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}

// NewStyles builds the palette against r. A plain Styles carries no
// colors or borders and renders text unchanged.
func NewStyles(r *lipgloss.Renderer, plain bool) Styles {
	if plain {
		s := r.NewStyle()
		return Styles{
			Title: s, Subtitle: s, Bold: s, Muted: s, Success: s, Warning: s,
			Error: s, Highlight: s, Code: s, Box: s, WarningBox: s, ErrorBox: s,
		}
	}

	box := func(c lipgloss.Color) lipgloss.Style {
		return r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(c).
			Padding(0, 1)
	}

	return Styles{
		Title:     r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Subtitle:  r.NewStyle().Foreground(ColorTealPrimary),
		Bold:      r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(ColorSlate),
		Success:   r.NewStyle().Foreground(ColorSuccess),
		Warning:   r.NewStyle().Foreground(ColorWarning),
		Error:     r.NewStyle().Foreground(ColorError),
		Highlight: r.NewStyle().Foreground(ColorTealBright).Bold(true),
		Code:      r.NewStyle().PaddingLeft(2),

		Box:        box(ColorTealDeep),
		WarningBox: box(ColorWarning),
		ErrorBox:   box(ColorError),
	}
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled lines to a single writer.
//
// Description:
//
//	The lipgloss renderer is bound to the writer, so color support is
//	detected for that destination rather than for os.Stdout. Plain mode
//	disables styling entirely and is used for pipes and tests.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	plain  bool
	styles Styles
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer, plain bool) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{w: w, plain: plain, styles: NewStyles(r, plain)}
}

// Styles returns the printer's styles.
func (p *Printer) Styles() Styles {
	return p.styles
}

// Plain reports whether styling is disabled.
func (p *Printer) Plain() bool {
	return p.plain
}

// Icon returns i styled for its meaning.
func (p *Printer) Icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.styles.Success.Render(string(i))
	case IconWarning:
		return p.styles.Warning.Render(string(i))
	case IconError:
		return p.styles.Error.Render(string(i))
	case IconPending:
		return p.styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a styled title
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(IconSuccess), p.styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(IconWarning), p.styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(IconError), p.styles.Error.Render(text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.styles.Muted.Render("│"), text)
}

// Muted prints secondary text
func (p *Printer) Muted(text string) {
	fmt.Fprintln(p.w, p.styles.Muted.Render(text))
}

// Line prints a formatted line as is.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Box prints content in a rounded box under a title. In plain mode the
// title is followed by the content on its own lines.
func (p *Printer) Box(title, content string) {
	p.box(p.styles.Box, p.styles.Title, title, content)
}

// WarningBox prints content in a warning-colored box.
func (p *Printer) WarningBox(title, content string) {
	p.box(p.styles.WarningBox, p.styles.Warning.Bold(true), title, content)
}

func (p *Printer) box(frame, heading lipgloss.Style, title, content string) {
	content = strings.TrimRight(content, "\n")
	if p.plain {
		fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, frame.Render(heading.Render(title)+"\n"+content))
}

// Summary prints a row of labelled counts, e.g. "2 fixed  1 remaining".
func (p *Printer) Summary(pairs ...Count) {
	parts := make([]string, 0, len(pairs))
	for _, c := range pairs {
		style := p.styles.Bold
		switch c.Tone {
		case ToneGood:
			style = p.styles.Success
		case ToneBad:
			style = p.styles.Error
		case ToneWarn:
			style = p.styles.Warning
		}
		parts = append(parts, style.Render(fmt.Sprintf("%d", c.N))+" "+p.styles.Muted.Render(c.Label))
	}
	fmt.Fprintln(p.w, strings.Join(parts, "  "))
}

// Tone colors a Count.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneGood
	ToneWarn
	ToneBad
)

// Count is one entry of a Summary line.
type Count struct {
	N     int
	Label string
	Tone  Tone
}
