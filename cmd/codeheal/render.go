// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/codeheal/pkg/ux"
	"github.com/AleutianAI/codeheal/services/healer/datatypes"
	"github.com/AleutianAI/codeheal/services/healer/loop"
)

// =============================================================================
// Timeline
// =============================================================================

// renderTimeline prints a finished session: status, one block per audit
// with its findings and the fix that followed, then the final code.
func renderTimeline(p *ux.Printer, resp *datatypes.HealingResponse) {
	title := "Healing session"
	if resp.SessionID != "" {
		title += " " + resp.SessionID
	}
	p.Title(title)

	switch resp.FinalStatus {
	case datatypes.StatusSafe:
		p.Success("code is safe, no fix needed")
	case datatypes.StatusHealed:
		p.Success(fmt.Sprintf("healed after %s", plural(resp.TotalIterations, "fix cycle")))
	default:
		p.Warning(fmt.Sprintf("still unsafe after %s (cap %d)",
			plural(resp.TotalIterations, "fix cycle"), resp.MaxIterations))
	}
	p.Line("")

	s := p.Styles()
	for _, entry := range resp.History {
		report := entry.AuditReport
		verdict := p.Icon(ux.IconSuccess) + " " + s.Success.Render("safe")
		if !report.IsSafe {
			verdict = p.Icon(ux.IconError) + " " + s.Error.Render("unsafe")
		}
		header := fmt.Sprintf("%s  %s", s.Bold.Render(fmt.Sprintf("Audit %d", entry.Iteration)), verdict)
		if report.Summary != "" {
			header += "  " + s.Muted.Render(report.Summary)
		}
		p.Line("%s", header)

		for _, v := range report.Vulnerabilities {
			p.Line("  %s %s", p.Icon(ux.IconBullet), describeVulnerability(v))
		}
		if entry.FixApplied != nil {
			p.Line("  %s %s", p.Icon(ux.IconArrow),
				s.Subtitle.Render(fmt.Sprintf("fix applied (%s)", plural(lineCount(*entry.FixApplied), "line"))))
		}
	}
	p.Line("")

	if resp.FinalStatus == datatypes.StatusMaxIterationsReached {
		p.WarningBox("Final code (unsafe)", resp.FinalCode)
	} else {
		p.Box("Final code", resp.FinalCode)
	}

	open := 0
	if n := len(resp.History); n > 0 {
		open = len(resp.History[n-1].AuditReport.Vulnerabilities)
	}
	openTone := ux.ToneGood
	if open > 0 {
		openTone = ux.ToneBad
	}
	p.Summary(
		ux.Count{N: len(resp.History), Label: pluralNoun(len(resp.History), "audit")},
		ux.Count{N: resp.TotalIterations, Label: pluralNoun(resp.TotalIterations, "fix")},
		ux.Count{N: open, Label: pluralNoun(open, "open issue"), Tone: openTone},
	)
}

// describeVulnerability formats one finding as
// "[HIGH] CWE-89 line 3: description".
func describeVulnerability(v datatypes.Vulnerability) string {
	var b strings.Builder
	if v.Severity != "" {
		b.WriteString("[" + strings.ToUpper(v.Severity) + "] ")
	}
	if v.CWEID != "" {
		b.WriteString(v.CWEID + " ")
	}
	if v.LineNumber != nil {
		fmt.Fprintf(&b, "line %d", *v.LineNumber)
	}
	head := strings.TrimSpace(b.String())
	switch {
	case head == "":
		return v.Description
	case v.Description == "":
		return head
	default:
		return head + ": " + v.Description
	}
}

func lineCount(code string) int {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return 0
	}
	return strings.Count(code, "\n") + 1
}

// plural formats a count with its noun, e.g. "1 fix", "3 fixes".
func plural(n int, noun string) string {
	return fmt.Sprintf("%d %s", n, pluralNoun(n, noun))
}

func pluralNoun(n int, noun string) string {
	switch {
	case n == 1:
		return noun
	case strings.HasSuffix(noun, "x"):
		return noun + "es"
	default:
		return noun + "s"
	}
}

// =============================================================================
// Progress
// =============================================================================

// progressObserver prints loop events while a session runs.
type progressObserver struct {
	p *ux.Printer
}

func newProgressObserver(p *ux.Printer) *progressObserver {
	return &progressObserver{p: p}
}

func (o *progressObserver) AuditCompleted(iteration int, report datatypes.AuditReport, elapsed time.Duration) {
	verdict := "safe"
	if !report.IsSafe {
		verdict = "unsafe"
	}
	o.p.Muted(fmt.Sprintf("audit %d: %s, %s in %s", iteration, verdict,
		plural(len(report.Vulnerabilities), "issue"), elapsed.Round(time.Millisecond)))
}

func (o *progressObserver) ParseFallback(iteration int) {
	o.p.Warning(fmt.Sprintf("audit %d: analyzer answer was not a valid report, parse policy applied", iteration))
}

func (o *progressObserver) FixCompleted(iteration int, elapsed time.Duration) {
	o.p.Muted(fmt.Sprintf("fix %d: applied in %s", iteration, elapsed.Round(time.Millisecond)))
}

func (o *progressObserver) SessionCompleted(datatypes.FinalStatus, int, time.Duration) {}

func (o *progressObserver) SessionFailed(step loop.StepName, elapsed time.Duration) {
	o.p.Error(fmt.Sprintf("%s step failed after %s", step, elapsed.Round(time.Millisecond)))
}

var _ loop.Observer = (*progressObserver)(nil)

// observerOrNil keeps a nil *progressObserver from becoming a non-nil
// interface value.
func observerOrNil(o *progressObserver) loop.Observer {
	if o == nil {
		return nil
	}
	return o
}
