// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
	"github.com/AleutianAI/codeheal/services/healer/loop"
)

// =============================================================================
// Prometheus Metrics for the Healing Loop
// =============================================================================

const (
	namespace = "codeheal"
	subsystem = "loop"
)

// HealingMetrics records loop events as Prometheus metrics.
//
// Description:
//
//	Implements loop.Observer. All collectors are registered on the
//	Registerer passed to NewHealingMetrics, so tests can use a private
//	registry while the service uses the default one.
//
// Thread Safety:
//
//	Safe for concurrent use.
type HealingMetrics struct {
	// audits counts completed audits. Labels: result (safe, unsafe)
	audits *prometheus.CounterVec

	// vulnerabilities counts reported vulnerabilities. Labels: severity
	vulnerabilities *prometheus.CounterVec

	// parseFallbacks counts unparseable analyzer responses.
	parseFallbacks prometheus.Counter

	// stepDuration measures external step latency. Labels: step
	stepDuration *prometheus.HistogramVec

	// sessions counts finished sessions. Labels: outcome (safe, healed,
	// max_iterations_reached, failed)
	sessions *prometheus.CounterVec

	// sessionIterations is the distribution of fix cycles per session.
	sessionIterations prometheus.Histogram

	// sessionDuration measures whole-session latency. Labels: outcome
	sessionDuration *prometheus.HistogramVec

	// inFlight is the number of sessions currently running.
	inFlight prometheus.Gauge
}

// NewHealingMetrics registers the loop collectors on reg. A nil reg means
// prometheus.DefaultRegisterer.
func NewHealingMetrics(reg prometheus.Registerer) *HealingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &HealingMetrics{
		audits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "audits_total",
			Help:      "Completed audits by result",
		}, []string{"result"}),
		vulnerabilities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "vulnerabilities_total",
			Help:      "Vulnerabilities reported by the analyzer, by severity",
		}, []string{"severity"}),
		parseFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "parse_fallbacks_total",
			Help:      "Analyzer responses that could not be parsed and fell back",
		}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "step_duration_seconds",
			Help:      "Latency of audit and fix steps in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"step"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_total",
			Help:      "Finished healing sessions by outcome",
		}, []string{"outcome"}),
		sessionIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_iterations",
			Help:      "Fix cycles per completed session",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_duration_seconds",
			Help:      "Healing session latency in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_in_flight",
			Help:      "Healing sessions currently running",
		}),
	}
}

// AuditCompleted implements loop.Observer.
func (m *HealingMetrics) AuditCompleted(_ int, report datatypes.AuditReport, elapsed time.Duration) {
	result := "unsafe"
	if report.IsSafe {
		result = "safe"
	}
	m.audits.WithLabelValues(result).Inc()
	for _, v := range report.Vulnerabilities {
		m.vulnerabilities.WithLabelValues(severityLabel(v.Severity)).Inc()
	}
	m.stepDuration.WithLabelValues(string(loop.StepAuditor)).Observe(elapsed.Seconds())
}

// ParseFallback implements loop.Observer.
func (m *HealingMetrics) ParseFallback(int) {
	m.parseFallbacks.Inc()
}

// FixCompleted implements loop.Observer.
func (m *HealingMetrics) FixCompleted(_ int, elapsed time.Duration) {
	m.stepDuration.WithLabelValues(string(loop.StepFixer)).Observe(elapsed.Seconds())
}

// SessionCompleted implements loop.Observer.
func (m *HealingMetrics) SessionCompleted(status datatypes.FinalStatus, iterations int, elapsed time.Duration) {
	m.sessions.WithLabelValues(status.String()).Inc()
	m.sessionIterations.Observe(float64(iterations))
	m.sessionDuration.WithLabelValues(status.String()).Observe(elapsed.Seconds())
}

// SessionFailed implements loop.Observer.
func (m *HealingMetrics) SessionFailed(_ loop.StepName, elapsed time.Duration) {
	m.sessions.WithLabelValues("failed").Inc()
	m.sessionDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
}

// SessionStarted marks a session as running. Call the returned function
// when it ends.
func (m *HealingMetrics) SessionStarted() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// severityLabel bounds label cardinality; the analyzer's severity is
// free-form text.
func severityLabel(s string) string {
	switch s {
	case "critical", "high", "medium", "low":
		return s
	default:
		return "other"
	}
}

var _ loop.Observer = (*HealingMetrics)(nil)
