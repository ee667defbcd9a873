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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

// DefaultCallTimeout bounds a single analyzer or remediator call.
const DefaultCallTimeout = 120 * time.Second

// EngineConfig configures an Engine.
type EngineConfig struct {
	// MaxIterations caps the number of fix cycles. Zero disables fixing.
	MaxIterations int

	// CallTimeout bounds each external call. Zero disables the timeout.
	CallTimeout time.Duration

	// ParsePolicy decides the fallback for unparseable audit output.
	ParsePolicy ParsePolicy

	// Observer receives loop events. Nil means NopObserver.
	Observer Observer

	// Logger is the engine's logger. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations: DefaultMaxIterations,
		CallTimeout:   DefaultCallTimeout,
		ParsePolicy:   ParseFailOpen,
	}
}

// Engine is the session orchestrator.
//
// Description:
//
//	Engine owns the compiled loop: auditor, fixer, router and the phase
//	transition table. Each Heal call gets its own GraphState and drives it
//	through START -> AUDITING -> ROUTING -> (FIXING -> AUDITING)* -> END,
//	or to FAILED when a step's external call fails.
//
// Thread Safety:
//
//	Immutable after NewEngine; Heal may be called concurrently. No session
//	data is stored on the Engine.
type Engine struct {
	auditor  *Auditor
	fixer    *Fixer
	router   Router
	machine  *StateMachine
	observer Observer
	logger   *slog.Logger
}

// NewEngine builds an Engine.
//
// Inputs:
//
//	analyzer - Analysis capability. Must not be nil.
//	remediator - Remediation capability. Must not be nil.
//	cfg - Loop configuration.
//
// Outputs:
//
//	*Engine - The engine.
//	error - Non-nil if a capability is nil, MaxIterations is negative or
//	        the parse policy is unknown.
func NewEngine(analyzer Analyzer, remediator Remediator, cfg EngineConfig) (*Engine, error) {
	router, err := NewRouter(cfg.MaxIterations)
	if err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.ParsePolicy == "" {
		cfg.ParsePolicy = ParseFailOpen
	}
	if !cfg.ParsePolicy.Valid() {
		return nil, fmt.Errorf("invalid engine config: unknown parse policy %q", cfg.ParsePolicy)
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	auditor, err := NewAuditor(analyzer, cfg.ParsePolicy, cfg.CallTimeout, cfg.Observer, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating auditor: %w", err)
	}
	fixer, err := NewFixer(remediator, cfg.CallTimeout, cfg.Observer, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating fixer: %w", err)
	}

	return &Engine{
		auditor:  auditor,
		fixer:    fixer,
		router:   router,
		machine:  NewStateMachine(),
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}, nil
}

// MaxIterations returns the fix-cycle cap in force.
func (e *Engine) MaxIterations() int {
	return e.router.MaxIterations
}

// Heal runs one healing session over code.
//
// Description:
//
//	The code is passed to the analyzer as-is, including the empty string.
//	Malformed analyzer output is recovered by the report validator and
//	never fails the session.
//
// Inputs:
//
//	ctx - Cancellation for the whole session. Each external call also gets
//	      its own timeout derived from ctx.
//	code - The submitted source code.
//
// Outputs:
//
//	*datatypes.HealingResponse - The full timeline. SessionID is left empty
//	                             for the caller to assign.
//	error - *StepError for a failed external call (wrapping ctx.Err() on
//	        cancellation); no partial response is returned.
func (e *Engine) Heal(ctx context.Context, code string) (*datatypes.HealingResponse, error) {
	ctx, span := tracer.Start(ctx, "Engine.Heal")
	defer span.End()

	start := time.Now()
	state := NewGraphState(code)
	phase := PhaseStart

	advance := func(to Phase) error {
		next, err := e.machine.Transition(phase, to)
		if err != nil {
			return err
		}
		phase = next
		return nil
	}

	if err := advance(PhaseAuditing); err != nil {
		return nil, err
	}

	for !phase.IsTerminal() {
		var (
			update StateUpdate
			err    error
			step   StepName
		)

		switch phase {
		case PhaseAuditing:
			step = StepAuditor
			update, err = e.auditor.Run(ctx, state)
			if err == nil {
				err = advance(PhaseRouting)
			}
		case PhaseFixing:
			step = StepFixer
			update, err = e.fixer.Run(ctx, state)
			if err == nil {
				err = advance(PhaseAuditing)
			}
		case PhaseRouting:
			decision := e.router.Route(state)
			e.logger.Debug("routing", "iteration", state.Iterations, "decision", string(decision))
			if err := advance(nextAfterRouting(decision)); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, fmt.Errorf("%w: no handler for phase %s", ErrInvalidTransition, phase)
		}

		if err != nil {
			phase = PhaseFailed
			elapsed := time.Since(start)
			e.observer.SessionFailed(step, elapsed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("healing session failed",
				"step", string(step),
				"iteration", state.Iterations,
				"error", err,
			)
			return nil, err
		}
		state = state.Apply(update)
	}

	status, err := DeriveFinalStatus(state)
	if err != nil {
		return nil, fmt.Errorf("deriving final status: %w", err)
	}

	elapsed := time.Since(start)
	e.observer.SessionCompleted(status, state.Iterations, elapsed)
	span.SetAttributes(
		attribute.String("loop.final_status", status.String()),
		attribute.Int("loop.iterations", state.Iterations),
	)
	e.logger.Info("healing session complete",
		"final_status", status.String(),
		"iterations", state.Iterations,
		"audits", len(state.History),
		"duration_ms", elapsed.Milliseconds(),
	)

	return &datatypes.HealingResponse{
		OriginalCode:    state.OriginalCode,
		FinalCode:       state.CurrentCode,
		FinalStatus:     status,
		TotalIterations: state.Iterations,
		MaxIterations:   e.router.MaxIterations,
		History:         datatypes.CloneHistory(state.History),
	}, nil
}
