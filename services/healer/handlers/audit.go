// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the healer service.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

var tracer = otel.Tracer("codeheal.handlers")

// maxBodyBytes bounds the raw request body, leaving room for JSON escaping.
const maxBodyBytes = 4 * datatypes.MaxCodeBytes

// =============================================================================
// Dependencies
// =============================================================================

// Healer runs one healing session.
type Healer interface {
	Heal(ctx context.Context, code string) (*datatypes.HealingResponse, error)
}

// SessionStore persists finished sessions.
type SessionStore interface {
	Save(ctx context.Context, resp *datatypes.HealingResponse) error
	Get(ctx context.Context, id string) (*datatypes.HealingResponse, error)
	List(ctx context.Context, limit int) ([]datatypes.SessionSummary, error)
}

// SessionTracker is notified when a session starts; the returned function
// is called when it ends.
type SessionTracker interface {
	SessionStarted() func()
}

type nopTracker struct{}

func (nopTracker) SessionStarted() func() { return func() {} }

// =============================================================================
// Audit Handler
// =============================================================================

// AuditHandler serves POST /api/audit.
//
// Description:
//
//	Each request runs one complete healing session and answers with its
//	HealingResponse. A weighted semaphore caps the number of sessions in
//	flight; excess requests wait until a slot frees up or the client goes
//	away. Sessions are saved to the store when one is configured; a save
//	failure is logged and does not fail the request.
//
// Thread Safety:
//
//	Safe for concurrent use.
type AuditHandler struct {
	healer  Healer
	store   SessionStore
	sem     *semaphore.Weighted
	tracker SessionTracker
	logger  *slog.Logger
}

// AuditHandlerConfig holds the optional collaborators of an AuditHandler.
type AuditHandlerConfig struct {
	// Store receives finished sessions. Nil disables persistence.
	Store SessionStore

	// MaxConcurrentSessions caps sessions in flight. Must be positive.
	MaxConcurrentSessions int64

	// Tracker is told about session start and end. Nil means no-op.
	Tracker SessionTracker

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
//
// Inputs:
//
//	healer - Runs the reflection loop. Must not be nil.
//	cfg - Optional collaborators and the concurrency cap.
//
// Outputs:
//
//	*AuditHandler - The handler.
//	error - Non-nil if healer is nil or the cap is not positive.
func NewAuditHandler(healer Healer, cfg AuditHandlerConfig) (*AuditHandler, error) {
	if healer == nil {
		return nil, errors.New("audit handler: healer must not be nil")
	}
	if cfg.MaxConcurrentSessions <= 0 {
		return nil, fmt.Errorf("audit handler: max concurrent sessions must be > 0, got %d", cfg.MaxConcurrentSessions)
	}
	if cfg.Tracker == nil {
		cfg.Tracker = nopTracker{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuditHandler{
		healer:  healer,
		store:   cfg.Store,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentSessions),
		tracker: cfg.Tracker,
		logger:  cfg.Logger,
	}, nil
}

// Handle is the gin handler for POST /api/audit.
func (h *AuditHandler) Handle(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "AuditHandler.Handle")
	defer span.End()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req datatypes.CodeSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		h.logger.Warn("rejected audit request", "reason", "invalid body", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "code too large")
		h.logger.Warn("rejected audit request", "reason", "code too large", "code_bytes", len(req.Code))
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Detail: fmt.Sprintf("code exceeds the maximum size of %d bytes", datatypes.MaxCodeBytes),
		})
		return
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no session slot")
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Detail: "server is busy, try again later"})
		return
	}
	defer h.sem.Release(1)

	done := h.tracker.SessionStarted()
	defer done()

	sessionID := uuid.NewString()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.Int("code.bytes", len(req.Code)))
	logger := h.logger.With("session_id", sessionID)
	logger.Info("healing session started", "code_bytes", len(req.Code))

	start := time.Now()
	resp, err := h.healer.Heal(ctx, req.Code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("healing session failed", "error", err, "duration", time.Since(start))
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Detail: "Error during code healing: " + err.Error(),
		})
		return
	}
	resp.SessionID = sessionID

	logger.Info("healing session completed",
		"final_status", resp.FinalStatus,
		"total_iterations", resp.TotalIterations,
		"duration", time.Since(start),
	)

	if h.store != nil {
		if err := h.store.Save(ctx, resp); err != nil {
			logger.Warn("failed to persist session", "error", err)
		}
	}

	c.JSON(http.StatusOK, resp)
}
