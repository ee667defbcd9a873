// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
	"github.com/AleutianAI/codeheal/services/healer/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HealthCheck serves GET /api/health.
func HealthCheck(serviceName string) gin.HandlerFunc {
	if serviceName == "" {
		serviceName = datatypes.DefaultServiceName
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{Status: "healthy", Service: serviceName})
	}
}

// GetSession serves GET /api/sessions/:id with the stored timeline.
func GetSession(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		resp, err := store.Get(c.Request.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Detail: "session not found"})
			return
		}
		if err != nil {
			slog.Error("failed to load session", "session_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Detail: "failed to load session"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ListSessions serves GET /api/sessions?limit=N, newest first.
func ListSessions(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxListLimit {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "limit must be an integer between 1 and 500"})
				return
			}
			limit = n
		}

		summaries, err := store.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Detail: "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": summaries})
	}
}
