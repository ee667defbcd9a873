// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/codeheal/services/healer/handlers"
)

// Dependencies carries what the route table needs.
type Dependencies struct {
	// Audit serves POST /api/audit. Required.
	Audit *handlers.AuditHandler

	// Store enables the session endpoints. Nil leaves them unregistered.
	Store handlers.SessionStore

	// ServiceName is reported by the health endpoint.
	ServiceName string

	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer

	// FrontendDir is served under /ui when set.
	FrontendDir string
}

// SetupRoutes registers every healer endpoint on router.
//
//	GET  /api/health
//	POST /api/audit
//	GET  /api/sessions          (with a store)
//	GET  /api/sessions/:id      (with a store)
//	GET  /metrics
//	GET  /ui/*, GET /           (with a frontend dir)
func SetupRoutes(router *gin.Engine, deps Dependencies) error {
	if deps.Audit == nil {
		return errors.New("routes: audit handler is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if deps.FrontendDir != "" {
		router.StaticFS("/ui", http.Dir(deps.FrontendDir))
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/ui/")
		})
	}

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck(deps.ServiceName))
		api.POST("/audit", deps.Audit.Handle)

		if deps.Store != nil {
			sessions := api.Group("/sessions")
			{
				sessions.GET("", handlers.ListSessions(deps.Store))
				sessions.GET("/:id", handlers.GetSession(deps.Store))
			}
		}
	}
	return nil
}
