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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codeheal/services/healer"
)

var (
	servePort int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the healing HTTP service",
		Long: `Starts the HTTP service exposing POST /api/audit, the session
history endpoints, /metrics and the optional browser frontend. SIGINT or
SIGTERM drains in-flight sessions before exiting.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "override server.port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if servePort != 0 {
		cfg.Server.Port = servePort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := healer.New(ctx, cfg, &healer.Options{Logger: appLogger.Slog()})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

// contextOrBackground guards commands executed without ExecuteContext.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
