// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command codeheal runs the self-healing code auditor, either as an HTTP
// service or as a one-shot audit of a single file.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codeheal/pkg/logging"
	"github.com/AleutianAI/codeheal/services/healer/config"
)

// exitUnhealed is returned by "audit --strict" when the code is still
// unsafe after the last iteration.
const exitUnhealed = 2

var (
	// Global flags
	configPath string
	envFiles   []string
	logLevel   string
	logDir     string

	// Populated by PersistentPreRunE
	appConfig config.Config
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "codeheal",
		Short: "Audit code for vulnerabilities and repair it with an LLM",
		Long: `codeheal runs an audit, fix, re-audit loop over a piece of code.

An LLM audits the code; while it reports the code unsafe and the iteration
cap allows, a second LLM call rewrites the code and the audit runs again.
The full timeline of audits and fixes is returned at the end.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfigAndLogging,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				_ = appLogger.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"YAML configuration file (missing file is ignored)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		".env files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override logging.level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"also write JSON logs to this directory")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var unhealed *unhealedError
		if errors.As(err, &unhealed) {
			os.Exit(exitUnhealed)
		}
		os.Exit(1)
	}
}

// loadConfigAndLogging reads the configuration and installs the process
// logger as slog's default.
func loadConfigAndLogging(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}

	dir := cfg.Logging.Dir
	if logDir != "" {
		dir = logDir
	}

	format := logging.FormatAuto
	if cfg.Logging.JSON {
		format = logging.FormatJSON
	}

	appConfig = cfg
	appLogger = logging.New(logging.Config{
		Level:   level,
		LogDir:  dir,
		Service: cfg.Server.ServiceName,
		Format:  format,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(appLogger.Slog())
	return nil
}
