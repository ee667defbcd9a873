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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/codeheal/pkg/ux"
	"github.com/AleutianAI/codeheal/services/healer"
	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

var (
	auditJSON          bool
	auditStrict        bool
	auditNoColor       bool
	auditMaxIterations int
	auditOutFile       string

	// newEngine is replaced in tests.
	newEngine = healer.NewEngine

	auditCmd = &cobra.Command{
		Use:   "audit <file|->",
		Short: "Heal a single file and print the timeline",
		Long: `Runs one healing session over the given file ("-" reads stdin) and
prints every audit and fix. With --json the HealingResponse is printed
instead. With --strict the exit code is 2 when the code is still unsafe
after the last iteration.`,
		Args: cobra.ExactArgs(1),
		RunE: runAudit,
	}
)

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print the healing response as JSON")
	auditCmd.Flags().BoolVar(&auditStrict, "strict", false, "exit 2 when the code could not be healed")
	auditCmd.Flags().BoolVar(&auditNoColor, "no-color", false, "disable colors and borders")
	auditCmd.Flags().IntVar(&auditMaxIterations, "max-iterations", -1, "override loop.max_iterations")
	auditCmd.Flags().StringVarP(&auditOutFile, "output", "o", "", "write the final code to this file")
}

// unhealedError signals that the final audit still judged the code unsafe.
type unhealedError struct {
	status datatypes.FinalStatus
}

func (e *unhealedError) Error() string {
	return fmt.Sprintf("code not healed: %s", e.status)
}

func runAudit(cmd *cobra.Command, args []string) error {
	code, err := readSource(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	if len(code) > datatypes.MaxCodeBytes {
		return fmt.Errorf("%s: code exceeds the maximum size of %d bytes", args[0], datatypes.MaxCodeBytes)
	}

	cfg := appConfig
	if auditMaxIterations >= 0 {
		cfg.Loop.MaxIterations = auditMaxIterations
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	plain := auditNoColor || !isTerminal(out)

	var observer *progressObserver
	if !auditJSON {
		observer = newProgressObserver(ux.NewPrinter(cmd.ErrOrStderr(), plain))
	}

	engine, err := newEngine(cfg, nil, nil, observerOrNil(observer), appLogger.Slog())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := engine.Heal(ctx, code)
	if err != nil {
		return err
	}

	if auditJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	} else {
		renderTimeline(ux.NewPrinter(out, plain), resp)
	}

	if auditOutFile != "" {
		if err := os.WriteFile(auditOutFile, []byte(resp.FinalCode), 0o644); err != nil {
			return fmt.Errorf("write final code: %w", err)
		}
	}

	if auditStrict && resp.FinalStatus == datatypes.StatusMaxIterationsReached {
		return &unhealedError{status: resp.FinalStatus}
	}
	return nil
}

// readSource reads path, or stdin when path is "-".
func readSource(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, int64(datatypes.MaxCodeBytes)+1))
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if info.IsDir() {
		return "", errors.New(path + " is a directory")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
