// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capability implements the loop's analysis and remediation
// capabilities on top of an LLM backend.
package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
	"github.com/AleutianAI/codeheal/services/healer/loop"
	"github.com/AleutianAI/codeheal/services/llm"
)

// Default sampling parameters per capability.
const (
	DefaultAuditTemperature float32 = 0.1
	DefaultAuditMaxTokens           = 2048
	DefaultFixTemperature   float32 = 0.2
	DefaultFixMaxTokens             = 3072
)

var errNilClient = errors.New("llm client must not be nil")

// LLMAnalyzer asks an LLM for a JSON vulnerability report.
type LLMAnalyzer struct {
	client llm.LLMClient
	params llm.GenerationParams
}

// NewLLMAnalyzer wraps client. Zero params fall back to the defaults.
func NewLLMAnalyzer(client llm.LLMClient, params llm.GenerationParams) (*LLMAnalyzer, error) {
	if client == nil {
		return nil, errNilClient
	}
	if params.Temperature == nil {
		params.Temperature = llm.Float32(DefaultAuditTemperature)
	}
	if params.MaxTokens == nil {
		params.MaxTokens = llm.Int(DefaultAuditMaxTokens)
	}
	return &LLMAnalyzer{client: client, params: params}, nil
}

// Analyze implements loop.Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, code string) (string, error) {
	out, err := a.client.Generate(ctx, BuildAuditPrompt(code), a.params)
	if err != nil {
		return "", fmt.Errorf("analysis request failed: %w", err)
	}
	return out, nil
}

// LLMRemediator asks an LLM for corrected code.
type LLMRemediator struct {
	client llm.LLMClient
	params llm.GenerationParams
}

// NewLLMRemediator wraps client. Zero params fall back to the defaults.
func NewLLMRemediator(client llm.LLMClient, params llm.GenerationParams) (*LLMRemediator, error) {
	if client == nil {
		return nil, errNilClient
	}
	if params.Temperature == nil {
		params.Temperature = llm.Float32(DefaultFixTemperature)
	}
	if params.MaxTokens == nil {
		params.MaxTokens = llm.Int(DefaultFixMaxTokens)
	}
	return &LLMRemediator{client: client, params: params}, nil
}

// Remediate implements loop.Remediator.
func (r *LLMRemediator) Remediate(ctx context.Context, code string, vulns []datatypes.Vulnerability) (string, error) {
	out, err := r.client.Generate(ctx, BuildFixPrompt(code, vulns), r.params)
	if err != nil {
		return "", fmt.Errorf("remediation request failed: %w", err)
	}
	return out, nil
}

var (
	_ loop.Analyzer   = (*LLMAnalyzer)(nil)
	_ loop.Remediator = (*LLMRemediator)(nil)
)
