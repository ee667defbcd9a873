// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultOllamaModel = "llama3.1"

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// OllamaClient calls a local Ollama server through /api/generate with
// streaming disabled.
type OllamaClient struct {
	httpClient *http.Client
	endpoint   string
	model      string
	logger     *slog.Logger
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaClient validates cfg and applies defaults: model llama3.1,
// five minute timeout.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL is not set")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Logger.Warn("ollama model not set, using default", "model", defaultOllamaModel)
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	endpoint := strings.TrimSuffix(cfg.BaseURL, "/") + "/api/generate"
	cfg.Logger.Info("ollama client ready", "endpoint", endpoint, "model", cfg.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   endpoint,
		model:      cfg.Model,
		logger:     cfg.Logger,
	}, nil
}

// Model returns the configured model name.
func (o *OllamaClient) Model() string {
	return o.model
}

// Generate implements the LLMClient interface
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("llm.backend", "ollama"), attribute.String("llm.model", o.model))

	text, err := o.generate(ctx, prompt, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

func (o *OllamaClient) generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Options: ollamaOptions(params),
	})
	if err != nil {
		return "", fmt.Errorf("ollama: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", o.statusError(resp.StatusCode, raw)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("ollama: %w: %w", ErrMalformedResponse, err)
	}
	if out.Response == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}

	o.logger.Debug("ollama generation done", "model", o.model, "elapsed", time.Since(start))
	return out.Response, nil
}

// statusError maps a non-200 answer to an APIError. A missing model gets
// a hint naming the pull command.
func (o *OllamaClient) statusError(status int, raw []byte) error {
	apiErr := &APIError{Backend: "ollama", StatusCode: status, Body: string(raw)}

	var decoded ollamaGenerateResponse
	if status == http.StatusNotFound && json.Unmarshal(raw, &decoded) == nil &&
		strings.Contains(decoded.Error, "model") && strings.Contains(decoded.Error, "not found") {
		apiErr.Body = decoded.Error
		o.logger.Warn("ollama model not pulled", "model", o.model)
		return fmt.Errorf("model '%s' not found, run 'ollama pull %s': %w", o.model, o.model, apiErr)
	}

	o.logger.Error("ollama returned an error", "status_code", status, "body_length", len(raw))
	return apiErr
}

// ollamaOptions translates GenerationParams into Ollama's options map.
func ollamaOptions(params GenerationParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}
