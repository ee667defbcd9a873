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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// NIMBaseURL is NVIDIA's hosted OpenAI-compatible endpoint.
	NIMBaseURL = "https://integrate.api.nvidia.com/v1"

	// DefaultNIMModel is the model used for both audit and fix on NIM.
	DefaultNIMModel = "meta/llama-3.1-70b-instruct"

	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIConfig configures an OpenAI-compatible chat completion client.
type OpenAIConfig struct {
	// Backend names the provider in logs and errors ("nim", "openai").
	Backend string
	APIKey  string
	// BaseURL overrides the API root. Empty means api.openai.com.
	BaseURL string
	Model   string
	// SystemPrompt is sent as the first message when non-empty.
	SystemPrompt string
	HTTPClient   *http.Client
}

// OpenAIClient talks to any OpenAI-compatible chat completion API,
// including NVIDIA NIM.
type OpenAIClient struct {
	client       *openai.Client
	backend      string
	model        string
	systemPrompt string
}

// NewOpenAIClient creates a client from cfg.
//
// Outputs:
//
//	*OpenAIClient - The client.
//	error - Non-nil if the API key is missing.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s API key is not set", backendName(cfg.Backend))
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		slog.Warn("model not set, using default", "backend", backendName(cfg.Backend), "model", cfg.Model)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	slog.Info("Initializing OpenAI-compatible client",
		"backend", backendName(cfg.Backend),
		"model", cfg.Model,
		"base_url", clientConfig.BaseURL,
	)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientConfig),
		backend:      backendName(cfg.Backend),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// NewNIMClient creates an OpenAIClient pointed at NVIDIA NIM.
func NewNIMClient(apiKey, model string) (*OpenAIClient, error) {
	if model == "" {
		model = DefaultNIMModel
	}
	return NewOpenAIClient(OpenAIConfig{
		Backend: "nim",
		APIKey:  apiKey,
		BaseURL: NIMBaseURL,
		Model:   model,
	})
}

// Model returns the configured model name.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.backend", o.backend),
		attribute.String("llm.model", o.model),
	)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if o.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		// NIM rejects max_completion_tokens; max_tokens works everywhere.
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	slog.Debug("Generating text via OpenAI-compatible API", "backend", o.backend, "model", o.model)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%s API call failed: %w", o.backend, translateOpenAIError(o.backend, err))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return "", fmt.Errorf("%s: %w", o.backend, ErrEmptyResponse)
	}
	span.SetAttributes(attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens))
	slog.Debug("Received response", "backend", o.backend, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// translateOpenAIError maps go-openai errors carrying an HTTP status onto
// APIError so retry classification works across backends.
func translateOpenAIError(backend string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &APIError{Backend: backend, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &APIError{Backend: backend, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}

func backendName(b string) string {
	if b == "" {
		return "openai"
	}
	return b
}
