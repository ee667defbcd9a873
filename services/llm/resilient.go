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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// ResilientConfig configures a ResilientClient.
type ResilientConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint

	// InitialInterval is the first backoff delay. Zero means 500ms.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff delay. Zero means 10s.
	MaxInterval time.Duration

	// RequestsPerSecond bounds the call rate. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter's bucket size. Zero means 1.
	Burst int
}

// ResilientClient wraps an LLMClient with rate limiting and retry.
//
// Description:
//
//	Every Generate call first waits on a token-bucket limiter shared by all
//	callers, then runs the wrapped client under exponential backoff.
//	Only transient failures are retried: transport errors and 429 or 5xx
//	answers. Context cancellation, 4xx answers, and empty or undecodable
//	responses stop immediately.
//
// Thread Safety:
//
//	Safe for concurrent use if the wrapped client is.
type ResilientClient struct {
	inner   LLMClient
	limiter *rate.Limiter
	cfg     ResilientConfig
	logger  *slog.Logger
}

// NewResilientClient wraps inner. A nil logger means slog.Default().
func NewResilientClient(inner LLMClient, cfg ResilientConfig, logger *slog.Logger) (*ResilientClient, error) {
	if inner == nil {
		return nil, errors.New("resilient client: inner client must not be nil")
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("resilient client: requests per second must be >= 0, got %v", cfg.RequestsPerSecond)
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &ResilientClient{
		inner:   inner,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Generate implements the LLMClient interface
func (r *ResilientClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	attempt := 0
	operation := func() (string, error) {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		text, err := r.inner.Generate(ctx, prompt, params)
		if err == nil {
			return text, nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		r.logger.Warn("llm call failed, retrying",
			"attempt", attempt,
			"max_retries", r.cfg.MaxRetries,
			"error", err,
		)
		return "", err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.cfg.InitialInterval
	expBackoff.MaxInterval = r.cfg.MaxInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(r.cfg.MaxRetries+1),
	)
}

// IsRetryable reports whether err is worth another attempt. Empty and
// undecodable answers are deterministic and never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
