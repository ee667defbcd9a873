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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyClient struct {
	mu       sync.Mutex
	calls    int
	failures []error
	answer   string
}

func (f *flakyClient) Generate(_ context.Context, _ string, _ GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= len(f.failures) {
		return "", f.failures[f.calls-1]
	}
	return f.answer, nil
}

func fastRetry(retries uint) ResilientConfig {
	return ResilientConfig{
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestResilientClient_RetriesTransientFailures(t *testing.T) {
	inner := &flakyClient{
		failures: []error{errors.New("connection reset"), &APIError{StatusCode: 503}},
		answer:   "ok",
	}
	client, err := NewResilientClient(inner, fastRetry(3), nil)
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientClient_StopsOnPermanentFailure(t *testing.T) {
	inner := &flakyClient{failures: []error{&APIError{StatusCode: 401, Body: "bad key"}}, answer: "never"}
	client, err := NewResilientClient(inner, fastRetry(5), nil)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientClient_GivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("still down")
	inner := &flakyClient{failures: []error{boom, boom, boom, boom, boom}}
	client, err := NewResilientClient(inner, fastRetry(2), nil)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientClient_DoesNotRetryBadAnswers(t *testing.T) {
	for name, failure := range map[string]error{
		"empty":     fmt.Errorf("nim: %w", ErrEmptyResponse),
		"malformed": fmt.Errorf("ollama: %w: %w", ErrMalformedResponse, errors.New("invalid character '<'")),
	} {
		t.Run(name, func(t *testing.T) {
			inner := &flakyClient{failures: []error{failure}, answer: "never"}
			client, err := NewResilientClient(inner, fastRetry(3), nil)
			require.NoError(t, err)

			_, err = client.Generate(context.Background(), "p", GenerationParams{})
			assert.ErrorIs(t, err, failure)
			assert.Equal(t, 1, inner.calls)
		})
	}
}

func TestResilientClient_ZeroRetriesCallsOnce(t *testing.T) {
	boom := errors.New("down")
	inner := &flakyClient{failures: []error{boom}}
	client, err := NewResilientClient(inner, fastRetry(0), nil)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientClient_CancelledContext(t *testing.T) {
	inner := &flakyClient{answer: "ok"}
	client, err := NewResilientClient(inner, ResilientConfig{RequestsPerSecond: 0.001}, nil)
	require.NoError(t, err)

	// First call drains the single burst token.
	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.Generate(ctx, "p", GenerationParams{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestNewResilientClient_Validation(t *testing.T) {
	_, err := NewResilientClient(nil, ResilientConfig{}, nil)
	assert.Error(t, err)

	_, err = NewResilientClient(&flakyClient{}, ResilientConfig{RequestsPerSecond: -1}, nil)
	assert.Error(t, err)
}
