// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package healer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codeheal/services/healer/config"
	"github.com/AleutianAI/codeheal/services/healer/datatypes"
	"github.com/AleutianAI/codeheal/services/healer/loop"
	"github.com/AleutianAI/codeheal/services/llm"
)

// ============================================================================
// Test Setup
// ============================================================================

const (
	unsafeReport = `{"is_safe": false, "vulnerabilities": [{"severity": "high",
		"description": "eval of user input", "cwe_id": "CWE-95",
		"suggested_fix_snippet": "ast.literal_eval(x)"}], "summary": "1 issue"}`
	safeReport = `{"is_safe": true, "vulnerabilities": [], "summary": "clean"}`
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.GinMode = "test"
	cfg.Storage.Path = ":memory:"
	cfg.LLM.APIKey = "unused"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// healsOnce reports unsafe on the first audit and safe afterwards.
func healsOnce() (loop.Analyzer, loop.Remediator) {
	var audits atomic.Int32
	analyzer := loop.AnalyzerFunc(func(context.Context, string) (string, error) {
		if audits.Add(1) == 1 {
			return unsafeReport, nil
		}
		return safeReport, nil
	})
	remediator := loop.RemediatorFunc(func(context.Context, string, []datatypes.Vulnerability) (string, error) {
		return "```python\nast.literal_eval(x)\n```", nil
	})
	return analyzer, remediator
}

func newTestService(t *testing.T, cfg config.Config) *Service {
	t.Helper()
	a, r := healsOnce()
	svc, err := New(context.Background(), cfg, &Options{
		Analyzer:   a,
		Remediator: r,
		Registry:   prometheus.NewRegistry(),
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// ============================================================================
// New / Router
// ============================================================================

func TestNew_ServesAuditAndSessions(t *testing.T) {
	svc := newTestService(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/audit", strings.NewReader(`{"code": "eval(x)"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.HealingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.StatusHealed, resp.FinalStatus)
	assert.Equal(t, "ast.literal_eval(x)", resp.FinalCode)
	assert.Equal(t, 3, resp.MaxIterations)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/"+resp.SessionID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `codeheal_loop_sessions_total{outcome="healed"} 1`)
}

func TestNew_CORSPreflight(t *testing.T) {
	svc := newTestService(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/audit", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNew_WithoutStoreHasNoSessionRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Path = ""
	svc := newTestService(t, cfg)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNew_HealthUsesServiceName(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ServiceName = "auditor-test"
	svc := newTestService(t, cfg)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.JSONEq(t, `{"status": "healthy", "service": "auditor-test"}`, w.Body.String())
}

func TestNew_PartialOverrideRejected(t *testing.T) {
	a, _ := healsOnce()
	_, err := New(context.Background(), testConfig(), &Options{Analyzer: a})
	assert.Error(t, err)
}

func TestNew_MissingAPIKeyFails(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.APIKey = ""
	_, err := New(context.Background(), cfg, &Options{Registry: prometheus.NewRegistry(), Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM client")
}

func TestNew_BuildsLLMBackedEngine(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		content, _ := json.Marshal(safeReport)
		_, _ = fmt.Fprintf(w, `{"id": "c", "choices": [{"index": 0, "message": {"role": "assistant", "content": %s}}]}`, content)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.LLM.Backend = "openai"
	cfg.LLM.BaseURL = server.URL
	cfg.LLM.Model = "gpt-test"

	svc, err := New(context.Background(), cfg, &Options{Registry: prometheus.NewRegistry(), Logger: quietLogger()})
	require.NoError(t, err)
	defer svc.Close()

	resp, err := svc.Engine().Heal(context.Background(), "print(1)")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusSafe, resp.FinalStatus)
	assert.Equal(t, int32(1), calls.Load())
}

// ============================================================================
// Serve / Close
// ============================================================================

func TestServe_GracefulShutdown(t *testing.T) {
	svc := newTestService(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = http.Get(url)
	assert.Error(t, err, "listener should be closed")
}

func TestRun_BadAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "256.256.256.256"
	svc := newTestService(t, cfg)

	err := svc.Run(context.Background())
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	svc := newTestService(t, testConfig())
	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

// ============================================================================
// NewLLMClient
// ============================================================================

func TestNewLLMClient_Backends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr bool
	}{
		{"nim", config.LLMConfig{Backend: "nim", APIKey: "k"}, false},
		{"openai", config.LLMConfig{Backend: "openai", APIKey: "k"}, false},
		{"anthropic", config.LLMConfig{Backend: "anthropic", APIKey: "k"}, false},
		{"ollama", config.LLMConfig{Backend: "ollama", BaseURL: "http://localhost:11434"}, false},
		{"nim without key", config.LLMConfig{Backend: "nim"}, true},
		{"ollama without url", config.LLMConfig{Backend: "ollama"}, true},
		{"unknown", config.LLMConfig{Backend: "watson", APIKey: "k"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewLLMClient(tt.cfg, quietLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, ok := client.(*llm.ResilientClient)
			assert.True(t, ok, "clients are wrapped for retry")
		})
	}
}

func TestNewEngine_UsesLoopConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Loop.MaxIterations = 0

	a, r := healsOnce()
	engine, err := NewEngine(cfg, a, r, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, engine.MaxIterations())

	resp, err := engine.Heal(context.Background(), "eval(x)")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusMaxIterationsReached, resp.FinalStatus)
	assert.Len(t, resp.History, 1)
}

func TestNewEngine_InvalidPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Loop.ParsePolicy = "sometimes"

	a, r := healsOnce()
	_, err := NewEngine(cfg, a, r, nil, nil)
	assert.Error(t, err)
}
