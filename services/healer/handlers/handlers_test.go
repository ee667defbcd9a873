// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
	"github.com/AleutianAI/codeheal/services/healer/loop"
	"github.com/AleutianAI/codeheal/services/healer/storage"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type healerFunc func(ctx context.Context, code string) (*datatypes.HealingResponse, error)

func (f healerFunc) Heal(ctx context.Context, code string) (*datatypes.HealingResponse, error) {
	return f(ctx, code)
}

func safeHealer() Healer {
	return healerFunc(func(_ context.Context, code string) (*datatypes.HealingResponse, error) {
		return &datatypes.HealingResponse{
			OriginalCode:    code,
			FinalCode:       code,
			FinalStatus:     datatypes.StatusSafe,
			TotalIterations: 0,
			MaxIterations:   3,
			History: []datatypes.IterationHistory{{
				Iteration:    0,
				CodeSnapshot: code,
				AuditReport:  datatypes.AuditReport{IsSafe: true, Vulnerabilities: []datatypes.Vulnerability{}},
			}},
		}, nil
	})
}

type countingTracker struct {
	started atomic.Int32
	ended   atomic.Int32
}

func (t *countingTracker) SessionStarted() func() {
	t.started.Add(1)
	return func() { t.ended.Add(1) }
}

type failingStore struct{ SessionStore }

func (failingStore) Save(context.Context, *datatypes.HealingResponse) error {
	return errors.New("disk full")
}

func newStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newAuditRouter(t *testing.T, h Healer, cfg AuditHandlerConfig) *gin.Engine {
	t.Helper()
	if cfg.MaxConcurrentSessions == 0 {
		cfg.MaxConcurrentSessions = 4
	}
	handler, err := NewAuditHandler(h, cfg)
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/audit", handler.Handle)
	if cfg.Store != nil {
		router.GET("/api/sessions", ListSessions(cfg.Store))
		router.GET("/api/sessions/:id", GetSession(cfg.Store))
	}
	return router
}

func postAudit(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/audit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func codeBody(t *testing.T, code string) string {
	t.Helper()
	b, err := json.Marshal(datatypes.CodeSubmission{Code: code})
	require.NoError(t, err)
	return string(b)
}

// ============================================================================
// POST /api/audit
// ============================================================================

func TestAuditHandler_Success(t *testing.T) {
	store := newStore(t)
	tracker := &countingTracker{}
	router := newAuditRouter(t, safeHealer(), AuditHandlerConfig{Store: store, Tracker: tracker})

	w := postAudit(router, codeBody(t, "print('hello')"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.HealingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.StatusSafe, resp.FinalStatus)
	assert.Equal(t, "print('hello')", resp.FinalCode)
	_, err := uuid.Parse(resp.SessionID)
	assert.NoError(t, err, "session id should be a UUID")

	stored, err := store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, resp.FinalStatus, stored.FinalStatus)

	assert.Equal(t, int32(1), tracker.started.Load())
	assert.Equal(t, int32(1), tracker.ended.Load())
}

func TestAuditHandler_EmptyCodePassedThrough(t *testing.T) {
	var got *string
	h := healerFunc(func(ctx context.Context, code string) (*datatypes.HealingResponse, error) {
		got = &code
		return safeHealer().Heal(ctx, code)
	})
	router := newAuditRouter(t, h, AuditHandlerConfig{})

	w := postAudit(router, `{"code": ""}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "", *got)
}

func TestAuditHandler_MalformedBody(t *testing.T) {
	called := false
	h := healerFunc(func(context.Context, string) (*datatypes.HealingResponse, error) {
		called = true
		return nil, nil
	})
	router := newAuditRouter(t, h, AuditHandlerConfig{})

	for _, body := range []string{`{"code": `, `not json`, `{"code": 42}`} {
		w := postAudit(router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)

		var errResp datatypes.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
		assert.Contains(t, errResp.Detail, "invalid request body")
	}
	assert.False(t, called)
}

func TestAuditHandler_CodeTooLarge(t *testing.T) {
	router := newAuditRouter(t, safeHealer(), AuditHandlerConfig{})

	w := postAudit(router, codeBody(t, strings.Repeat("a", datatypes.MaxCodeBytes+1)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "maximum size")
}

func TestAuditHandler_HealFailureIs500(t *testing.T) {
	tracker := &countingTracker{}
	h := healerFunc(func(context.Context, string) (*datatypes.HealingResponse, error) {
		return nil, &loop.StepError{Step: loop.StepAuditor, Iteration: 0, Err: errors.New("connection refused")}
	})
	router := newAuditRouter(t, h, AuditHandlerConfig{Tracker: tracker})

	w := postAudit(router, codeBody(t, "x = 1"))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var errResp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.True(t, strings.HasPrefix(errResp.Detail, "Error during code healing: "), errResp.Detail)
	assert.Contains(t, errResp.Detail, "connection refused")
	assert.NotContains(t, w.Body.String(), "history")
	assert.Equal(t, int32(1), tracker.ended.Load())
}

func TestAuditHandler_StoreFailureStillSucceeds(t *testing.T) {
	router := newAuditRouter(t, safeHealer(), AuditHandlerConfig{Store: failingStore{}})

	w := postAudit(router, codeBody(t, "x = 1"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditHandler_CapsConcurrentSessions(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	h := healerFunc(func(ctx context.Context, code string) (*datatypes.HealingResponse, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return safeHealer().Heal(ctx, code)
	})
	router := newAuditRouter(t, h, AuditHandlerConfig{MaxConcurrentSessions: 2})

	body := codeBody(t, "x")
	var wg sync.WaitGroup
	statuses := make([]int, 6)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i] = postAudit(router, body).Code
		}(i)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
}

func TestAuditHandler_ClientGoneWhileQueued(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var holding atomic.Bool
	h := healerFunc(func(ctx context.Context, code string) (*datatypes.HealingResponse, error) {
		holding.Store(true)
		<-release
		return safeHealer().Heal(ctx, code)
	})
	router := newAuditRouter(t, h, AuditHandlerConfig{MaxConcurrentSessions: 1})

	first := codeBody(t, "first")
	go postAudit(router, first)
	require.Eventually(t, holding.Load, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/audit", bytes.NewBufferString(codeBody(t, "second"))).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuditHandler_EndToEndWithEngine(t *testing.T) {
	unsafe := "```json\n" + `{"is_safe": false, "vulnerabilities": [{"severity": "critical",
		"description": "SQL injection", "line_number": 2, "cwe_id": "CWE-89",
		"suggested_fix_snippet": "cursor.execute(q, (name,))"}], "summary": "1 issue"}` + "\n```"
	safe := `{"is_safe": true, "vulnerabilities": [], "summary": "clean"}`

	var audits atomic.Int32
	analyzer := loop.AnalyzerFunc(func(context.Context, string) (string, error) {
		if audits.Add(1) == 1 {
			return unsafe, nil
		}
		return safe, nil
	})
	remediator := loop.RemediatorFunc(func(context.Context, string, []datatypes.Vulnerability) (string, error) {
		return "```python\ncursor.execute(q, (name,))\n```", nil
	})
	engine, err := loop.NewEngine(analyzer, remediator, loop.DefaultEngineConfig())
	require.NoError(t, err)

	store := newStore(t)
	router := newAuditRouter(t, engine, AuditHandlerConfig{Store: store})

	w := postAudit(router, codeBody(t, "name = input()\ncursor.execute(\"SELECT \" + name)"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.HealingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.StatusHealed, resp.FinalStatus)
	assert.Equal(t, 1, resp.TotalIterations)
	assert.Equal(t, "cursor.execute(q, (name,))", resp.FinalCode)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "CWE-89", resp.History[0].AuditReport.Vulnerabilities[0].CWEID)

	// The stored timeline is served back unchanged.
	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/sessions/"+resp.SessionID, nil))
	require.Equal(t, http.StatusOK, get.Code)
	var stored datatypes.HealingResponse
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &stored))
	assert.Equal(t, resp, stored)
}

func TestNewAuditHandler_Validation(t *testing.T) {
	_, err := NewAuditHandler(nil, AuditHandlerConfig{MaxConcurrentSessions: 1})
	assert.Error(t, err)

	_, err = NewAuditHandler(safeHealer(), AuditHandlerConfig{})
	assert.Error(t, err)
}

// ============================================================================
// Health and Sessions
// ============================================================================

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/api/health", HealthCheck(""))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "healthy", "service": "self-healing-auditor"}`, w.Body.String())
}

func TestGetSession_NotFound(t *testing.T) {
	router := newAuditRouter(t, safeHealer(), AuditHandlerConfig{Store: newStore(t)})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail": "session not found"}`, w.Body.String())
}

func TestListSessions(t *testing.T) {
	router := newAuditRouter(t, safeHealer(), AuditHandlerConfig{Store: newStore(t)})

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, postAudit(router, codeBody(t, "x")).Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []datatypes.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Sessions, 2)
	for _, s := range body.Sessions {
		assert.Equal(t, datatypes.StatusSafe, s.FinalStatus)
	}
}

func TestListSessions_EmptyIsArray(t *testing.T) {
	router := newAuditRouter(t, safeHealer(), AuditHandlerConfig{Store: newStore(t)})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions": []}`, w.Body.String())
}

func TestListSessions_BadLimit(t *testing.T) {
	router := newAuditRouter(t, safeHealer(), AuditHandlerConfig{Store: newStore(t)})

	for _, q := range []string{"0", "-1", "abc", "501"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions?limit="+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}
