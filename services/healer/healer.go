// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package healer assembles the self-healing auditor service.
//
// It wires configuration into the reflection loop, the LLM transport, the
// session store, metrics, tracing and the HTTP router:
//
//	config.Config
//	     │
//	     ├─► telemetry.Init        (tracer provider)
//	     ├─► NewLLMClient          (backend + retry/rate limit)
//	     ├─► NewEngine             (auditor, fixer, router, FSM)
//	     ├─► storage.Open          (optional badger store)
//	     └─► routes.SetupRoutes    (gin, otelgin, CORS)
package healer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codeheal/services/healer/capability"
	"github.com/AleutianAI/codeheal/services/healer/config"
	"github.com/AleutianAI/codeheal/services/healer/handlers"
	"github.com/AleutianAI/codeheal/services/healer/loop"
	"github.com/AleutianAI/codeheal/services/healer/middleware"
	"github.com/AleutianAI/codeheal/services/healer/observability"
	"github.com/AleutianAI/codeheal/services/healer/routes"
	"github.com/AleutianAI/codeheal/services/healer/storage"
	"github.com/AleutianAI/codeheal/services/healer/telemetry"
	"github.com/AleutianAI/codeheal/services/llm"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// =============================================================================
// Options
// =============================================================================

// Options overrides the collaborators New would otherwise build from
// configuration. A nil *Options means "build everything".
type Options struct {
	// Analyzer and Remediator replace the LLM-backed capabilities. Both
	// must be set together.
	Analyzer   loop.Analyzer
	Remediator loop.Remediator

	// Registry receives the service metrics and backs /metrics. Nil means
	// a fresh registry with Go and process collectors.
	Registry *prometheus.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// TraceWriter receives spans when the stdout exporter is selected.
	TraceWriter io.Writer
}

// =============================================================================
// Service
// =============================================================================

// Service is the running healer: engine, store, metrics and router.
//
// Thread Safety:
//
//	Safe for concurrent requests once New returns. Run or Serve is called
//	at most once.
type Service struct {
	cfg            config.Config
	logger         *slog.Logger
	engine         *loop.Engine
	metrics        *observability.HealingMetrics
	registry       *prometheus.Registry
	store          *storage.BadgerStore
	router         *gin.Engine
	shutdownTracer telemetry.ShutdownFunc
	closeOnce      sync.Once
	closeErr       error
}

// New builds a Service from cfg.
//
// Description:
//
//	Initializes tracing, metrics, the reflection loop, the optional session
//	store and the HTTP router, in that order. On failure everything opened
//	so far is released.
//
// Inputs:
//
//	ctx - Used while creating the trace exporter.
//	cfg - Validated configuration.
//	opts - Optional overrides. May be nil.
//
// Outputs:
//
//	*Service - Ready to Run. Caller must Close it if Run is never called.
//	error - Non-nil if any component fails to initialize.
func New(ctx context.Context, cfg config.Config, opts *Options) (*Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	if (opts.Analyzer == nil) != (opts.Remediator == nil) {
		return nil, errors.New("healer: analyzer and remediator must be overridden together")
	}

	s := &Service{cfg: cfg, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Server.ServiceName,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Writer:       opts.TraceWriter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.shutdownTracer = shutdown

	s.registry = opts.Registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = observability.NewHealingMetrics(s.registry)

	s.engine, err = NewEngine(cfg, opts.Analyzer, opts.Remediator, s.metrics, s.logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if cfg.Storage.Path != "" {
		storeCfg := storage.DefaultConfig(cfg.Storage.Path)
		storeCfg.TTL = cfg.Storage.TTL
		storeCfg.Logger = s.logger
		s.store, err = storage.Open(storeCfg)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
	}

	if err := s.initRouter(); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.logBanner()
	return s, nil
}

// NewEngine builds the reflection loop from cfg.
//
// Description:
//
//	When analyzer and remediator are nil both are built on one shared LLM
//	client from cfg.LLM, so retries and rate limiting apply across audit
//	and fix calls alike.
//
// Inputs:
//
//	cfg - Configuration; Loop and LLM sections are used.
//	analyzer, remediator - Optional capability overrides.
//	observer - Receives loop events. May be nil.
//	logger - May be nil.
//
// Outputs:
//
//	*loop.Engine - The engine.
//	error - Non-nil if the LLM client or engine cannot be built.
func NewEngine(cfg config.Config, analyzer loop.Analyzer, remediator loop.Remediator,
	observer loop.Observer, logger *slog.Logger) (*loop.Engine, error) {

	if analyzer == nil || remediator == nil {
		client, err := NewLLMClient(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		a, err := capability.NewLLMAnalyzer(client, llm.GenerationParams{
			Temperature: llm.Float32(cfg.LLM.AuditTemperature),
			MaxTokens:   llm.Int(cfg.LLM.AuditMaxTokens),
		})
		if err != nil {
			return nil, err
		}
		r, err := capability.NewLLMRemediator(client, llm.GenerationParams{
			Temperature: llm.Float32(cfg.LLM.FixTemperature),
			MaxTokens:   llm.Int(cfg.LLM.FixMaxTokens),
		})
		if err != nil {
			return nil, err
		}
		analyzer, remediator = a, r
	}

	engine, err := loop.NewEngine(analyzer, remediator, loop.EngineConfig{
		MaxIterations: cfg.Loop.MaxIterations,
		CallTimeout:   cfg.Loop.CallTimeout,
		ParsePolicy:   loop.ParsePolicy(cfg.Loop.ParsePolicy),
		Observer:      observer,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build reflection loop: %w", err)
	}
	return engine, nil
}

// NewLLMClient creates the configured backend wrapped in retry and rate
// limiting.
func NewLLMClient(cfg config.LLMConfig, logger *slog.Logger) (llm.LLMClient, error) {
	var (
		inner llm.LLMClient
		err   error
	)

	switch cfg.Backend {
	case "nim":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = llm.NIMBaseURL
		}
		model := cfg.Model
		if model == "" {
			model = llm.DefaultNIMModel
		}
		inner, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			Backend: "nim", APIKey: cfg.APIKey, BaseURL: baseURL, Model: model,
		})
	case "openai":
		inner, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			Backend: "openai", APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model,
		})
	case "anthropic":
		inner, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model,
		})
	case "ollama":
		inner, err = llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.BaseURL, Model: cfg.Model, Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return llm.NewResilientClient(inner, llm.ResilientConfig{
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger)
}

func (s *Service) initRouter() error {
	gin.SetMode(s.cfg.Server.GinMode)

	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(s.cfg.Server.ServiceName),
		middleware.RequestLogger(s.logger),
		middleware.CORS(),
	)

	auditCfg := handlers.AuditHandlerConfig{
		MaxConcurrentSessions: s.cfg.Server.MaxConcurrentSessions,
		Tracker:               s.metrics,
		Logger:                s.logger,
	}
	deps := routes.Dependencies{
		ServiceName: s.cfg.Server.ServiceName,
		Gatherer:    s.registry,
		FrontendDir: s.cfg.Server.FrontendDir,
	}
	// A typed nil store would still register the session routes.
	if s.store != nil {
		auditCfg.Store = s.store
		deps.Store = s.store
	}

	audit, err := handlers.NewAuditHandler(s.engine, auditCfg)
	if err != nil {
		return err
	}
	deps.Audit = audit
	return routes.SetupRoutes(s.router, deps)
}

func (s *Service) logBanner() {
	storeDesc := "disabled"
	if s.store != nil {
		storeDesc = s.cfg.Storage.Path
	}
	s.logger.Info("Self-healing code auditor ready",
		"service", s.cfg.Server.ServiceName,
		"llm_backend", s.cfg.LLM.Backend,
		"llm_model", s.cfg.LLM.Model,
		"max_iterations", s.engine.MaxIterations(),
		"parse_policy", s.cfg.Loop.ParsePolicy,
		"max_concurrent_sessions", s.cfg.Server.MaxConcurrentSessions,
		"session_store", storeDesc,
		"trace_exporter", s.cfg.Telemetry.Exporter,
	)
}

// Router returns the configured gin engine.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Engine returns the reflection loop.
func (s *Service) Engine() *loop.Engine {
	return s.engine
}

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is done, then shuts down
// gracefully and closes the Service.
//
// Description:
//
//	In-flight healing sessions get ServerConfig.ShutdownTimeout to finish.
//	Returns nil after a clean shutdown.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting healer server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("Shutting down healer server", "timeout", timeout)
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	return errors.Join(err, s.Close())
}

// Close releases the store and flushes traces. Safe to call twice.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close session store: %w", err))
			}
		}
		if s.shutdownTracer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.shutdownTracer(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
