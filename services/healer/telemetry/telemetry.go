// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUnknownExporter is returned for an exporter name Init does not know.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config controls tracing.
type Config struct {
	// ServiceName identifies this process in traces.
	ServiceName string

	// Exporter is "none", "stdout" or "otlp".
	Exporter string

	// OTLPEndpoint is the collector's gRPC address, e.g. "localhost:4317".
	OTLPEndpoint string

	// Writer receives stdout spans. Nil means os.Stdout.
	Writer io.Writer
}

// ShutdownFunc flushes pending spans and releases exporter resources.
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider.
//
// Description:
//
//	With "none" the global no-op provider stays in place and only the
//	W3C propagator is installed, so incoming trace headers still flow
//	through to outgoing LLM calls. "stdout" pretty-prints spans;
//	"otlp" batches them to a collector over an insecure gRPC connection.
//
// Inputs:
//
//	ctx - Used while creating the exporter.
//	cfg - Tracing configuration.
//
// Outputs:
//
//	ShutdownFunc - Must be called on exit. Never nil on success.
//	error - Non-nil for an unknown exporter or exporter setup failure.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	var (
		exporter sdktrace.SpanExporter
		cleanup  []func() error
		err      error
	)

	switch cfg.Exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil

	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())

	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, errors.New("otlp exporter requires an endpoint")
		}
		conn, connErr := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if connErr != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", connErr)
		}
		cleanup = append(cleanup, conn.Close)
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		for _, fn := range cleanup {
			_ = fn()
		}
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		errs := []error{tp.Shutdown(ctx)}
		for _, fn := range cleanup {
			errs = append(errs, fn())
		}
		return errors.Join(errs...)
	}, nil
}
