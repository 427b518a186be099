/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the execution
// engine.
//
// Spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the model provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens — tokens consumed
//   - gen_ai.usage.output_tokens — tokens generated
//
// Custom span attributes use the `agentengine.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "agent-engine/supervisor"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // always plaintext gRPC; TLS is not configured
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("agent-engine"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartExecutionSpan creates the parent span for one Supervisor.Execute call.
func StartExecutionSpan(ctx context.Context, definitionID, tenantID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.execute",
		trace.WithAttributes(
			attribute.String("agentengine.definition_id", definitionID),
			attribute.String("agentengine.tenant_id", tenantID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartCompileSpan creates a child span for schema compilation.
func StartCompileSpan(ctx context.Context, definitionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.compile_schema",
		trace.WithAttributes(
			attribute.String("agentengine.definition_id", definitionID),
		),
	)
}

// StartModelCallSpan creates a child span for a ModelProvider call, following GenAI conventions.
func StartModelCallSpan(ctx context.Context, model, provider, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
			attribute.String("agentengine.step_kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndModelCallSpan enriches the model-call span with usage data.
func EndModelCallSpan(span trace.Span, inputTokens, outputTokens int64) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
	)
	span.End()
}

// StartStepSpan creates a child span for one workflow step.
func StartStepSpan(ctx context.Context, stepName, stepKind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.step",
		trace.WithAttributes(
			attribute.String("agentengine.step_name", stepName),
			attribute.String("agentengine.step_kind", stepKind),
		),
	)
}

// EndStepSpan enriches the step span with result data.
func EndStepSpan(span trace.Span, exitCode string, blocked bool, blockReason string) {
	span.SetAttributes(
		attribute.String("agentengine.exit_code", exitCode),
		attribute.Bool("agentengine.blocked", blocked),
	)
	if blocked {
		span.SetAttributes(attribute.String("agentengine.block_reason", blockReason))
	}
	span.End()
}

// StartOutboundCallSpan creates a child span for an outbound call to a
// host-collaborator (VectorStore, ToolClient, CustomFunctions).
func StartOutboundCallSpan(ctx context.Context, collaborator, operation string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.outbound_call",
		trace.WithAttributes(
			attribute.String("agentengine.collaborator", collaborator),
			attribute.String("agentengine.operation", operation),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
