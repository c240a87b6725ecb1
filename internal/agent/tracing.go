package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goyais/worker/internal/providers"
	"github.com/goyais/worker/pkg/protocol"
)

// Spans are no-ops until telemetry installs a global tracer provider.
var tracer = otel.Tracer("github.com/goyais/worker/internal/agent")

// startRunSpan opens the root span for one execution.
func startRunSpan(ctx context.Context, executionID, mode, modelID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("execution.mode", mode),
			attribute.String("model.id", modelID),
		))
}

// traceTerminal annotates the run span with the terminal event as it passes
// through emit.
func traceTerminal(span trace.Span, emit EmitFn) EmitFn {
	return func(eventType string, payload map[string]any) {
		if protocol.IsTerminalEvent(eventType) {
			span.SetAttributes(attribute.String("execution.terminal_event", eventType))
			if reason, ok := payload["reason"].(string); ok {
				span.SetAttributes(attribute.String("execution.terminal_reason", reason))
			}
			if eventType == protocol.EventExecutionError {
				span.SetStatus(codes.Error, "execution failed")
			}
		}
		emit(eventType, payload)
	}
}

func startTurnSpan(ctx context.Context, turn int, vendor, modelID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.model_turn",
		trace.WithAttributes(
			attribute.Int("turn", turn),
			attribute.String("model.vendor", vendor),
			attribute.String("model.id", modelID),
		))
}

func endTurnSpan(span trace.Span, result *providers.TurnResult, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("model.input_tokens", result.Usage.InputTokens),
		attribute.Int("model.output_tokens", result.Usage.OutputTokens),
		attribute.Int("model.tool_calls", len(result.ToolCalls)),
	)
}

func startToolSpan(ctx context.Context, call providers.ToolCall, riskLevel string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
			attribute.String("tool.risk_level", riskLevel),
		))
}

func endToolSpan(span trace.Span, ok bool) {
	defer span.End()
	if !ok {
		span.SetStatus(codes.Error, "tool failed")
	}
}
