// Package observability wires OpenTelemetry tracing and metrics for llmhub.
//
// Bootstrap exporters once per process:
//
//	shutdown, err := observability.Init(ctx, observability.DefaultConfig("chat-api"))
//	defer shutdown(ctx)
//
// Instruments for provider exchanges live in LLMMetrics; the llm package's
// MetricsObserver records into them. Provider health is summarised with
// Check and Report.
package observability
