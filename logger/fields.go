package logger

import (
	"time"
)

// Field keys shared by every llmhub component.
const (
	FieldComponent      = "component"
	FieldProvider       = "provider"
	FieldModel          = "model"
	FieldConversationID = "conversation_id"
	FieldPhase          = "phase"
	FieldTurnID         = "turn_id"
	FieldAttempt        = "attempt"
	FieldStatus         = "status"
	FieldError          = "error"
	FieldErrorKind      = "error_kind"
	FieldDuration       = "duration_ms"
	FieldTokensIn       = "tokens_in"
	FieldTokensOut      = "tokens_out"
	FieldBytes          = "bytes"
	FieldTraceID        = "trace_id"
	FieldSpanID         = "span_id"
)

// Fields builds a map from alternating key-value pairs. Non-string keys are skipped.
//
//	logger.Info("done", logger.Fields("op", "save", "id", 42))
func Fields(kvs ...any) map[string]any {
	m := make(map[string]any, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an operation that failed.
func ErrorFields(op string, err error) map[string]any {
	return map[string]any{
		"operation": op,
		FieldError:  err.Error(),
	}
}

// MergeWithDuration adds a duration field to an existing map.
func MergeWithDuration(fields map[string]any, d time.Duration) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields[FieldDuration] = d.Milliseconds()
	return fields
}
