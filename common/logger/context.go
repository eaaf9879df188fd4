package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment so a handler deep in the router logs
// the webhook and connection it is working on without threading them by hand.
type LogFields struct {
	WebhookID    *int64  // WebhookRecord ID
	ConnectionID *int64  // ATS connection ID
	MessageID    *string // Redis stream message ID
	EventType    *string // Canonical event type (e.g., "hire_completed")
	Provider     *string // ATS provider name
	WorkerID     *string // Lease owner identity
	Component    string  // Component name (OTel semantic convention style, e.g., "atsbridge.pipeline.processor")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.WebhookID != nil {
		result.WebhookID = new.WebhookID
	}
	if new.ConnectionID != nil {
		result.ConnectionID = new.ConnectionID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.EventType != nil {
		result.EventType = new.EventType
	}
	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.WorkerID != nil {
		result.WorkerID = new.WorkerID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{WebhookID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
