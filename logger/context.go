package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// RequestIDKey is the context key for the dispatch request ID
	RequestIDKey ContextKey = "request_id"
	// ServiceIDKey is the context key for the logical service identifier
	ServiceIDKey ContextKey = "service"
	// AuthorityKey is the context key for the destination authority (host:port)
	AuthorityKey ContextKey = "authority"
)

// WithContextValue adds a value to the context for logging
func WithContextValue(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// ExtractContextValues extracts logging-relevant values from context
func ExtractContextValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var args []any

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		args = append(args, "request_id", requestID)
	}

	if service, ok := ctx.Value(ServiceIDKey).(string); ok {
		args = append(args, "service", service)
	}

	if authority, ok := ctx.Value(AuthorityKey).(string); ok {
		args = append(args, "authority", authority)
	}

	return args
}
