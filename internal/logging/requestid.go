package logging

import "context"

type requestIDKey struct{}

// NewRequestIDContext stores the id a transport assigned to the current
// request so that deeper layers report the same one.
func NewRequestIDContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id stored by NewRequestIDContext.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
