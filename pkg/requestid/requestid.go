// Package requestid carries a per-request correlation id through the context.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func Generate() string {
	return uuid.New().String()
}

func ToContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromContext returns the request id, or the empty string when none was set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContextPtr is FromContext shaped for optional wire fields; it returns
// nil when no id was set.
func FromContextPtr(ctx context.Context) *string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return &id
	}
	return nil
}

func FromRequest(r *http.Request) string {
	return FromContext(r.Context())
}
