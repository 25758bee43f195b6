package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type for the request context.
type contextKey string

const requestContextKey contextKey = "guardlane_request_context"

// RequestContext carries request tracing information across the call
// chain so log lines from any layer can be correlated.
type RequestContext struct {
	RequestID string
	StartTime time.Time
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10-character base36 request id, for
// example mgrn0zfqda. Cheaper than a UUID and short enough to grep.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext, usually from middleware at
// the start of a request.
func WithRequestContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: requestID,
		StartTime: time.Now(),
	})
}

// GetRequestContext extracts the RequestContext, returning a placeholder
// when none was injected so callers never need a nil check.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID extracts the request id from ctx.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}
