// Package middleware provides HTTP middleware for the admin server.
package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "GuardLane/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThresholdMs flags requests that took suspiciously long.
const slowRequestThresholdMs = 1000

// Logging returns a middleware that logs every request with its method,
// path, status, and duration, correlated by a request id taken from the
// X-Request-ID header or generated.
func Logging(logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = extractClientIP(httpReq)

					requestID = httpReq.Header.Get("X-Request-ID")
				}
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}

			ctx = pkglog.WithRequestContext(ctx, requestID)

			reply, err := handler(ctx, req)

			durationMs := time.Since(startTime).Milliseconds()
			status := extractHTTPStatus(err)

			helper.Infow(
				"msg", "request completed",
				"request_id", requestID,
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", durationMs,
				"ip", ip,
			)

			if durationMs > slowRequestThresholdMs {
				helper.Warnw(
					"msg", "slow request detected",
					"request_id", requestID,
					"method", method,
					"path", path,
					"duration_ms", durationMs,
					"threshold_ms", slowRequestThresholdMs,
				)
			}

			return reply, err
		}
	}
}

// extractClientIP resolves the client IP, preferring proxy headers.
// Priority: X-Real-IP > X-Forwarded-For > RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus maps a handler error onto an HTTP status code.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	if se := kerrors.FromError(err); se != nil {
		return int(se.Code)
	}
	return 500
}
