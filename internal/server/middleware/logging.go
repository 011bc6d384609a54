package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogger logs one line per request and stores the client IP in the request context for the
// audit logger and the rate limiter. Forwarding headers count only from proxies; nil trusts none.
// An incoming X-Request-ID is reused; otherwise one is generated.
func RequestLogger(log logrus.FieldLogger, proxies *TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" || len(requestID) > 64 {
				requestID = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ip := proxies.ClientIP(r)
			r = r.WithContext(WithClientIP(r.Context(), ip))

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			entry := log.WithFields(logrus.Fields{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        redactPath(r.URL.Path),
				"status":      wrapped.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"client_ip":   ip,
			})
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				entry.Error("http request")
			case wrapped.statusCode >= http.StatusBadRequest:
				entry.Warn("http request")
			default:
				entry.Info("http request")
			}
		})
	}
}

// tokenPathPrefixes are routes whose last segment is a raw invitation token.
var tokenPathPrefixes = []string{"/sign-up/", "/api/sign-up/", "/api/invitations/validate/"}

// redactPath hides the token segment of invitation routes.
func redactPath(p string) string {
	for _, prefix := range tokenPathPrefixes {
		if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
			return prefix + "[redacted]"
		}
	}
	return p
}
