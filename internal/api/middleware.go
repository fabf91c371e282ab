package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chis/regview/internal/logging"
	"github.com/chis/regview/internal/metrics"
	"github.com/chis/regview/internal/session"
)

// CorrelationIDHeader carries the request correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationIDMiddleware adds a correlation ID to each request.
// The ID is generated if not present in the X-Correlation-ID header.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		w.Header().Set(CorrelationIDHeader, correlationID)

		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), correlationID)))
	})
}

// RequestLoggingMiddleware logs every request with its status and duration.
func RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		statusCode := wrapped.statusCode

		logger := logging.Default().WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      statusCode,
			"duration_ms": duration.Milliseconds(),
			"client_ip":   getClientIP(r),
		})
		ctx := r.Context()

		switch {
		case statusCode >= 500:
			logger.ErrorContext(ctx, "Request failed: %s %s - %d", r.Method, r.URL.Path, statusCode)
		case statusCode >= 400:
			logger.WarnContext(ctx, "Request error: %s %s - %d", r.Method, r.URL.Path, statusCode)
		case isHighFrequencyEndpoint(r.URL.Path):
			logger.DebugContext(ctx, "Request completed: %s %s - %d (%dms)", r.Method, r.URL.Path, statusCode, duration.Milliseconds())
		default:
			logger.InfoContext(ctx, "Request completed: %s %s - %d (%dms)", r.Method, r.URL.Path, statusCode, duration.Milliseconds())
		}
	})
}

// instrument records the API request histogram under the route pattern,
// which is only known once the mux has matched.
func instrument(m *metrics.Metrics, pattern string, h http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(wrapped, r)
		m.ObserveAPIRequest(r.Method, pattern, wrapped.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// isHighFrequencyEndpoint returns true for endpoints that log at debug level.
func isHighFrequencyEndpoint(path string) bool {
	switch path {
	case "/api/health", "/api/events", "/metrics":
		return true
	}
	return false
}

// SessionAuthMiddleware requires "Authorization: Bearer <token>" on every
// /api/ route except health while a session token is stored. An expired
// session is cleared and the request that found it gets 401.
func SessionAuthMiddleware(sessions *session.Store, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api/health" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, err := sessions.Bearer(r.Context(), now())
			if errors.Is(err, session.ErrSessionExpired) {
				RespondError(w, http.StatusUnauthorized, err)
				return
			}
			if err != nil {
				RespondInternalError(w, err)
				return
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="regview"`)
				RespondError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ChainMiddleware chains multiple middleware functions together.
// Middleware is applied in the order provided (first middleware wraps outermost).
func ChainMiddleware(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

