package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	internalTokenHeader = "X-Internal-Token"
	traceHeader         = "X-Trace-Id"
	bearerPrefix        = "Bearer "
)

type traceKey struct{}

// traceMiddleware adopts the caller's trace id or mints one, stores it on
// the request context, echoes it on the response, and logs the request.
func (s *Server) traceMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get(traceHeader))
		if traceID == "" {
			traceID = newTraceID()
		}
		w.Header().Set(traceHeader, traceID)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "trace_id", traceID)
		next(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, traceID)))
	}
}

// authMiddleware gates internal endpoints on the worker internal token. An
// unconfigured token answers 503 so a misdeployed worker fails loudly
// instead of accepting anything.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := s.cfg.ResolveInternalToken()
		if expected == "" {
			writeError(w, r, http.StatusServiceUnavailable, "AUTH_INTERNAL_TOKEN_NOT_CONFIGURED",
				"Internal token is not configured", map[string]any{"env": "WORKER_INTERNAL_TOKEN"})
			return
		}

		provided := extractInternalToken(r)
		if provided == "" {
			writeError(w, r, http.StatusUnauthorized, "AUTH_INTERNAL_TOKEN_REQUIRED",
				"Internal token is required", map[string]any{"header": internalTokenHeader})
			return
		}
		if provided != expected {
			writeError(w, r, http.StatusUnauthorized, "AUTH_INVALID_INTERNAL_TOKEN",
				"Internal token is invalid", nil)
			return
		}
		next(w, r)
	}
}

// extractInternalToken reads the internal token header, falling back to a
// bearer Authorization header.
func extractInternalToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(internalTokenHeader)); token != "" {
		return token
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
}

func newTraceID() string {
	return "tr_worker_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func traceIDFrom(r *http.Request) string {
	if traceID, ok := r.Context().Value(traceKey{}).(string); ok {
		return traceID
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError emits the standard error body shared with the hub:
// {error: {code, message, details}, trace_id}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
		"trace_id": traceIDFrom(r),
	})
}
