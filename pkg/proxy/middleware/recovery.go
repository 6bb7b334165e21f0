package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"ntonix-ai/ntonix/pkg/proxy/types"
)

// Recovery recovers from panics in HTTP handlers and returns a 500
// JSON error. The panic is logged with its stack trace; clients see no
// internal detail.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(r.Context())
				stack := debug.Stack()

				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(stack),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(types.ErrorBody{Error: "Internal proxy error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
