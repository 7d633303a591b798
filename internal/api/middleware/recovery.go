package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery catches panics from downstream handlers, logs them with the stack
// trace, and answers with an RFC 7807 internal-error response.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					correlationID := GetCorrelationID(r.Context())

					logger.Error("request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("correlation_id", correlationID),
						slog.Any("panic", rec),
						slog.String("stack_trace", string(debug.Stack())),
					)

					err := writeProblem(w, r, http.StatusInternalServerError,
						"An unexpected error occurred while processing the request", correlationID)
					if err != nil {
						logger.Error("failed to write panic response",
							slog.String("correlation_id", correlationID),
							slog.String("error", err.Error()),
						)
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
