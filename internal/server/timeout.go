package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// TimeoutMiddleware gives each prediction a deadline. The pipeline checks
// ctx between stages, so a slow model or stage ends in a 504 rather than a
// held connection. Zero disables it.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	budget := timeout.String()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				AddLogField(r.Context(), "deadline_exceeded", budget)
			}
		})
	}
}
