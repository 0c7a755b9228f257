package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// Throttle rejects requests beyond the given rate with 429. It guards the
// submission endpoints so a runaway client cannot flood the job queue.
func Throttle(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeErrorResponse(w, apperrors.HTTPErrorBody{
					Code:      "RATE_LIMITED",
					Message:   "too many submissions, slow down",
					RequestID: GetRequestID(r.Context()),
				}, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
