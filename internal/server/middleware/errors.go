package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
	"github.com/cyclicchamp/cyclictools/internal/observability"
)

// ErrorResponse is the JSON envelope written for recovered panics. It shares
// its shape with apperrors.HTTPErrorResponse so clients see one format.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts panics into a 500 response with the standard error
// envelope instead of tearing down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.CLILogger.Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", GetRequestID(r.Context())))
				writeErrorResponse(w, apperrors.HTTPErrorBody{
					Code:      string(apperrors.CodeInternal),
					Message:   fmt.Sprintf("panic: %v", rec),
					RequestID: GetRequestID(r.Context()),
				}, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery kept for middleware chains that name
// the concern rather than the mechanism.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, body apperrors.HTTPErrorBody, status int) {
	apperrors.WriteEnvelope(w, apperrors.HTTPErrorResponse{Error: body}, status)
}
