// Package handlers implements the HTTP endpoints of the API server.
package handlers

import (
	"net/http"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// HTTPErrorResponder writes an error to the response. Pluggable so embedding
// applications can swap the envelope format.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// SetHTTPErrorResponder overrides how handlers serialize errors. Passing nil
// restores the default.
func SetHTTPErrorResponder(responder HTTPErrorResponder) {
	if responder == nil {
		httpErrorResponder = defaultErrorResponder
		return
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default error responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
