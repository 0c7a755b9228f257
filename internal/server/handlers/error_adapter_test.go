package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	t.Run("sets custom responder", func(t *testing.T) {
		called := false
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		})

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, assert.AnError)

		assert.True(t, called)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("nil restores the default envelope", func(t *testing.T) {
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusTeapot)
		})
		SetHTTPErrorResponder(nil)

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, apperrors.NotFound("job job_x not found"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var resp apperrors.HTTPErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	})
}

func TestResetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	customCalled := false
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		customCalled = true
	})
	ResetHTTPErrorResponder()

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	respondWithError(rec, req, apperrors.Conflict("job job_x is still running"))

	assert.False(t, customCalled)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespondWithError_ForwardsError(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusInternalServerError)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	respondWithError(rec, req, assert.AnError)

	assert.Equal(t, assert.AnError, captured)
}
