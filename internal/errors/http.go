package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPErrorResponse is the JSON envelope returned by every failing API call.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPStatus maps a structured code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithError writes err as the standard JSON envelope. The request id
// is taken from the X-Request-ID header when present (the RequestID
// middleware echoes it there).
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	body := HTTPErrorBody{
		Code:    string(CodeInternal),
		Message: "internal error",
	}
	var e *Error
	if As(err, &e) {
		body.Code = string(e.Code)
		body.Message = e.Message
		body.Details = e.Details
		if e.Param != "" {
			if body.Details == nil {
				body.Details = map[string]any{}
			}
			body.Details["parameter"] = e.Param
		}
	} else if err != nil {
		body.Message = err.Error()
	}
	if r != nil {
		body.RequestID = r.Header.Get("X-Request-ID")
	}

	WriteEnvelope(w, HTTPErrorResponse{Error: body}, HTTPStatus(Code(body.Code)))
}

// WriteEnvelope serializes an error envelope with an explicit status code.
func WriteEnvelope(w http.ResponseWriter, resp HTTPErrorResponse, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
