package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
	"github.com/cyclicchamp/cyclictools/pkg/analysis"
	"github.com/cyclicchamp/cyclictools/pkg/jobs"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// JobsHandler serves the /v1/jobs and /v1/batches endpoints.
type JobsHandler struct {
	manager *jobs.Manager
	ops     *analysis.Registry
}

func NewJobsHandler(manager *jobs.Manager, ops *analysis.Registry) *JobsHandler {
	return &JobsHandler{manager: manager, ops: ops}
}

type submitRequest struct {
	Operation string         `json:"operation"`
	Label     string         `json:"label,omitempty"`
	Arguments map[string]any `json:"arguments"`
}

type batchRequest struct {
	Operation string           `json:"operation"`
	Label     string           `json:"label,omitempty"`
	ArgSets   []map[string]any `json:"arg_sets"`
}

type jobListResponse struct {
	Jobs  []*jobs.Record `json:"jobs"`
	Count int            `json:"count"`
}

type logResponse struct {
	JobID      string   `json:"job_id"`
	Lines      []string `json:"lines"`
	TotalLines int      `json:"total_lines"`
	Tail       int      `json:"tail"`
}

// Submit handles POST /v1/jobs.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	rec, err := h.manager.Submit(r.Context(), req.Operation, req.Label, req.Arguments)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// List handles GET /v1/jobs with an optional ?status= filter.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.manager.List(r.URL.Query().Get("status"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: records, Count: len(records)})
}

// Get handles GET /v1/jobs/{jobID}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.manager.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Result handles GET /v1/jobs/{jobID}/result.
func (h *JobsHandler) Result(w http.ResponseWriter, r *http.Request) {
	env, err := h.manager.Result(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// Log handles GET /v1/jobs/{jobID}/log with an optional ?tail= count.
func (h *JobsHandler) Log(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	tail := 0
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, r, apperrors.InvalidArgument("tail", "must be an integer, got %q", raw))
			return
		}
		tail = n
	}
	lines, total, err := h.manager.Log(jobID, tail)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	full, err := h.manager.Resolve(jobID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, logResponse{JobID: full, Lines: lines, TotalLines: total, Tail: tail})
}

// Cancel handles DELETE /v1/jobs/{jobID}.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	rec, err := h.manager.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SubmitBatch handles POST /v1/batches.
func (h *JobsHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	group, err := h.manager.SubmitBatch(r.Context(), req.Operation, req.Label, req.ArgSets)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, group)
}

// GetBatch handles GET /v1/batches/{batchID}.
func (h *JobsHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.manager.BatchStatus(chi.URLParam(r, "batchID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// CancelBatch handles DELETE /v1/batches/{batchID}.
func (h *JobsHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.manager.CancelBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// OperationInfo describes one registered operation and its parameters.
type OperationInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Params      []analysis.ParamSpec `json:"params"`
}

// Operations handles GET /v1/operations.
func (h *JobsHandler) Operations(w http.ResponseWriter, r *http.Request) {
	names := h.ops.Names()
	infos := make([]OperationInfo, 0, len(names))
	for _, name := range names {
		op, err := h.ops.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, OperationInfo{
			Name:        op.Name(),
			Description: op.Description(),
			Params:      op.Params(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": infos})
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.InvalidArgument("body", "failed to read request body")
	}
	if len(body) == 0 {
		return apperrors.InvalidArgument("body", "request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.InvalidArgument("body", "invalid JSON: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
