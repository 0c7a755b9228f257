package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

const checkTimeout = 2 * time.Second

// HealthChecker probes one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthManager runs registered checkers and reports aggregate health.
type HealthManager struct {
	version  string
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// HealthResponse is the body of a successful health probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named dependency probe.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	results := make(map[string]string, len(checkers))
	for name, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.CheckHealth(checkCtx)
		cancel()
		switch {
		case err == nil:
			results[name] = "healthy"
		case checkCtx.Err() == context.DeadlineExceeded:
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
	}
	return results
}

// determineOverallStatus folds check results: any unhealthy check makes the
// whole service unhealthy, timeouts degrade it, otherwise it is healthy.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, s := range checks {
		switch s {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

// HealthHandler serves the full health probe: 200 with per-check results, or
// 503 with the error envelope when any dependency is down.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		details := map[string]any{"checks": checks}
		apperrors.WriteEnvelope(w, apperrors.HTTPErrorResponse{
			Error: apperrors.HTTPErrorBody{
				Code:    "SERVICE_UNAVAILABLE",
				Message: "one or more health checks failed",
				Details: details,
			},
		}, http.StatusServiceUnavailable)
		return
	}

	writeHealthJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is up, nothing more.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	})
}

// ReadinessHandler mirrors the full health probe for readiness gates.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler reports whether initial setup finished. Construction of the
// manager implies it did.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, HealthResponse{
		Status:    "started",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	})
}

func writeHealthJSON(w http.ResponseWriter, status int, body HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide health manager used by the
// package-level handlers.
func InitHealthManager(version string) *HealthManager {
	globalHealthManager = NewHealthManager(version)
	return globalHealthManager
}

// GetHealthManager returns the process-wide manager, or nil before init.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(fn func(m *HealthManager, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager == nil {
			apperrors.WriteEnvelope(w, apperrors.HTTPErrorResponse{
				Error: apperrors.HTTPErrorBody{
					Code:    "SERVICE_UNAVAILABLE",
					Message: "health manager not initialized",
				},
			}, http.StatusServiceUnavailable)
			return
		}
		fn(globalHealthManager, w, r)
	}
}

// HealthHandler serves /health using the global manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager((*HealthManager).HealthHandler)(w, r)
}

// LivenessHandler serves /health/live using the global manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager((*HealthManager).LivenessHandler)(w, r)
}

// ReadinessHandler serves /health/ready using the global manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager((*HealthManager).ReadinessHandler)(w, r)
}

// StartupHandler serves /health/startup using the global manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager((*HealthManager).StartupHandler)(w, r)
}
