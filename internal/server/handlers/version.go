package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// VersionResponse describes the running build.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}

var buildInfo = VersionResponse{Version: "dev", GoVersion: runtime.Version()}

// SetVersionInfo records build metadata injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	if version != "" {
		buildInfo.Version = version
	}
	buildInfo.Commit = commit
	buildInfo.BuildDate = buildDate
}

// VersionHandler serves /version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(buildInfo)
}
