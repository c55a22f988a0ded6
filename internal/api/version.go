package api

import (
	"encoding/json"
	"net/http"
	"runtime"
)

type versionResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// VersionHandler reports build metadata injected with -ldflags. Empty values
// fall back to "dev" and "unknown".
func VersionHandler(version, gitCommit, buildDate string) http.Handler {
	body := versionResponse{
		Service:   "corkboard",
		Version:   fallback(version, "dev"),
		GitCommit: fallback(gitCommit, "unknown"),
		BuildDate: fallback(buildDate, "unknown"),
		GoVersion: runtime.Version(),
	}
	payload, _ := json.Marshal(body)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
