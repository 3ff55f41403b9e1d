package api

import (
	"net/http"
	"time"

	"orderbatch/internal/buildinfo"
)

// DebugJSON handles GET /debug/info: build metadata and the non-secret settings.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.cfg.Redacted(),
	}
	writeJSON(w, http.StatusOK, info)
}
