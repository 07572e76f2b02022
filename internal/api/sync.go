package api

import (
	"net/http"
	"path/filepath"
	"strconv"
)

// SyncResponse is returned by POST /api/v1/sync.
type SyncResponse struct {
	Status string   `json:"status"`
	Force  bool     `json:"force"`
	Files  []string `json:"files,omitempty"`
}

// handleSync enqueues a pass and returns 202 Accepted.
//
// Query parameters:
//   - force: "true" republishes every located device
//   - file: snapshot file name (e.g. Items.data); repeatable; default all
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	force := false
	if raw := q.Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "force must be true or false")
			return
		}
		force = v
	}

	var paths []string
	if names := q["file"]; len(names) > 0 {
		byName := make(map[string]string)
		for _, p := range s.bridge.Files() {
			byName[filepath.Base(p)] = p
		}
		for _, name := range names {
			p, ok := byName[name]
			if !ok {
				writeBadRequest(w, "unknown snapshot file: "+name)
				return
			}
			paths = append(paths, p)
		}
	}

	s.bridge.Trigger(force, paths...)
	s.logger.Info("sync requested", "force", force, "files", len(paths))

	writeJSON(w, http.StatusAccepted, SyncResponse{
		Status: "accepted",
		Force:  force,
		Files:  q["file"],
	})
}
