package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/drafterd/drafter/internal/engine"
)

// workItemCallback is the engine's push notification for a finished work
// item.
type workItemCallback struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ReportURL string `json:"reportUrl,omitempty"`
}

func (s *Server) handleWorkItemCallback(w http.ResponseWriter, r *http.Request) {
	var cb workItemCallback
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if cb.ID == "" || cb.Status == "" {
		s.writeError(w, http.StatusBadRequest, "id and status are required")
		return
	}

	err := s.engine.ResolveCallback(cb.ID, cb.Status, cb.ReportURL)
	if errors.Is(err, engine.ErrUnknownWorkItem) {
		// Likely a notification for a job a previous process submitted.
		// Log and acknowledge so the engine does not keep retrying.
		s.logger.Warn("callback for untracked work item", "work_item_id", cb.ID)
		s.writeJSON(w, http.StatusOK, map[string]bool{"tracked": false})
		return
	}
	if err != nil {
		s.logger.Error("resolve callback", "work_item_id", cb.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve callback")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"tracked": true})
}
