package api

import "net/http"

// templateInfo is the caller-facing view of one catalogue template.
type templateInfo struct {
	Name        string   `json:"name"`
	Engine      string   `json:"engine"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	Shared      bool     `json:"shared,omitempty"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := s.engine.Catalogue().List()
	out := make([]templateInfo, 0, len(templates))
	for _, t := range templates {
		out = append(out, templateInfo{
			Name:        t.Name,
			Engine:      t.Engine,
			Description: t.Description,
			Required:    t.Required,
			Shared:      t.Shared,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (s *Server) handleInitializeTemplates(w http.ResponseWriter, r *http.Request) {
	report := s.boot.InitializeAll(r.Context())
	status := http.StatusOK
	if len(report.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleDeleteTemplates(w http.ResponseWriter, r *http.Request) {
	allowShared := r.URL.Query().Get("allowDeleteShared") == "true"

	report := s.boot.ClearAll(r.Context(), allowShared)
	status := http.StatusOK
	if len(report.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, report)
}
